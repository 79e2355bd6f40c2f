package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/metrics"
)

// SweeperConfig controls the retention sweep cadence and orphan handling
type SweeperConfig struct {
	// Interval between sweep passes
	Interval time.Duration

	// OrphanAge after which an artifact with no schedule entry is
	// reclaimed
	OrphanAge time.Duration
}

// DefaultSweeperConfig returns the standard daily sweep
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:  24 * time.Hour,
		OrphanAge: 30 * 24 * time.Hour,
	}
}

// SweepResult summarizes one sweep pass
type SweepResult struct {
	Expired    int
	Orphans    int
	Compressed int
}

// RecordNotifier tells the record store that a session's audio has been
// deleted so the record can drop its audio reference while the transcript
// and summary live on.
type RecordNotifier interface {
	PublishAudioCleared(sessionID, artifactID string) error
}

// Sweeper runs the periodic retention pass: due audio is deleted (and the
// record store told its audio reference is gone), unscheduled artifacts and
// abandoned temp captures past the orphan age are reclaimed, and any
// remaining raw captures are compressed.
type Sweeper struct {
	logger     *logrus.Logger
	config     SweeperConfig
	artifacts  *ArtifactStore
	schedule   *ScheduleStore
	compressor *Compressor
	notifier   RecordNotifier
}

// NewSweeper creates a sweeper over the given stores. The compressor and
// notifier may be nil to disable compression and record-store notification.
func NewSweeper(logger *logrus.Logger, config SweeperConfig, artifacts *ArtifactStore, schedule *ScheduleStore, compressor *Compressor, notifier RecordNotifier) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.OrphanAge <= 0 {
		config.OrphanAge = 30 * 24 * time.Hour
	}
	return &Sweeper{
		logger:     logger,
		config:     config,
		artifacts:  artifacts,
		schedule:   schedule,
		compressor: compressor,
		notifier:   notifier,
	}
}

// Run sweeps once immediately, then on the configured interval until the
// context is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx, time.Now())

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		}
	}
}

// Sweep performs one retention pass at the given time
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) SweepResult {
	var result SweepResult

	// Expired audio: delete the file first, clear the entry only once the
	// delete succeeded so a failed delete is retried next pass.
	for _, entry := range s.schedule.DueBefore(now) {
		if err := s.artifacts.Delete(entry.ArtifactID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"artifact_id": entry.ArtifactID,
				"error":       err,
			}).Warn("Failed to delete expired artifact, will retry next sweep")
			continue
		}
		if err := s.schedule.Remove(entry.ArtifactID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"artifact_id": entry.ArtifactID,
				"error":       err,
			}).Warn("Failed to clear retention entry")
			continue
		}
		if s.notifier != nil {
			if err := s.notifier.PublishAudioCleared(entry.SessionID, entry.ArtifactID); err != nil {
				s.logger.WithFields(logrus.Fields{
					"session_id": entry.SessionID,
					"error":      err,
				}).Warn("Failed to notify record store of cleared audio")
			}
		}
		result.Expired++
		if metrics.ArtifactsDeleted != nil {
			metrics.ArtifactsDeleted.WithLabelValues("expired").Inc()
		}
	}

	// Orphans: artifacts nothing scheduled, old enough that no live
	// session can still own them.
	artifacts, err := s.artifacts.List()
	if err != nil {
		s.logger.WithField("error", err).Warn("Failed to list artifacts during sweep")
	}
	for _, artifact := range artifacts {
		if s.schedule.Contains(artifact.ID) {
			continue
		}
		if now.Sub(artifact.ModifiedAt) < s.config.OrphanAge {
			continue
		}
		if err := s.artifacts.Delete(artifact.ID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"artifact_id": artifact.ID,
				"error":       err,
			}).Warn("Failed to reclaim orphaned artifact")
			continue
		}
		result.Orphans++
		if metrics.ArtifactsDeleted != nil {
			metrics.ArtifactsDeleted.WithLabelValues("orphan").Inc()
		}
	}

	// Abandoned partial captures: temp files old enough that no live
	// session can still be writing them.
	reclaimed, err := s.artifacts.ReclaimTempRecordings(now, s.config.OrphanAge)
	if err != nil {
		s.logger.WithField("error", err).Warn("Failed to scan temp recordings during sweep")
	}
	result.Orphans += reclaimed
	if metrics.ArtifactsDeleted != nil && reclaimed > 0 {
		metrics.ArtifactsDeleted.WithLabelValues("orphan").Add(float64(reclaimed))
	}

	if s.compressor != nil {
		compressed, err := s.compressor.CompressBatch(ctx)
		if err != nil {
			s.logger.WithField("error", err).Warn("Compression batch interrupted during sweep")
		}
		result.Compressed = compressed
	}

	if metrics.RetentionSweeps != nil {
		metrics.RetentionSweeps.Inc()
	}

	s.logger.WithFields(logrus.Fields{
		"expired":    result.Expired,
		"orphans":    result.Orphans,
		"compressed": result.Compressed,
		"remaining":  s.schedule.Len(),
	}).Info("Retention sweep complete")
	return result
}
