package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
	"meetrec-server/pkg/metrics"
)

// RetentionEntry schedules one artifact's audio for deletion. Only the audio
// is retired when the entry comes due; transcripts and meeting records are
// kept indefinitely.
type RetentionEntry struct {
	ArtifactID string    `json:"artifact_id"`
	SessionID  string    `json:"session_id"`
	RecordedAt time.Time `json:"recorded_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ScheduleStore persists the retention schedule as a JSON map keyed by
// artifact ID. Every mutation is written through atomically, so a crash
// never leaves a half-written schedule.
type ScheduleStore struct {
	logger  *logrus.Logger
	path    string
	entries map[string]RetentionEntry
	mutex   sync.RWMutex
}

// OpenScheduleStore loads the schedule from path, starting empty when the
// file does not exist yet.
func OpenScheduleStore(logger *logrus.Logger, path string) (*ScheduleStore, error) {
	store := &ScheduleStore{
		logger:  logger,
		path:    path,
		entries: make(map[string]RetentionEntry),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageIO, "failed to read retention schedule").
			WithField("path", path)
	}

	if err := json.Unmarshal(data, &store.entries); err != nil {
		return nil, errors.Wrap(errors.ErrStorageIO, "retention schedule is corrupt").
			WithField("path", path)
	}

	logger.WithFields(logrus.Fields{
		"path":    path,
		"entries": len(store.entries),
	}).Debug("Loaded retention schedule")
	return store, nil
}

// Put adds or replaces the schedule entry for an artifact
func (s *ScheduleStore) Put(entry RetentionEntry) error {
	if entry.ArtifactID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "retention entry has no artifact ID")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries[entry.ArtifactID] = entry
	return s.persistLocked()
}

// Get returns the entry for an artifact
func (s *ScheduleStore) Get(artifactID string) (RetentionEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, ok := s.entries[artifactID]
	if !ok {
		return RetentionEntry{}, errors.Wrap(errors.ErrScheduleNotFound, "no retention entry").
			WithField("artifact_id", artifactID)
	}
	return entry, nil
}

// Remove deletes the entry for an artifact. Removing a missing entry is not
// an error.
func (s *ScheduleStore) Remove(artifactID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.entries[artifactID]; !ok {
		return nil
	}
	delete(s.entries, artifactID)
	return s.persistLocked()
}

// DueBefore returns entries whose expiry is at or before the given time,
// oldest first.
func (s *ScheduleStore) DueBefore(t time.Time) []RetentionEntry {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var due []RetentionEntry
	for _, entry := range s.entries {
		if !entry.ExpiresAt.After(t) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ExpiresAt.Before(due[j].ExpiresAt)
	})
	return due
}

// Contains reports whether an artifact has a schedule entry
func (s *ScheduleStore) Contains(artifactID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.entries[artifactID]
	return ok
}

// Len returns the number of schedule entries
func (s *ScheduleStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.entries)
}

func (s *ScheduleStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to create schedule directory").
			WithField("path", s.path)
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to encode retention schedule")
	}

	if err := atomicWrite(s.path, data); err != nil {
		return err
	}

	if metrics.ScheduledDeletions != nil {
		metrics.ScheduledDeletions.Set(float64(len(s.entries)))
	}
	return nil
}
