package diarize

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/errors"
)

// Attribution is the result of identifying the speaker for one audio window
type Attribution struct {
	ProfileID  string
	Confidence float64
	NewSpeaker bool
}

// IdentifierConfig controls window gating for speaker identification
type IdentifierConfig struct {
	// MinLevel is the RMS level below which a window is treated as
	// non-speech and skipped
	MinLevel float64
}

// DefaultIdentifierConfig returns the standard gating parameters
func DefaultIdentifierConfig() IdentifierConfig {
	return IdentifierConfig{MinLevel: 0.02}
}

// Identifier attributes audio windows to speaker profiles. Failures are
// non-fatal: the session continues without attribution, and the failure
// count feeds the quality monitor.
type Identifier struct {
	logger   *logrus.Logger
	config   IdentifierConfig
	embedder SpeakerEmbedder
	store    *ProfileStore
	failures int64
}

// NewIdentifier creates an identifier over the given embedder and store
func NewIdentifier(logger *logrus.Logger, config IdentifierConfig, embedder SpeakerEmbedder, store *ProfileStore) *Identifier {
	if config.MinLevel <= 0 {
		config.MinLevel = 0.02
	}
	return &Identifier{
		logger:   logger,
		config:   config,
		embedder: embedder,
		store:    store,
	}
}

// Identify returns the speaker attribution for a window, or nil when the
// window carries no speech. Extraction failures increment the failure count
// and return an error the caller is expected to log and move past.
func (i *Identifier) Identify(buf *capture.AudioBuffer) (*Attribution, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidAudioData, "empty buffer for identification")
	}

	if buf.Level() < i.config.MinLevel {
		return nil, nil
	}

	embedding, err := i.embedder.Extract(buf)
	if err != nil {
		atomic.AddInt64(&i.failures, 1)
		return nil, errors.Wrap(errors.ErrDiarizationUnavailable, "embedding extraction failed").
			WithField("cause", err.Error())
	}

	profile, confidence, created := i.store.Observe(embedding, buf.Timestamp)

	i.logger.WithFields(logrus.Fields{
		"profile_id": profile.ID,
		"confidence": confidence,
		"new":        created,
	}).Debug("Attributed audio window to speaker")

	return &Attribution{
		ProfileID:  profile.ID,
		Confidence: confidence,
		NewSpeaker: created,
	}, nil
}

// FailureCount returns the number of embedding extraction failures so far
func (i *Identifier) FailureCount() int64 {
	return atomic.LoadInt64(&i.failures)
}

// Store returns the underlying profile store
func (i *Identifier) Store() *ProfileStore {
	return i.store
}
