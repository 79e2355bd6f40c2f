package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/capture"
)

// MockTranscriber is a deterministic in-process backend for tests and local
// development. Speech-bearing windows emit scripted phrases in order; silent
// windows emit nothing.
type MockTranscriber struct {
	logger *logrus.Logger

	// Script is the sequence of phrases emitted for speech windows
	Script []string

	// SpeechThreshold is the RMS level above which a window counts as speech
	SpeechThreshold float64

	// FailNext makes the next N Transcribe calls fail, for failure-path tests
	FailNext int

	mu     sync.Mutex
	loaded bool
	cursor int
}

// NewMockTranscriber creates a mock backend with a default script
func NewMockTranscriber(logger *logrus.Logger) *MockTranscriber {
	return &MockTranscriber{
		logger: logger,
		Script: []string{
			"hello everyone thanks for joining",
			"let us walk through the agenda",
			"any questions before we move on",
			"great let us wrap up here",
		},
		SpeechThreshold: 0.05,
	}
}

// Name returns the backend identifier
func (m *MockTranscriber) Name() string { return "mock" }

// Load marks the mock model ready. Idempotent.
func (m *MockTranscriber) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = true
	return nil
}

// Loaded reports model readiness
func (m *MockTranscriber) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// RequiredSampleRate returns the rate the mock accepts
func (m *MockTranscriber) RequiredSampleRate() int { return 16000 }

// Transcribe emits the next scripted phrase for a speech-bearing window
func (m *MockTranscriber) Transcribe(ctx context.Context, buf *capture.AudioBuffer) ([]TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return nil, ErrModelNotLoaded
	}
	if m.FailNext > 0 {
		m.FailNext--
		return nil, ErrTranscriptionFailed
	}

	if buf.Level() < m.SpeechThreshold {
		return nil, nil
	}

	phrase := m.Script[m.cursor%len(m.Script)]
	m.cursor++

	return []TranscriptSegment{{
		Text:       phrase,
		Start:      buf.Timestamp,
		End:        buf.Timestamp.Add(buf.Duration()),
		Confidence: 0.95,
	}}, nil
}

// Close resets the mock
func (m *MockTranscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	m.cursor = 0
	return nil
}
