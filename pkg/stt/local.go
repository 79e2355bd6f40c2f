package stt

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/errors"
	"meetrec-server/pkg/media"
)

// LocalModelConfig configures an on-device CLI model backend
type LocalModelConfig struct {
	// Name distinguishes model variants ("local-small", "local-large")
	Name string

	// BinaryPath points at a whisper.cpp-compatible CLI
	BinaryPath string

	// ModelPath is the model weights file
	ModelPath string

	// SampleRate the model expects
	SampleRate int

	// Language hint passed to the CLI, empty for auto-detect
	Language string

	// TempDir holds per-window WAV files handed to the CLI
	TempDir string
}

// localRunner invokes the model CLI; swapped out in tests
type localRunner func(ctx context.Context, binary string, args []string) (string, error)

// LocalModelTranscriber runs an on-device speech model through its CLI,
// feeding it one WAV file per buffer window and reading text from stdout.
// Two instances with different weights provide the small and large variants.
type LocalModelTranscriber struct {
	logger *logrus.Logger
	config LocalModelConfig
	runner localRunner

	mu     sync.Mutex
	loaded bool
}

// NewLocalModelTranscriber creates a CLI-backed local model backend
func NewLocalModelTranscriber(logger *logrus.Logger, config LocalModelConfig) *LocalModelTranscriber {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &LocalModelTranscriber{
		logger: logger,
		config: config,
		runner: runLocalModel,
	}
}

// Name returns the configured backend identifier
func (t *LocalModelTranscriber) Name() string { return t.config.Name }

// Load verifies the binary and model weights exist. Idempotent: a loaded
// backend returns immediately.
func (t *LocalModelTranscriber) Load(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded {
		return nil
	}

	if _, err := exec.LookPath(t.config.BinaryPath); err != nil {
		return errors.Wrap(err, "model binary not found").
			WithField("binary", t.config.BinaryPath)
	}
	if t.config.ModelPath != "" {
		if _, err := os.Stat(t.config.ModelPath); err != nil {
			return errors.Wrap(err, "model weights not found").
				WithField("model", t.config.ModelPath)
		}
	}

	t.loaded = true
	t.logger.WithFields(logrus.Fields{
		"backend": t.config.Name,
		"binary":  t.config.BinaryPath,
		"model":   t.config.ModelPath,
	}).Info("Local model backend ready")
	return nil
}

// Loaded reports model readiness
func (t *LocalModelTranscriber) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// RequiredSampleRate returns the model input rate
func (t *LocalModelTranscriber) RequiredSampleRate() int { return t.config.SampleRate }

// Transcribe writes the window to a temp WAV, runs the CLI, and parses the
// emitted text into a single segment spanning the window.
func (t *LocalModelTranscriber) Transcribe(ctx context.Context, buf *capture.AudioBuffer) ([]TranscriptSegment, error) {
	if !t.Loaded() {
		return nil, ErrModelNotLoaded
	}
	if buf == nil || len(buf.Samples) == 0 {
		return nil, ErrInvalidAudioData
	}

	wavPath := filepath.Join(t.config.TempDir, "win-"+uuid.NewString()+".wav")
	if err := os.WriteFile(wavPath, media.EncodeWAV(buf.Samples, buf.SampleRate), 0o600); err != nil {
		return nil, errors.Wrap(err, "failed to write window WAV")
	}
	defer os.Remove(wavPath)

	args := []string{
		"-m", t.config.ModelPath,
		"-f", wavPath,
		"--no-timestamps",
	}
	if t.config.Language != "" {
		args = append(args, "-l", t.config.Language)
	}

	output, err := t.runner(ctx, t.config.BinaryPath, args)
	if err != nil {
		return nil, errors.Wrap(ErrTranscriptionFailed, "model CLI failed").
			WithFields(map[string]interface{}{
				"backend": t.config.Name,
				"error":   err.Error(),
			})
	}

	text := strings.TrimSpace(output)
	if text == "" {
		// Silence: a window may legitimately carry no speech.
		return nil, nil
	}

	return []TranscriptSegment{{
		Text:       text,
		Start:      buf.Timestamp,
		End:        buf.Timestamp.Add(buf.Duration()),
		Confidence: 0.9,
	}}, nil
}

// Close releases the backend
func (t *LocalModelTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = false
	return nil
}

// runLocalModel executes the model CLI and returns its stdout
func runLocalModel(ctx context.Context, binary string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
