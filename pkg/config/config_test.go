package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	logger := logrus.New()

	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, 16000, cfg.Capture.SampleRate)
	assert.Equal(t, 1, cfg.Capture.Channels)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.WindowDuration)
	assert.Equal(t, "local-small", cfg.Transcription.DefaultBackend)
	assert.Equal(t, []string{"local-large"}, cfg.Transcription.FallbackBackends)
	assert.Equal(t, 0.7, cfg.Diarization.MatchThreshold)
	assert.Equal(t, 4, cfg.Assignment.GroupThreshold)
	assert.Equal(t, 0.7, cfg.Assignment.GroupOverlap)
	assert.Equal(t, 30, cfg.Retention.DefaultDays)
	assert.Equal(t, 32, cfg.Retention.CompressBitrateKbps)
}

func TestLoadEnvOverrides(t *testing.T) {
	logger := logrus.New()

	t.Setenv("CAPTURE_SAMPLE_RATE", "8000")
	t.Setenv("STT_DEFAULT_BACKEND", "local-large")
	t.Setenv("STT_FALLBACK_BACKENDS", "local-small, remote")
	t.Setenv("DIARIZATION_MATCH_THRESHOLD", "0.85")
	t.Setenv("RETENTION_DEFAULT_DAYS", "7")
	t.Setenv("QUALITY_SAMPLE_INTERVAL", "2s")

	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Capture.SampleRate)
	assert.Equal(t, "local-large", cfg.Transcription.DefaultBackend)
	assert.Equal(t, []string{"local-small", "remote"}, cfg.Transcription.FallbackBackends)
	assert.Equal(t, 0.85, cfg.Diarization.MatchThreshold)
	assert.Equal(t, 7, cfg.Retention.DefaultDays)
	assert.Equal(t, 2*time.Second, cfg.Quality.SampleInterval)
}

func TestLoadInvalidEnvFallsBackToDefault(t *testing.T) {
	logger := logrus.New()

	t.Setenv("CAPTURE_QUEUE_DEPTH", "not-a-number")
	t.Setenv("QUALITY_SAMPLE_INTERVAL", "soon")
	t.Setenv("DIARIZATION_ENABLED", "maybe")

	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Capture.QueueDepth)
	assert.Equal(t, 5*time.Second, cfg.Quality.SampleInterval)
	assert.True(t, cfg.Diarization.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	logger := logrus.New()

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero sample rate", "CAPTURE_SAMPLE_RATE", "0"},
		{"stereo capture", "CAPTURE_CHANNELS", "2"},
		{"window too small", "CAPTURE_WINDOW_DURATION", "10ms"},
		{"window too large", "CAPTURE_WINDOW_DURATION", "5s"},
		{"threshold above one", "DIARIZATION_MATCH_THRESHOLD", "1.5"},
		{"group threshold too low", "ASSIGN_GROUP_THRESHOLD", "1"},
		{"negative retention", "RETENTION_DEFAULT_DAYS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(logger)
			assert.Error(t, err)
		})
	}
}

func TestSetupLogger(t *testing.T) {
	logger := logrus.New()
	cfg := &Config{Logging: LoggingConfig{Level: "debug", Format: "json"}}

	cfg.SetupLogger(logger)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
