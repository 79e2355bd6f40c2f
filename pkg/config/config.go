package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	Capture       CaptureConfig       `json:"capture"`
	Transcription TranscriptionConfig `json:"transcription"`
	Diarization   DiarizationConfig   `json:"diarization"`
	Quality       QualityConfig       `json:"quality"`
	Assignment    AssignmentConfig    `json:"assignment"`
	Retention     RetentionConfig     `json:"retention"`
	Messaging     MessagingConfig     `json:"messaging"`
	Realtime      RealtimeConfig      `json:"realtime"`
	HTTP          HTTPConfig          `json:"http"`
	Logging       LoggingConfig       `json:"logging"`
}

// CaptureConfig holds audio capture and mixing configuration
type CaptureConfig struct {
	// Device selectors. Empty system device means mic-only capture.
	MicDevice    string `json:"mic_device" env:"CAPTURE_MIC_DEVICE"`
	SystemDevice string `json:"system_device" env:"CAPTURE_SYSTEM_DEVICE"`

	// Target format for the mixed stream
	SampleRate int `json:"sample_rate" env:"CAPTURE_SAMPLE_RATE"`
	Channels   int `json:"channels" env:"CAPTURE_CHANNELS"`

	// Buffer window handed between pipeline stages
	WindowDuration time.Duration `json:"window_duration" env:"CAPTURE_WINDOW_DURATION"`

	// Bounded queue depth per stage; oldest buffers drop beyond it
	QueueDepth int `json:"queue_depth" env:"CAPTURE_QUEUE_DEPTH"`

	// How long the mixer waits for a lagging source before proceeding
	LockstepTolerance time.Duration `json:"lockstep_tolerance" env:"CAPTURE_LOCKSTEP_TOLERANCE"`
}

// TranscriptionConfig holds streaming transcription engine configuration
type TranscriptionConfig struct {
	// DefaultBackend selects the Transcriber used first
	DefaultBackend string `json:"default_backend" env:"STT_DEFAULT_BACKEND"`

	// FallbackBackends are tried in order after repeated failures
	FallbackBackends []string `json:"fallback_backends" env:"STT_FALLBACK_BACKENDS"`

	// FailureThreshold is the consecutive-failure count that triggers fallback
	FailureThreshold int `json:"failure_threshold" env:"STT_FAILURE_THRESHOLD"`

	// SettleDelay before a volatile segment is finalized
	SettleDelay time.Duration `json:"settle_delay" env:"STT_SETTLE_DELAY"`

	// Workers sizes the inference worker pool
	Workers int `json:"workers" env:"STT_WORKERS"`

	// RemoteURL is the websocket endpoint for the remote fallback backend
	RemoteURL string `json:"remote_url" env:"STT_REMOTE_URL"`

	// LocalBinary is the local inference CLI used by on-device backends
	LocalBinary string `json:"local_binary" env:"STT_LOCAL_BINARY"`

	// ModelDir holds the on-device model files
	ModelDir string `json:"model_dir" env:"STT_MODEL_DIR"`
}

// DiarizationConfig holds speaker identification configuration
type DiarizationConfig struct {
	Enabled bool `json:"enabled" env:"DIARIZATION_ENABLED"`

	// MatchThreshold is the minimum cosine similarity for a profile match
	MatchThreshold float64 `json:"match_threshold" env:"DIARIZATION_MATCH_THRESHOLD"`

	// MaxUpdateWeight caps how strongly one sample can move a profile embedding
	MaxUpdateWeight float64 `json:"max_update_weight" env:"DIARIZATION_MAX_UPDATE_WEIGHT"`

	// EmbeddingSize is the fingerprint vector length
	EmbeddingSize int `json:"embedding_size" env:"DIARIZATION_EMBEDDING_SIZE"`
}

// QualityConfig holds recording quality monitor configuration. Issue
// thresholds are fixed in the quality package so statuses stay comparable
// across installs; only the sampling cadence is tunable.
type QualityConfig struct {
	SampleInterval time.Duration `json:"sample_interval" env:"QUALITY_SAMPLE_INTERVAL"`
}

// AssignmentConfig holds meeting assignment engine configuration
type AssignmentConfig struct {
	// GroupThreshold: attendee counts above it classify as group
	GroupThreshold int `json:"group_threshold" env:"ASSIGN_GROUP_THRESHOLD"`

	// GroupOverlap: minimum attendee-name overlap to reuse an existing group
	GroupOverlap float64 `json:"group_overlap" env:"ASSIGN_GROUP_OVERLAP"`

	// DirectoryPath is the JSON file backing the people/group directory
	DirectoryPath string `json:"directory_path" env:"ASSIGN_DIRECTORY_PATH"`
}

// RetentionConfig holds audio retention and storage configuration
type RetentionConfig struct {
	// ArtifactDir is the filesystem root of the audio artifact store
	ArtifactDir string `json:"artifact_dir" env:"RETENTION_ARTIFACT_DIR"`

	// SchedulePath is where the retention schedule map persists
	SchedulePath string `json:"schedule_path" env:"RETENTION_SCHEDULE_PATH"`

	// DefaultDays until scheduled audio deletion
	DefaultDays int `json:"default_days" env:"RETENTION_DEFAULT_DAYS"`

	// SweepInterval between retention sweeps
	SweepInterval time.Duration `json:"sweep_interval" env:"RETENTION_SWEEP_INTERVAL"`

	// OrphanAge after which unscheduled audio files are reclaimed
	OrphanAge time.Duration `json:"orphan_age" env:"RETENTION_ORPHAN_AGE"`

	// Compression settings for the archived artifact
	CompressBitrateKbps int    `json:"compress_bitrate_kbps" env:"RETENTION_COMPRESS_BITRATE_KBPS"`
	CompressFormat      string `json:"compress_format" env:"RETENTION_COMPRESS_FORMAT"`
	FFmpegPath          string `json:"ffmpeg_path" env:"RETENTION_FFMPEG_PATH"`
}

// MessagingConfig holds AMQP record-store publishing configuration
type MessagingConfig struct {
	AMQPUrl       string `json:"amqp_url" env:"AMQP_URL"`
	AMQPQueueName string `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME"`
}

// RealtimeConfig holds live transcript streaming configuration
type RealtimeConfig struct {
	Enabled bool `json:"enabled" env:"REALTIME_ENABLED"`
}

// HTTPConfig holds the metrics/health HTTP server configuration
type HTTPConfig struct {
	ListenAddr  string `json:"listen_addr" env:"HTTP_LISTEN_ADDR"`
	MetricsPath string `json:"metrics_path" env:"HTTP_METRICS_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"`
}

// Load reads configuration from the environment, honoring a .env file when present.
func Load(logger *logrus.Logger) (*Config, error) {
	if _, statErr := os.Stat(".env"); statErr == nil {
		if err := godotenv.Load(); err != nil {
			logger.WithError(err).Warn("Failed to load .env file, using environment variables only")
		} else {
			abs, _ := filepath.Abs(".env")
			logger.WithField("path", abs).Info("Loaded .env file")
		}
	}

	config := &Config{
		Capture: CaptureConfig{
			MicDevice:         getEnv("CAPTURE_MIC_DEVICE", "default"),
			SystemDevice:      getEnv("CAPTURE_SYSTEM_DEVICE", ""),
			SampleRate:        getEnvInt("CAPTURE_SAMPLE_RATE", 16000),
			Channels:          getEnvInt("CAPTURE_CHANNELS", 1),
			WindowDuration:    getEnvDuration("CAPTURE_WINDOW_DURATION", 500*time.Millisecond),
			QueueDepth:        getEnvInt("CAPTURE_QUEUE_DEPTH", 32),
			LockstepTolerance: getEnvDuration("CAPTURE_LOCKSTEP_TOLERANCE", 250*time.Millisecond),
		},
		Transcription: TranscriptionConfig{
			DefaultBackend:   getEnv("STT_DEFAULT_BACKEND", "local-small"),
			FallbackBackends: getEnvList("STT_FALLBACK_BACKENDS", []string{"local-large"}),
			FailureThreshold: getEnvInt("STT_FAILURE_THRESHOLD", 3),
			SettleDelay:      getEnvDuration("STT_SETTLE_DELAY", 2*time.Second),
			Workers:          getEnvInt("STT_WORKERS", 2),
			RemoteURL:        getEnv("STT_REMOTE_URL", ""),
			LocalBinary:      getEnv("STT_LOCAL_BINARY", "whisper-cli"),
			ModelDir:         getEnv("STT_MODEL_DIR", "./models"),
		},
		Diarization: DiarizationConfig{
			Enabled:         getEnvBool("DIARIZATION_ENABLED", true),
			MatchThreshold:  getEnvFloat("DIARIZATION_MATCH_THRESHOLD", 0.7),
			MaxUpdateWeight: getEnvFloat("DIARIZATION_MAX_UPDATE_WEIGHT", 0.25),
			EmbeddingSize:   getEnvInt("DIARIZATION_EMBEDDING_SIZE", 64),
		},
		Quality: QualityConfig{
			SampleInterval: getEnvDuration("QUALITY_SAMPLE_INTERVAL", 5*time.Second),
		},
		Assignment: AssignmentConfig{
			GroupThreshold: getEnvInt("ASSIGN_GROUP_THRESHOLD", 4),
			GroupOverlap:   getEnvFloat("ASSIGN_GROUP_OVERLAP", 0.7),
			DirectoryPath:  getEnv("ASSIGN_DIRECTORY_PATH", "./recordings/directory.json"),
		},
		Retention: RetentionConfig{
			ArtifactDir:         getEnv("RETENTION_ARTIFACT_DIR", "./recordings"),
			SchedulePath:        getEnv("RETENTION_SCHEDULE_PATH", "./recordings/retention-schedule.json"),
			DefaultDays:         getEnvInt("RETENTION_DEFAULT_DAYS", 30),
			SweepInterval:       getEnvDuration("RETENTION_SWEEP_INTERVAL", 24*time.Hour),
			OrphanAge:           getEnvDuration("RETENTION_ORPHAN_AGE", 30*24*time.Hour),
			CompressBitrateKbps: getEnvInt("RETENTION_COMPRESS_BITRATE_KBPS", 32),
			CompressFormat:      getEnv("RETENTION_COMPRESS_FORMAT", "opus"),
			FFmpegPath:          getEnv("RETENTION_FFMPEG_PATH", "ffmpeg"),
		},
		Messaging: MessagingConfig{
			AMQPUrl:       getEnv("AMQP_URL", ""),
			AMQPQueueName: getEnv("AMQP_QUEUE_NAME", "meeting-records"),
		},
		Realtime: RealtimeConfig{
			Enabled: getEnvBool("REALTIME_ENABLED", true),
		},
		HTTP: HTTPConfig{
			ListenAddr:  getEnv("HTTP_LISTEN_ADDR", ":8080"),
			MetricsPath: getEnv("HTTP_METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks configuration consistency before the service starts.
func (c *Config) Validate() error {
	if c.Capture.SampleRate <= 0 {
		return errors.New("capture sample rate must be positive").
			WithField("sample_rate", c.Capture.SampleRate)
	}
	if c.Capture.Channels != 1 {
		return errors.New("only mono capture is supported").
			WithField("channels", c.Capture.Channels)
	}
	if c.Capture.WindowDuration < 100*time.Millisecond || c.Capture.WindowDuration > time.Second {
		return errors.New("capture window must be between 100ms and 1s").
			WithField("window", c.Capture.WindowDuration.String())
	}
	if c.Capture.QueueDepth <= 0 {
		return errors.New("capture queue depth must be positive").
			WithField("queue_depth", c.Capture.QueueDepth)
	}
	if c.Transcription.Workers <= 0 {
		return errors.New("transcription worker count must be positive").
			WithField("workers", c.Transcription.Workers)
	}
	if c.Diarization.MatchThreshold <= 0 || c.Diarization.MatchThreshold > 1 {
		return errors.New("diarization match threshold must be in (0, 1]").
			WithField("threshold", c.Diarization.MatchThreshold)
	}
	if c.Assignment.GroupThreshold < 2 {
		return errors.New("assignment group threshold must be at least 2").
			WithField("threshold", c.Assignment.GroupThreshold)
	}
	if c.Assignment.GroupOverlap <= 0 || c.Assignment.GroupOverlap > 1 {
		return errors.New("assignment group overlap must be in (0, 1]").
			WithField("overlap", c.Assignment.GroupOverlap)
	}
	if c.Retention.DefaultDays <= 0 {
		return errors.New("retention default days must be positive").
			WithField("days", c.Retention.DefaultDays)
	}
	return nil
}

// SetupLogger configures a logrus logger from the logging section.
func (c *Config) SetupLogger(logger *logrus.Logger) {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.Logging.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// Helper function to get a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

// Helper function to get a comma-separated list environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}
