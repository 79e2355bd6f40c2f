package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Capture metrics
	BuffersMixed    *prometheus.CounterVec
	BuffersDropped  *prometheus.CounterVec
	AudioLevel      prometheus.Gauge
	CaptureSessions prometheus.Gauge

	// Transcription metrics
	TranscriptionLatency *prometheus.HistogramVec
	TranscriptionErrors  *prometheus.CounterVec
	WordsTranscribed     *prometheus.CounterVec
	SegmentsFinalized    *prometheus.CounterVec

	// Diarization metrics
	SpeakerMatches  *prometheus.CounterVec
	SpeakerProfiles prometheus.Gauge

	// Quality metrics
	QualityStatus prometheus.Gauge
	QualityIssues *prometheus.GaugeVec

	// Retention metrics
	RetentionSweeps     prometheus.Counter
	ArtifactsDeleted    *prometheus.CounterVec
	ArtifactsCompressed prometheus.Counter
	CompressionRatio    prometheus.Histogram
	ScheduledDeletions  prometheus.Gauge

	// Messaging metrics
	RecordsPublished  *prometheus.CounterVec
	AMQPConnectErrors prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		BuffersMixed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_buffers_mixed_total",
				Help: "Total number of mixed audio buffers produced",
			},
			[]string{"session_id"},
		)

		BuffersDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_buffers_dropped_total",
				Help: "Total number of audio buffers dropped under backpressure",
			},
			[]string{"session_id", "stage"},
		)

		AudioLevel = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meetrec_audio_level",
				Help: "Current average audio level of the mixed stream (0-1)",
			},
		)

		CaptureSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meetrec_capture_sessions_active",
				Help: "Number of active recording sessions",
			},
		)

		TranscriptionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetrec_transcription_latency_seconds",
				Help:    "Latency of transcribing one buffer window",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"backend"},
		)

		TranscriptionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_transcription_errors_total",
				Help: "Total number of transcription failures",
			},
			[]string{"backend", "reason"},
		)

		WordsTranscribed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_words_transcribed_total",
				Help: "Total number of words transcribed",
			},
			[]string{"backend"},
		)

		SegmentsFinalized = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_segments_finalized_total",
				Help: "Total number of finalized transcript segments",
			},
			[]string{"session_id"},
		)

		SpeakerMatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_speaker_matches_total",
				Help: "Speaker identification outcomes",
			},
			[]string{"outcome"},
		)

		SpeakerProfiles = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meetrec_speaker_profiles",
				Help: "Number of known speaker profiles",
			},
		)

		QualityStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meetrec_quality_status",
				Help: "Recording quality status (0=excellent, 1=good, 2=degraded, 3=critical)",
			},
		)

		QualityIssues = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meetrec_quality_issues",
				Help: "Active quality issues by kind (1=active)",
			},
			[]string{"kind", "severity"},
		)

		RetentionSweeps = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meetrec_retention_sweeps_total",
				Help: "Total number of retention sweep passes",
			},
		)

		ArtifactsDeleted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_artifacts_deleted_total",
				Help: "Total number of audio artifacts deleted",
			},
			[]string{"reason"},
		)

		ArtifactsCompressed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meetrec_artifacts_compressed_total",
				Help: "Total number of audio artifacts compressed",
			},
		)

		CompressionRatio = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meetrec_compression_ratio",
				Help:    "Compressed size divided by original size",
				Buckets: prometheus.LinearBuckets(0.05, 0.05, 10),
			},
		)

		ScheduledDeletions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meetrec_scheduled_deletions",
				Help: "Number of pending retention schedule entries",
			},
		)

		RecordsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetrec_records_published_total",
				Help: "Total number of meeting records published to the record store",
			},
			[]string{"outcome"},
		)

		AMQPConnectErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meetrec_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
		)

		registry.MustRegister(
			BuffersMixed,
			BuffersDropped,
			AudioLevel,
			CaptureSessions,
			TranscriptionLatency,
			TranscriptionErrors,
			WordsTranscribed,
			SegmentsFinalized,
			SpeakerMatches,
			SpeakerProfiles,
			QualityStatus,
			QualityIssues,
			RetentionSweeps,
			ArtifactsDeleted,
			ArtifactsCompressed,
			CompressionRatio,
			ScheduledDeletions,
			RecordsPublished,
			AMQPConnectErrors,
		)

		logger.Debug("Prometheus metrics initialized")
	})
}

// Handler returns the HTTP handler serving the metrics registry.
// Init must be called first.
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
