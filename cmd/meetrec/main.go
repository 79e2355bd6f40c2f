package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/assign"
	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/config"
	"meetrec-server/pkg/diarize"
	"meetrec-server/pkg/messaging"
	"meetrec-server/pkg/metrics"
	"meetrec-server/pkg/realtime"
	"meetrec-server/pkg/session"
	"meetrec-server/pkg/storage"
	"meetrec-server/pkg/stt"
	"meetrec-server/pkg/summarize"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	manager   *session.Manager
	hub       *realtime.Hub
	publisher *messaging.RecordPublisher
	artifacts *storage.ArtifactStore
	schedule  *storage.ScheduleStore
	sweeper   *storage.Sweeper

	registry   *stt.Registry
	identifier *diarize.Identifier
	summarizer summarize.Summarizer
	assigner   *assign.Engine

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	var err error
	appConfig, err = config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	appConfig.SetupLogger(logger)

	metrics.Init(logger)

	if err := initComponents(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize components")
	}

	go hub.Run(rootCtx)
	go sweeper.Run(rootCtx)

	httpServer := startHTTPServer()

	logger.WithFields(logrus.Fields{
		"listen":  appConfig.HTTP.ListenAddr,
		"backend": appConfig.Transcription.DefaultBackend,
	}).Info("Meeting recorder started")

	waitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Active recordings finish cleanly before anything else goes away.
	manager.StopAll(shutdownCtx)
	publisher.Disconnect()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	rootCancel()

	logger.Info("Meeting recorder stopped")
}

func initComponents() error {
	manager = session.NewManager(logger)
	hub = realtime.NewHub(logger)

	artifacts = storage.NewArtifactStore(logger, appConfig.Retention.ArtifactDir)

	var err error
	schedule, err = storage.OpenScheduleStore(logger, appConfig.Retention.SchedulePath)
	if err != nil {
		return err
	}

	publisher = messaging.NewRecordPublisher(logger, messaging.PublisherConfig{
		URL:       appConfig.Messaging.AMQPUrl,
		QueueName: appConfig.Messaging.AMQPQueueName,
	})
	if err := publisher.Connect(); err != nil {
		// The record store is optional infrastructure: keep recording.
		logger.WithError(err).Warn("Record store unavailable, records will not be published")
	}

	compressor := storage.NewCompressor(logger, storage.CompressorConfig{
		FFmpegPath:  appConfig.Retention.FFmpegPath,
		BitrateKbps: appConfig.Retention.CompressBitrateKbps,
		Format:      appConfig.Retention.CompressFormat,
		SampleRate:  appConfig.Capture.SampleRate,
	}, artifacts)

	// The publisher doubles as the sweep's record-store notifier so
	// retention deletions clear audio references on published records.
	sweeper = storage.NewSweeper(logger, storage.SweeperConfig{
		Interval:  appConfig.Retention.SweepInterval,
		OrphanAge: appConfig.Retention.OrphanAge,
	}, artifacts, schedule, compressor, publisher)

	registry = buildRegistry()

	if appConfig.Diarization.Enabled {
		store := diarize.NewProfileStore(logger, diarize.ProfileStoreConfig{
			MatchThreshold:  appConfig.Diarization.MatchThreshold,
			MaxUpdateWeight: appConfig.Diarization.MaxUpdateWeight,
		})
		identifier = diarize.NewIdentifier(logger, diarize.DefaultIdentifierConfig(),
			diarize.NewSpectralEmbedder(appConfig.Diarization.EmbeddingSize), store)
	}

	summarizer = summarize.NewExtractiveSummarizer(logger, 3)

	directory, err := assign.OpenFileDirectory(logger, appConfig.Assignment.DirectoryPath)
	if err != nil {
		return err
	}
	assigner = assign.NewEngine(logger, assign.EngineConfig{
		GroupThreshold:   appConfig.Assignment.GroupThreshold,
		OverlapThreshold: appConfig.Assignment.GroupOverlap,
	}, directory)
	return nil
}

// buildRegistry wires the configured transcription backends
func buildRegistry() *stt.Registry {
	registry := stt.NewRegistry(logger,
		appConfig.Transcription.DefaultBackend,
		appConfig.Transcription.FallbackBackends)

	registry.Register(stt.NewLocalModelTranscriber(logger, stt.LocalModelConfig{
		Name:       "local-small",
		BinaryPath: appConfig.Transcription.LocalBinary,
		ModelPath:  filepath.Join(appConfig.Transcription.ModelDir, "small.bin"),
		SampleRate: 16000,
	}))
	registry.Register(stt.NewLocalModelTranscriber(logger, stt.LocalModelConfig{
		Name:       "local-large",
		BinaryPath: appConfig.Transcription.LocalBinary,
		ModelPath:  filepath.Join(appConfig.Transcription.ModelDir, "large.bin"),
		SampleRate: 16000,
	}))
	if appConfig.Transcription.RemoteURL != "" {
		registry.Register(stt.NewRemoteTranscriber(logger, stt.RemoteConfig{
			URL:        appConfig.Transcription.RemoteURL,
			SampleRate: 16000,
		}))
	}
	registry.Register(stt.NewMockTranscriber(logger))
	return registry
}

func startHTTPServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle(appConfig.HTTP.MetricsPath, metrics.Handler())
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/live", hub.ServeWs)
	mux.HandleFunc("/api/sessions/start", handleStartSession)
	mux.HandleFunc("/api/sessions/stop", handleStopSession)
	mux.HandleFunc("/api/sessions/active", handleActiveSession)

	server := &http.Server{
		Addr:    appConfig.HTTP.ListenAddr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()
	return server
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": manager.Count(),
	})
}

// startRequest is the body of POST /api/sessions/start
type startRequest struct {
	Title   string          `json:"title"`
	Meeting *assign.Meeting `json:"meeting,omitempty"`
}

func handleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sessionConfig := session.DefaultConfig()
	sessionConfig.Title = req.Title
	sessionConfig.Meeting = req.Meeting
	sessionConfig.RetentionDays = appConfig.Retention.DefaultDays
	sessionConfig.Mixer = capture.MixerConfig{
		SampleRate:        appConfig.Capture.SampleRate,
		QueueDepth:        appConfig.Capture.QueueDepth,
		LockstepTolerance: appConfig.Capture.LockstepTolerance,
	}
	sessionConfig.Engine = stt.EngineConfig{
		FailureThreshold: appConfig.Transcription.FailureThreshold,
		SettleDelay:      appConfig.Transcription.SettleDelay,
		Workers:          appConfig.Transcription.Workers,
	}
	sessionConfig.QualityInterval = appConfig.Quality.SampleInterval

	mic := newDeviceSource(appConfig.Capture.MicDevice, capture.SourceMic)
	var system capture.CaptureSource
	if appConfig.Capture.SystemDevice != "" {
		system = newDeviceSource(appConfig.Capture.SystemDevice, capture.SourceSystem)
	}

	s, err := manager.Start(r.Context(), sessionConfig, mic, system, session.Components{
		Registry:   registry,
		Identifier: identifier,
		Hub:        hub,
		Publisher:  publisher,
		Artifacts:  artifacts,
		Schedule:   schedule,
		Summarizer: summarizer,
		Assigner:   assigner,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to start recording session")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"session_id": s.ID(),
		"state":      s.State().String(),
	})
}

func handleStopSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := manager.Active()
	if active == nil {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := manager.Stop(ctx, active.ID()); err != nil {
		logger.WithError(err).Error("Failed to stop recording session")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(active.Record())
}

func handleActiveSession(w http.ResponseWriter, r *http.Request) {
	active := manager.Active()
	if active == nil {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}

	stats := active.MixerStats()
	report := active.Quality()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_id":       active.ID(),
		"state":            active.State().String(),
		"quality":          report,
		"buffers_mixed":    stats.BuffersMixed,
		"dropped_frames":   stats.DroppedFrames,
		"audio_level":      stats.AverageLevel,
		"system_available": stats.SystemAvailable,
	})
}

// newDeviceSource builds an ffmpeg capture source for the host OS
func newDeviceSource(device string, tag capture.SourceTag) capture.CaptureSource {
	return capture.NewDeviceSource(logger, capture.DeviceSourceConfig{
		Device:      device,
		InputFormat: captureInputFormat(),
		FFmpegPath:  appConfig.Retention.FFmpegPath,
		SampleRate:  appConfig.Capture.SampleRate,
		Window:      appConfig.Capture.WindowDuration,
	}, tag)
}

// captureInputFormat picks the ffmpeg demuxer for the host platform
func captureInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")
}
