package session

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/assign"
	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/diarize"
	"meetrec-server/pkg/errors"
	"meetrec-server/pkg/media"
	"meetrec-server/pkg/messaging"
	"meetrec-server/pkg/metrics"
	"meetrec-server/pkg/quality"
	"meetrec-server/pkg/realtime"
	"meetrec-server/pkg/storage"
	"meetrec-server/pkg/stt"
	"meetrec-server/pkg/summarize"
)

// State models the session lifecycle
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateCompleted
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds per-session parameters
type Config struct {
	// Title of the recording, shown in records and group names
	Title string

	// Meeting is the optional calendar context used for assignment
	Meeting *assign.Meeting

	// RetentionDays until the audio artifact is scheduled for deletion
	RetentionDays int

	// SummaryBudgetWords truncates the transcript before summarization
	SummaryBudgetWords int

	// Mixer settings for the capture pipeline
	Mixer capture.MixerConfig

	// Engine settings for this session's transcription pipeline
	Engine stt.EngineConfig

	// QualityInterval between quality evaluations
	QualityInterval time.Duration
}

// DefaultConfig returns standard session parameters
func DefaultConfig() Config {
	return Config{
		RetentionDays:      30,
		SummaryBudgetWords: 4000,
		Mixer:              capture.DefaultMixerConfig(),
		Engine:             stt.DefaultEngineConfig(),
		QualityInterval:    5 * time.Second,
	}
}

// Components are the shared services a session records through. Identifier,
// Hub, Publisher, Summarizer, and Assigner may be nil; the session degrades
// gracefully without them.
type Components struct {
	Registry   *stt.Registry
	Identifier *diarize.Identifier
	Hub        *realtime.Hub
	Publisher  *messaging.RecordPublisher
	Artifacts  *storage.ArtifactStore
	Schedule   *storage.ScheduleStore
	Summarizer summarize.Summarizer
	Assigner   *assign.Engine
}

// Session is one meeting recording: capture, mixing, transcription,
// diarization, quality monitoring, and the final record hand-off.
type Session struct {
	logger *logrus.Logger
	config Config
	comps  Components

	id         string
	artifactID string

	mic    capture.CaptureSource
	system capture.CaptureSource
	mixer  *capture.Mixer

	// engine and assembler are per-session: transcripts never bleed
	// between recordings.
	engine    *stt.Engine
	assembler *stt.SegmentAssembler

	diarizeQueue *capture.BufferQueue
	sampler      *quality.Sampler

	wavFile *os.File
	wav     *media.WAVWriter

	state  int32
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	startedAt time.Time
	endedAt   time.Time
	record    *messaging.MeetingRecord
}

// New creates a session over the given capture sources. The system source
// may be nil for mic-only recording.
func New(logger *logrus.Logger, config Config, mic, system capture.CaptureSource, comps Components) *Session {
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}
	if config.QualityInterval <= 0 {
		config.QualityInterval = 5 * time.Second
	}
	if config.Engine.SettleDelay <= 0 {
		config.Engine.SettleDelay = 2 * time.Second
	}

	s := &Session{
		logger:     logger,
		config:     config,
		comps:      comps,
		id:         uuid.New().String(),
		artifactID: uuid.New().String(),
		mic:        mic,
		system:     system,
	}
	s.mixer = capture.NewMixer(logger, config.Mixer, s.id)
	s.assembler = stt.NewSegmentAssembler(s.id, config.Engine.SettleDelay)
	s.engine = stt.NewEngine(logger, config.Engine, comps.Registry, s.assembler)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(state State) {
	atomic.StoreInt32(&s.state, int32(state))
}

// Start loads the transcription model, begins capture, and wires the
// pipeline together. It returns once recording is underway.
func (s *Session) Start(ctx context.Context) error {
	if s.State() != StateIdle {
		return errors.Wrap(errors.ErrFailedPrecondition, "session already started").
			WithField("state", s.State().String())
	}

	// The model loads before any audio flows so the engine is never handed
	// buffers it cannot process.
	if err := s.engine.LoadModel(ctx); err != nil {
		s.setState(StateFailed)
		return err
	}

	wavFile, err := s.comps.Artifacts.TempRecording(s.id)
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	wav, err := media.NewWAVWriter(wavFile, s.config.Mixer.SampleRate, 1)
	if err != nil {
		wavFile.Close()
		os.Remove(wavFile.Name())
		s.setState(StateFailed)
		return err
	}
	s.wavFile = wavFile
	s.wav = wav

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	micStream, err := s.mic.Start(runCtx)
	if err != nil {
		cancel()
		s.cleanupPartial()
		s.setState(StateFailed)
		return errors.Wrap(errors.ErrCaptureDeviceUnavailable, "failed to start mic capture").
			WithField("device", s.mic.Name())
	}

	var systemStream <-chan *capture.AudioBuffer
	if s.system != nil {
		systemStream, err = s.system.Start(runCtx)
		if err != nil {
			// System audio is optional: degrade to mic-only.
			s.logger.WithError(err).WithField("device", s.system.Name()).
				Warn("System audio unavailable, recording mic-only")
			systemStream = nil
		}
	}

	if s.comps.Identifier != nil {
		s.diarizeQueue = capture.NewBufferQueue(s.config.Mixer.QueueDepth)
		s.mixer.SetTap(func(buf *capture.AudioBuffer) {
			s.diarizeQueue.Push(buf)
		})
	}

	if s.comps.Hub != nil {
		s.assembler.OnFinal(func(seg stt.TranscriptSegment) {
			s.comps.Hub.BroadcastSegment(s.id, realtime.SegmentPayload{
				Text:        seg.Text,
				SpeakerID:   seg.SpeakerID,
				Start:       seg.Start,
				End:         seg.End,
				IsFinal:     true,
				Placeholder: seg.Placeholder,
			})
		})
	}

	s.sampler = quality.NewSampler(s.logger, quality.SamplerConfig{Interval: s.config.QualityInterval}, s.qualityMetrics)
	if s.comps.Hub != nil {
		s.sampler.OnReport(func(report quality.Report) {
			issues := make([]string, len(report.Issues))
			for i, issue := range report.Issues {
				issues[i] = string(issue.Kind)
			}
			s.comps.Hub.BroadcastQuality(s.id, realtime.QualityPayload{
				Status: string(report.Status),
				Issues: issues,
			})
		})
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.setState(StateRecording)

	if metrics.CaptureSessions != nil {
		metrics.CaptureSessions.Inc()
	}

	engineIn := make(chan *capture.AudioBuffer, s.config.Mixer.QueueDepth)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.mixer.Run(runCtx, micStream, systemStream)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(engineIn)
		for buf := range s.mixer.Output().C() {
			if err := s.wav.WriteSamples(buf.Samples); err != nil {
				s.logger.WithError(err).Error("Failed to write recording to disk")
			}
			engineIn <- buf
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.engine.Run(runCtx, engineIn)
	}()

	if s.diarizeQueue != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.identifyLoop()
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sampler.Run(runCtx)
	}()

	// Losing the mic mid-session is fatal: the mixer run loop exits and
	// the session hard-stops, finalizing whatever was captured. Not part
	// of the pipeline waitgroup because Stop waits on that group.
	go func() {
		<-s.mixer.Done()
		if s.State() != StateRecording {
			return
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := s.Stop(stopCtx); err != nil {
			s.logger.WithError(err).Debug("Mixer exit raced with an explicit stop")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"mic":        s.mic.Name(),
		"system":     systemStream != nil,
	}).Info("Recording session started")
	return nil
}

// identifyLoop attributes tapped per-source buffers to speaker profiles.
// Failures are logged and skipped; diarization never interrupts recording.
func (s *Session) identifyLoop() {
	for buf := range s.diarizeQueue.C() {
		attribution, err := s.comps.Identifier.Identify(buf)
		if err != nil {
			s.logger.WithError(err).Debug("Speaker identification failed for window")
			continue
		}
		if attribution == nil {
			continue
		}

		// The mic stream is the local user: pin their profile as self so
		// remote-speaker matching never claims it.
		if buf.Source == capture.SourceMic && attribution.NewSpeaker {
			if err := s.comps.Identifier.Store().MarkSelf(attribution.ProfileID); err != nil {
				s.logger.WithError(err).Debug("Failed to mark self profile")
			}
		}

		s.assembler.AttributeSpeaker(
			buf.Timestamp,
			buf.Timestamp.Add(buf.Duration()),
			attribution.ProfileID,
			attribution.Confidence,
		)
	}
}

// qualityMetrics assembles the monitor's snapshot from live pipeline state
func (s *Session) qualityMetrics() quality.Metrics {
	stats := s.mixer.Stats()

	m := quality.Metrics{
		MicConnected:         stats.MicAlive,
		SystemAudioAvailable: stats.SystemAvailable,
		AverageAudioLevel:    stats.AverageLevel,
		DroppedFrames:        stats.DroppedFrames,
		TranscriptionLag:     s.engine.LastLatency(),
		CPULoadPercent:       quality.CPUPercent(),
	}
	if free, err := s.comps.Artifacts.FreeBytes(); err == nil {
		m.DiskFreeBytes = free
	}
	if s.comps.Identifier != nil {
		m.DiarizationFailures = s.comps.Identifier.FailureCount()
	}
	return m
}

// Stop shuts the pipeline down in order: capture first, then a bounded drain
// of everything in flight, then finalization and the record hand-off. After
// Stop returns the session is read-only.
func (s *Session) Stop(ctx context.Context) error {
	// CAS so an explicit stop and the mic-loss watchdog cannot both win.
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateRecording), int32(StateStopping)) {
		return errors.Wrap(errors.ErrFailedPrecondition, "session is not recording").
			WithField("state", s.State().String())
	}

	// Capture stops first so no new audio enters the pipeline. Sources
	// flush partial windows and close their streams, which cascades: the
	// mixer drains and closes its output, the forwarder closes the engine
	// input, and the engine finalizes.
	if err := s.mic.Stop(); err != nil {
		s.logger.WithError(err).Warn("Mic source stop reported an error")
	}
	if s.system != nil {
		if err := s.system.Stop(); err != nil {
			s.logger.WithError(err).Warn("System source stop reported an error")
		}
	}
	if s.diarizeQueue != nil {
		s.diarizeQueue.Close()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Pipeline drain exceeded shutdown deadline")
	}

	s.engine.Stop()

	s.mu.Lock()
	s.endedAt = time.Now()
	s.mu.Unlock()

	s.finalize(ctx)
	s.setState(StateCompleted)

	if metrics.CaptureSessions != nil {
		metrics.CaptureSessions.Dec()
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"duration":   s.endedAt.Sub(s.startedAt).Round(time.Second).String(),
	}).Info("Recording session completed")
	return nil
}

// finalize stores the audio artifact, schedules retention, summarizes,
// assigns, and publishes the finished record. Each step is independent: a
// failure is logged and the rest still run.
func (s *Session) finalize(ctx context.Context) {
	record := messaging.MeetingRecord{
		SessionID: s.id,
		Title:     s.config.Title,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}

	if err := s.storeArtifact(); err != nil {
		s.logger.WithError(err).Error("Failed to store audio artifact")
	} else {
		record.ArtifactID = s.artifactID
	}

	record.Transcript = s.assembler.TranscriptText()

	if s.comps.Summarizer != nil && record.Transcript != "" {
		input := summarize.TruncateToBudget(record.Transcript, s.config.SummaryBudgetWords)
		summary, err := s.comps.Summarizer.Summarize(ctx, input)
		if err != nil {
			s.logger.WithError(err).Warn("Summarization failed, record ships without summary")
		} else {
			record.Summary = summary
		}
	}

	if s.comps.Identifier != nil {
		for _, profile := range s.comps.Identifier.Store().Profiles() {
			record.SpeakerIDs = append(record.SpeakerIDs, profile.ID)
		}
	}

	if s.sampler != nil {
		record.FinalStatus = string(s.sampler.Latest().Status)
	}

	if s.config.Meeting != nil && s.comps.Assigner != nil {
		assignment, err := s.comps.Assigner.Assign(*s.config.Meeting)
		if err != nil {
			s.logger.WithError(err).Warn("Meeting assignment failed")
		} else if _, err := s.comps.Assigner.Apply(*s.config.Meeting, assignment, s.endedAt); err != nil {
			s.logger.WithError(err).Warn("Failed to apply meeting assignment")
		} else {
			record.MeetingID = s.config.Meeting.ID
		}
	}

	if s.comps.Publisher != nil {
		if err := s.comps.Publisher.PublishRecord(record); err != nil {
			s.logger.WithError(err).Warn("Failed to publish meeting record")
		}
	}

	s.mu.Lock()
	s.record = &record
	s.mu.Unlock()
}

// storeArtifact finalizes the on-disk WAV and moves it into the store with a
// retention entry.
func (s *Session) storeArtifact() error {
	if s.wav == nil {
		return nil
	}

	if err := s.wav.Finalize(); err != nil {
		s.wavFile.Close()
		return err
	}
	if err := s.wavFile.Close(); err != nil {
		return errors.Wrap(errors.ErrStorageIO, "failed to close recording file")
	}

	if _, err := s.comps.Artifacts.Adopt(s.artifactID, s.wavFile.Name()); err != nil {
		return err
	}

	entry := storage.RetentionEntry{
		ArtifactID: s.artifactID,
		SessionID:  s.id,
		RecordedAt: s.startedAt,
		ExpiresAt:  s.endedAt.AddDate(0, 0, s.config.RetentionDays),
	}
	return s.comps.Schedule.Put(entry)
}

func (s *Session) cleanupPartial() {
	if s.wavFile != nil {
		s.wavFile.Close()
		os.Remove(s.wavFile.Name())
	}
}

// Record returns the finished meeting record. Nil until Stop completes.
func (s *Session) Record() *messaging.MeetingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	copied := *s.record
	return &copied
}

// Quality returns the latest quality report
func (s *Session) Quality() quality.Report {
	if s.sampler == nil {
		return quality.Report{Status: quality.StatusExcellent}
	}
	return s.sampler.Latest()
}

// MixerStats returns live capture telemetry
func (s *Session) MixerStats() capture.MixerStats {
	return s.mixer.Stats()
}
