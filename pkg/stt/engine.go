package stt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/errors"
	"meetrec-server/pkg/metrics"
	"meetrec-server/pkg/util"
)

// EngineState models the transcription engine lifecycle
type EngineState int32

const (
	StateUnloaded EngineState = iota
	StateLoading
	StateReady
	StateTranscribing
	StateError
)

// String returns the state name
func (s EngineState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateTranscribing:
		return "transcribing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EngineConfig configures the streaming transcription engine
type EngineConfig struct {
	// FailureThreshold is the consecutive-failure count that triggers a
	// fallback to the next backend
	FailureThreshold int

	// SettleDelay before a volatile segment finalizes
	SettleDelay time.Duration

	// Workers sizes the inference pool
	Workers int

	// DrainTimeout bounds how long Stop waits for in-flight windows
	DrainTimeout time.Duration
}

// DefaultEngineConfig returns default engine configuration
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FailureThreshold: 3,
		SettleDelay:      2 * time.Second,
		Workers:          2,
		DrainTimeout:     5 * time.Second,
	}
}

// Engine drives a Transcriber over the mixed buffer stream. It owns the
// model lifecycle, retries failed windows once, falls back to the next
// backend after repeated failures, and never silently drops audio.
type Engine struct {
	logger   *logrus.Logger
	config   EngineConfig
	registry *Registry

	state int32

	activeMu sync.RWMutex
	active   Transcriber

	consecutiveFailures int32

	pool      *util.WorkerPool
	assembler *SegmentAssembler

	// latency tracking for the quality monitor
	lastLatency int64 // nanoseconds, atomic
}

// NewEngine creates a transcription engine over the given registry
func NewEngine(logger *logrus.Logger, config EngineConfig, registry *Registry, assembler *SegmentAssembler) *Engine {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 5 * time.Second
	}

	return &Engine{
		logger:    logger,
		config:    config,
		registry:  registry,
		pool:      util.NewWorkerPool(config.Workers, config.Workers*8),
		assembler: assembler,
	}
}

// State returns the current engine state
func (e *Engine) State() EngineState {
	return EngineState(atomic.LoadInt32(&e.state))
}

func (e *Engine) setState(s EngineState) {
	atomic.StoreInt32(&e.state, int32(s))
}

// LoadModel loads the default backend's model. It is idempotent: a loaded
// engine returns immediately.
func (e *Engine) LoadModel(ctx context.Context) error {
	switch e.State() {
	case StateReady, StateTranscribing:
		return nil
	case StateLoading:
		return nil
	}

	e.setState(StateLoading)

	backend, err := e.registry.Default()
	if err != nil {
		e.setState(StateError)
		return errors.Wrap(err, "no default transcription backend")
	}

	start := time.Now()
	if err := backend.Load(ctx); err != nil {
		e.setState(StateError)
		return errors.Wrap(err, "model load failed").
			WithField("backend", backend.Name())
	}

	e.activeMu.Lock()
	e.active = backend
	e.activeMu.Unlock()

	e.pool.Start()
	e.setState(StateReady)

	e.logger.WithFields(logrus.Fields{
		"backend":     backend.Name(),
		"load_ms":     time.Since(start).Milliseconds(),
		"sample_rate": backend.RequiredSampleRate(),
	}).Info("Transcription model loaded")
	return nil
}

// ActiveBackend returns the name of the backend currently in use
func (e *Engine) ActiveBackend() string {
	e.activeMu.RLock()
	defer e.activeMu.RUnlock()
	if e.active == nil {
		return ""
	}
	return e.active.Name()
}

// LastLatency returns the duration of the most recent window transcription
func (e *Engine) LastLatency() time.Duration {
	return time.Duration(atomic.LoadInt64(&e.lastLatency))
}

// Transcribe runs one buffer window through the active backend. Calling it
// before LoadModel completes fails with ErrModelNotLoaded. A failed window
// is retried once, then recorded as a placeholder segment.
func (e *Engine) Transcribe(ctx context.Context, buf *capture.AudioBuffer) ([]TranscriptSegment, error) {
	switch e.State() {
	case StateUnloaded, StateLoading:
		return nil, errors.Wrap(ErrModelNotLoaded, "engine not ready").
			WithField("state", e.State().String())
	case StateError:
		return nil, errors.Wrap(ErrModelNotLoaded, "engine in error state")
	}

	if buf == nil || len(buf.Samples) == 0 {
		return nil, errors.Wrap(ErrInvalidAudioData, "empty buffer")
	}

	e.activeMu.RLock()
	backend := e.active
	e.activeMu.RUnlock()

	e.setState(StateTranscribing)
	defer e.setState(StateReady)

	// Resample to the model's required rate when they disagree.
	window := buf
	if required := backend.RequiredSampleRate(); required > 0 && required != buf.SampleRate {
		window = &capture.AudioBuffer{
			Timestamp:  buf.Timestamp,
			Samples:    capture.Resample(buf.Samples, buf.SampleRate, required),
			SampleRate: required,
			Source:     buf.Source,
		}
	}

	start := time.Now()
	segments, err := backend.Transcribe(ctx, window)
	if err != nil {
		// One retry before giving up on the window.
		segments, err = backend.Transcribe(ctx, window)
	}
	atomic.StoreInt64(&e.lastLatency, int64(time.Since(start)))

	if metrics.TranscriptionLatency != nil {
		metrics.TranscriptionLatency.WithLabelValues(backend.Name()).
			Observe(time.Since(start).Seconds())
	}

	if err != nil {
		e.recordFailure(backend, err)

		// The window still occupies transcript time: placeholder, never drop.
		placeholder := TranscriptSegment{
			Start:       buf.Timestamp,
			End:         buf.Timestamp.Add(buf.Duration()),
			Placeholder: true,
		}
		return []TranscriptSegment{placeholder}, nil
	}

	atomic.StoreInt32(&e.consecutiveFailures, 0)

	if metrics.WordsTranscribed != nil {
		words := 0
		for i := range segments {
			words += segments[i].WordCount()
		}
		metrics.WordsTranscribed.WithLabelValues(backend.Name()).Add(float64(words))
	}
	return segments, nil
}

// recordFailure counts a window failure and switches backends past the threshold
func (e *Engine) recordFailure(backend Transcriber, err error) {
	failures := atomic.AddInt32(&e.consecutiveFailures, 1)

	e.logger.WithError(err).WithFields(logrus.Fields{
		"backend":  backend.Name(),
		"failures": failures,
	}).Warn("Window transcription failed, recorded placeholder segment")

	if metrics.TranscriptionErrors != nil {
		metrics.TranscriptionErrors.WithLabelValues(backend.Name(), "window").Inc()
	}

	if int(failures) < e.config.FailureThreshold {
		return
	}

	next := e.registry.NextFallback(backend.Name())
	if next == nil {
		e.logger.WithField("backend", backend.Name()).
			Error("Backend failing repeatedly and no fallback remains")
		return
	}

	if err := next.Load(context.Background()); err != nil {
		e.logger.WithError(err).WithField("backend", next.Name()).
			Error("Fallback backend failed to load")
		return
	}

	e.activeMu.Lock()
	e.active = next
	e.activeMu.Unlock()
	atomic.StoreInt32(&e.consecutiveFailures, 0)

	e.logger.WithFields(logrus.Fields{
		"from": backend.Name(),
		"to":   next.Name(),
	}).Warn("Switched transcription backend after repeated failures")
}

// Run consumes the mixed buffer stream until it closes or the context ends.
// Windows are dispatched to the inference pool; results feed the assembler,
// which restores timestamp order. A settle ticker finalizes quiet segments.
func (e *Engine) Run(ctx context.Context, in <-chan *capture.AudioBuffer) {
	settle := time.NewTicker(e.settleInterval())
	defer settle.Stop()

	for {
		select {
		case buf, ok := <-in:
			if !ok {
				e.drain()
				return
			}
			e.dispatch(ctx, buf)
		case <-settle.C:
			e.assembler.FinalizeSettled(time.Now())
		case <-ctx.Done():
			// Drain remaining queued audio before finalizing.
			for buf := range in {
				e.dispatch(context.Background(), buf)
			}
			e.drain()
			return
		}
	}
}

func (e *Engine) settleInterval() time.Duration {
	if e.config.SettleDelay <= 0 {
		return time.Second
	}
	interval := e.config.SettleDelay / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

// silenceFloor is the normalized level below which a window is treated as
// containing no speech and skipped before inference
const silenceFloor = 0.005

// dispatch hands one window to the pool, transcribing inline if the pool
// rejects it so no audio window is ever dropped unprocessed. Near-silent
// windows skip inference entirely; they cannot produce segments.
func (e *Engine) dispatch(ctx context.Context, buf *capture.AudioBuffer) {
	if buf != nil && buf.Level() < silenceFloor {
		return
	}
	work := func() {
		segments, err := e.Transcribe(ctx, buf)
		if err != nil {
			e.logger.WithError(err).Debug("Window skipped")
			return
		}
		e.assembler.Add(segments)
	}

	if !e.pool.Submit(work) {
		work()
	}
}

// drain waits for in-flight inference, then finalizes everything left
func (e *Engine) drain() {
	e.pool.Drain(e.config.DrainTimeout)
	e.assembler.FinalizeAll()
}

// Stop shuts the engine down, finalizing all volatile segments as-is
func (e *Engine) Stop() {
	e.pool.Drain(e.config.DrainTimeout)
	e.pool.Stop()
	e.assembler.FinalizeAll()
	e.setState(StateUnloaded)
}
