package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/metrics"
)

// MixerConfig configures the two-source mixing stage
type MixerConfig struct {
	// SampleRate of the mixed output stream
	SampleRate int

	// QueueDepth bounds the output queue before oldest-first drops
	QueueDepth int

	// LockstepTolerance is how long the mixer waits for the lagging source
	// before emitting the window with the samples it has
	LockstepTolerance time.Duration
}

// DefaultMixerConfig returns default mixing configuration
func DefaultMixerConfig() MixerConfig {
	return MixerConfig{
		SampleRate:        16000,
		QueueDepth:        32,
		LockstepTolerance: 250 * time.Millisecond,
	}
}

// MixerStats is a read-only snapshot of mixing telemetry
type MixerStats struct {
	BuffersMixed    int64
	DroppedFrames   int64
	AverageLevel    float64
	SystemAvailable bool
	MicAlive        bool
}

// Mixer merges the mic and system capture streams into one mixed buffer
// sequence. When the system stream is absent or lost it degrades to mic-only.
// Unmixed per-source buffers are teed to an optional tap for diarization.
type Mixer struct {
	logger *logrus.Logger
	config MixerConfig

	out *BufferQueue

	// tap receives cloned, unmixed per-source buffers; may be nil
	tap func(*AudioBuffer)

	sessionID string

	buffersMixed int64
	micAlive     int32
	systemAlive  int32
	levelMu      sync.Mutex
	levelEMA     float64

	done chan struct{}
}

// NewMixer creates a mixing stage writing into a bounded output queue
func NewMixer(logger *logrus.Logger, config MixerConfig, sessionID string) *Mixer {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 32
	}
	if config.LockstepTolerance <= 0 {
		config.LockstepTolerance = 250 * time.Millisecond
	}

	return &Mixer{
		logger:    logger,
		config:    config,
		out:       NewBufferQueue(config.QueueDepth),
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
}

// SetTap registers a callback receiving cloned unmixed buffers per source.
// Must be called before Run.
func (m *Mixer) SetTap(tap func(*AudioBuffer)) {
	m.tap = tap
}

// Output returns the mixed buffer queue
func (m *Mixer) Output() *BufferQueue {
	return m.out
}

// Run consumes both source streams until they close or the context ends.
// The system stream may be nil, in which case mixing is mic-only from the
// start. Run closes the output queue on return.
func (m *Mixer) Run(ctx context.Context, mic, system <-chan *AudioBuffer) {
	defer close(m.done)
	defer m.out.Close()

	atomic.StoreInt32(&m.micAlive, 1)
	if system != nil {
		atomic.StoreInt32(&m.systemAlive, 1)
	} else {
		m.logger.Warn("System audio source not configured, mixing mic-only")
	}

	for {
		micBuf, ok := m.recvMic(ctx, mic)
		if !ok {
			return
		}

		var sysBuf *AudioBuffer
		if system != nil && atomic.LoadInt32(&m.systemAlive) == 1 {
			sysBuf, system = m.recvSystemLockstep(ctx, system, micBuf.Timestamp)
		}

		m.emit(micBuf, sysBuf)
	}
}

// recvMic waits for the next mic buffer. Mic loss ends mixing: a meeting
// recording without the local microphone has no content worth keeping.
func (m *Mixer) recvMic(ctx context.Context, mic <-chan *AudioBuffer) (*AudioBuffer, bool) {
	select {
	case buf, ok := <-mic:
		if !ok {
			atomic.StoreInt32(&m.micAlive, 0)
			m.logger.WithField("session_id", m.sessionID).Info("Mic stream ended, mixer draining")
			return nil, false
		}
		return buf, true
	case <-ctx.Done():
		// Drain whatever the mic source flushed before shutdown.
		select {
		case buf, ok := <-mic:
			if !ok {
				atomic.StoreInt32(&m.micAlive, 0)
				return nil, false
			}
			return buf, true
		default:
			atomic.StoreInt32(&m.micAlive, 0)
			return nil, false
		}
	}
}

// recvSystemLockstep pulls system buffers until one lines up with the mic
// window timestamp, waiting at most the lockstep tolerance. Returns the
// matched buffer (or nil) and the possibly-nil channel when the system
// stream has closed.
func (m *Mixer) recvSystemLockstep(ctx context.Context, system <-chan *AudioBuffer, micTS time.Time) (*AudioBuffer, <-chan *AudioBuffer) {
	deadline := time.NewTimer(m.config.LockstepTolerance)
	defer deadline.Stop()

	for {
		select {
		case buf, ok := <-system:
			if !ok {
				atomic.StoreInt32(&m.systemAlive, 0)
				m.logger.WithField("session_id", m.sessionID).
					Warn("System audio stream lost, degrading to mic-only")
				return nil, nil
			}
			// Discard system audio that predates the current window.
			if buf.Timestamp.Before(micTS.Add(-m.config.LockstepTolerance)) {
				continue
			}
			return buf, system
		case <-deadline.C:
			return nil, system
		case <-ctx.Done():
			return nil, system
		}
	}
}

// emit resamples, mixes, meters, and enqueues one window
func (m *Mixer) emit(micBuf, sysBuf *AudioBuffer) {
	if m.tap != nil {
		m.tap(micBuf.Clone())
		if sysBuf != nil {
			m.tap(sysBuf.Clone())
		}
	}

	micSamples := Resample(micBuf.Samples, micBuf.SampleRate, m.config.SampleRate)

	var mixedSamples []int16
	if sysBuf != nil {
		sysSamples := Resample(sysBuf.Samples, sysBuf.SampleRate, m.config.SampleRate)
		mixedSamples = mixSamples(micSamples, sysSamples)
	} else {
		mixedSamples = micSamples
	}

	mixed := &AudioBuffer{
		Timestamp:  micBuf.Timestamp,
		Samples:    mixedSamples,
		SampleRate: m.config.SampleRate,
		Source:     SourceMixed,
	}

	m.levelMu.Lock()
	m.levelEMA = 0.9*m.levelEMA + 0.1*mixed.Level()
	level := m.levelEMA
	m.levelMu.Unlock()

	atomic.AddInt64(&m.buffersMixed, 1)
	if metrics.BuffersMixed != nil {
		metrics.BuffersMixed.WithLabelValues(m.sessionID).Inc()
		metrics.AudioLevel.Set(level)
	}

	if evicted := m.out.Push(mixed); evicted {
		if metrics.BuffersDropped != nil {
			metrics.BuffersDropped.WithLabelValues(m.sessionID, "mixer").Inc()
		}
	}
}

// Stats returns a snapshot of mixing telemetry
func (m *Mixer) Stats() MixerStats {
	m.levelMu.Lock()
	level := m.levelEMA
	m.levelMu.Unlock()

	return MixerStats{
		BuffersMixed:    atomic.LoadInt64(&m.buffersMixed),
		DroppedFrames:   m.out.Dropped(),
		AverageLevel:    level,
		SystemAvailable: atomic.LoadInt32(&m.systemAlive) == 1,
		MicAlive:        atomic.LoadInt32(&m.micAlive) == 1,
	}
}

// Done is closed when the mixer run loop has exited
func (m *Mixer) Done() <-chan struct{} {
	return m.done
}
