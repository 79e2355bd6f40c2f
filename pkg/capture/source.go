package capture

import (
	"context"
	"math"
	"sync"
	"time"
)

// CaptureSource is a single audio input delivering fixed-duration buffers.
// Implementations must stop emitting after the context is canceled or Stop
// is called, then close their output channel.
type CaptureSource interface {
	// Name returns the device selector or synthetic identifier
	Name() string

	// Tag returns the source tag stamped on emitted buffers
	Tag() SourceTag

	// Start begins capture and returns the buffer stream
	Start(ctx context.Context) (<-chan *AudioBuffer, error)

	// Stop ends capture and flushes any partial buffer
	Stop() error
}

// ToneSource is a synthetic capture source producing a sine tone in real time.
// It stands in for a hardware device in tests and local development.
type ToneSource struct {
	name       string
	tag        SourceTag
	sampleRate int
	window     time.Duration
	frequency  float64
	amplitude  float64

	// Realtime pacing can be disabled so tests run instantly.
	Paced bool

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewToneSource creates a synthetic source emitting a tone at the given frequency
func NewToneSource(name string, tag SourceTag, sampleRate int, window time.Duration, frequency, amplitude float64) *ToneSource {
	return &ToneSource{
		name:       name,
		tag:        tag,
		sampleRate: sampleRate,
		window:     window,
		frequency:  frequency,
		amplitude:  amplitude,
		Paced:      true,
	}
}

// Name returns the synthetic source identifier
func (s *ToneSource) Name() string { return s.name }

// Tag returns the source tag stamped on emitted buffers
func (s *ToneSource) Tag() SourceTag { return s.tag }

// Start begins emitting tone buffers until the context ends or Stop is called
func (s *ToneSource) Start(ctx context.Context) (<-chan *AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	out := make(chan *AudioBuffer, 4)
	samplesPerWindow := int(float64(s.sampleRate) * s.window.Seconds())

	go func() {
		defer close(out)
		defer close(s.done)

		var ticker *time.Ticker
		if s.Paced {
			ticker = time.NewTicker(s.window)
			defer ticker.Stop()
		}

		phase := 0.0
		step := 2 * math.Pi * s.frequency / float64(s.sampleRate)
		start := time.Now()
		emitted := 0

		for {
			samples := make([]int16, samplesPerWindow)
			for i := range samples {
				samples[i] = int16(s.amplitude * 32767 * math.Sin(phase))
				phase += step
			}

			buf := &AudioBuffer{
				Timestamp:  start.Add(time.Duration(emitted) * s.window),
				Samples:    samples,
				SampleRate: s.sampleRate,
				Source:     s.tag,
			}
			emitted++

			select {
			case out <- buf:
			case <-ctx.Done():
				return
			}

			if s.Paced {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			} else {
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}()

	return out, nil
}

// Stop cancels the tone generator and waits for the stream to close
func (s *ToneSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}
