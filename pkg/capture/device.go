package capture

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/errors"
)

// DeviceSourceConfig configures an ffmpeg-backed capture device
type DeviceSourceConfig struct {
	// Device is the OS device selector (e.g. ":default", "hw:0")
	Device string

	// InputFormat is the ffmpeg input demuxer (avfoundation, alsa, pulse)
	InputFormat string

	// FFmpegPath locates the ffmpeg binary
	FFmpegPath string

	SampleRate int
	Window     time.Duration
}

// DeviceSource captures PCM audio from an OS device by running ffmpeg and
// reading raw signed 16-bit little-endian samples from its stdout.
type DeviceSource struct {
	logger *logrus.Logger
	config DeviceSourceConfig
	tag    SourceTag

	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewDeviceSource creates a device-backed capture source
func NewDeviceSource(logger *logrus.Logger, config DeviceSourceConfig, tag SourceTag) *DeviceSource {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Window <= 0 {
		config.Window = 500 * time.Millisecond
	}
	return &DeviceSource{
		logger: logger,
		config: config,
		tag:    tag,
	}
}

// Name returns the device selector
func (s *DeviceSource) Name() string { return s.config.Device }

// Tag returns the source tag stamped on emitted buffers
func (s *DeviceSource) Tag() SourceTag { return s.tag }

// Start launches ffmpeg and begins streaming buffers
func (s *DeviceSource) Start(ctx context.Context) (<-chan *AudioBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := exec.LookPath(s.config.FFmpegPath); err != nil {
		return nil, errors.Wrap(errors.ErrCaptureDeviceUnavailable, "ffmpeg not found").
			WithField("path", s.config.FFmpegPath)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	cmd := exec.CommandContext(ctx, s.config.FFmpegPath,
		"-f", s.config.InputFormat,
		"-i", s.config.Device,
		"-ac", "1",
		"-ar", strconv.Itoa(s.config.SampleRate),
		"-f", "s16le",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to open ffmpeg stdout")
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrap(errors.ErrCaptureDeviceUnavailable, "failed to start capture process").
			WithFields(map[string]interface{}{
				"device": s.config.Device,
				"error":  err.Error(),
			})
	}
	s.cmd = cmd

	s.logger.WithFields(logrus.Fields{
		"device":      s.config.Device,
		"source":      string(s.tag),
		"sample_rate": s.config.SampleRate,
	}).Info("Capture device started")

	out := make(chan *AudioBuffer, 4)
	go s.readLoop(ctx, stdout, out)

	return out, nil
}

// readLoop slices the raw PCM stream into window-sized buffers
func (s *DeviceSource) readLoop(ctx context.Context, r io.Reader, out chan<- *AudioBuffer) {
	defer close(out)
	defer close(s.done)

	samplesPerWindow := int(float64(s.config.SampleRate) * s.config.Window.Seconds())
	bytesPerWindow := samplesPerWindow * 2
	raw := make([]byte, bytesPerWindow)
	filled := 0
	start := time.Now()
	emitted := 0

	flush := func(n int) {
		if n == 0 {
			return
		}
		samples := make([]int16, n/2)
		for i := range samples {
			samples[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
		}
		buf := &AudioBuffer{
			Timestamp:  start.Add(time.Duration(emitted) * s.config.Window),
			Samples:    samples,
			SampleRate: s.config.SampleRate,
			Source:     s.tag,
		}
		emitted++

		select {
		case out <- buf:
		case <-ctx.Done():
		}
	}

	for {
		n, err := r.Read(raw[filled:])
		if n > 0 {
			filled += n
			if filled == bytesPerWindow {
				flush(filled)
				filled = 0
			}
		}
		if err != nil {
			// Final partial window flushes on EOF so trailing audio is kept.
			flush(filled)
			if err != io.EOF && ctx.Err() == nil {
				s.logger.WithError(err).WithField("device", s.config.Device).
					Error("Capture device read failed")
			}
			return
		}
		if ctx.Err() != nil {
			flush(filled)
			return
		}
	}
}

// Stop terminates the capture process and waits for the stream to close
func (s *DeviceSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	cmd := s.cmd
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if cmd != nil {
		// CommandContext already killed the process; reap it.
		_ = cmd.Wait()
	}
	return nil
}
