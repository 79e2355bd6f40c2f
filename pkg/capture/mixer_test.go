package capture

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func windowBuf(ts time.Time, value int16, tag SourceTag) *AudioBuffer {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = value
	}
	return &AudioBuffer{
		Timestamp:  ts,
		Samples:    samples,
		SampleRate: 16000,
		Source:     tag,
	}
}

func TestMixerSumsLockstepWindows(t *testing.T) {
	mixer := NewMixer(testLogger(), DefaultMixerConfig(), "s1")

	mic := make(chan *AudioBuffer, 4)
	system := make(chan *AudioBuffer, 4)

	base := time.Now()
	mic <- windowBuf(base, 100, SourceMic)
	system <- windowBuf(base, 50, SourceSystem)
	close(mic)
	close(system)

	mixer.Run(context.Background(), mic, system)

	mixed, ok := <-mixer.Output().C()
	require.True(t, ok)
	assert.Equal(t, SourceMixed, mixed.Source)
	assert.Equal(t, int16(150), mixed.Samples[0])

	_, ok = <-mixer.Output().C()
	assert.False(t, ok, "output should close after drain")
}

func TestMixerDegradesToMicOnlyWithoutSystemStream(t *testing.T) {
	mixer := NewMixer(testLogger(), DefaultMixerConfig(), "s1")

	mic := make(chan *AudioBuffer, 4)
	mic <- windowBuf(time.Now(), 42, SourceMic)
	close(mic)

	mixer.Run(context.Background(), mic, nil)

	mixed, ok := <-mixer.Output().C()
	require.True(t, ok)
	assert.Equal(t, int16(42), mixed.Samples[0])

	stats := mixer.Stats()
	assert.False(t, stats.SystemAvailable)
	assert.Equal(t, int64(1), stats.BuffersMixed)
}

func TestMixerDegradesWhenSystemStreamCloses(t *testing.T) {
	cfg := DefaultMixerConfig()
	cfg.LockstepTolerance = 50 * time.Millisecond
	mixer := NewMixer(testLogger(), cfg, "s1")

	mic := make(chan *AudioBuffer, 4)
	system := make(chan *AudioBuffer)
	close(system)

	base := time.Now()
	mic <- windowBuf(base, 10, SourceMic)
	mic <- windowBuf(base.Add(500*time.Millisecond), 20, SourceMic)
	close(mic)

	mixer.Run(context.Background(), mic, system)

	first, ok := <-mixer.Output().C()
	require.True(t, ok)
	assert.Equal(t, int16(10), first.Samples[0])

	second, ok := <-mixer.Output().C()
	require.True(t, ok)
	assert.Equal(t, int16(20), second.Samples[0])

	assert.False(t, mixer.Stats().SystemAvailable)
}

func TestMixerResamplesMismatchedSystemRate(t *testing.T) {
	mixer := NewMixer(testLogger(), DefaultMixerConfig(), "s1")

	base := time.Now()
	mic := make(chan *AudioBuffer, 1)
	system := make(chan *AudioBuffer, 1)

	mic <- windowBuf(base, 100, SourceMic)

	// System buffer at 8 kHz covering the same window.
	sys := &AudioBuffer{
		Timestamp:  base,
		Samples:    make([]int16, 80),
		SampleRate: 8000,
		Source:     SourceSystem,
	}
	for i := range sys.Samples {
		sys.Samples[i] = 10
	}
	system <- sys
	close(mic)
	close(system)

	mixer.Run(context.Background(), mic, system)

	mixed, ok := <-mixer.Output().C()
	require.True(t, ok)
	assert.Equal(t, 16000, mixed.SampleRate)
	assert.Equal(t, int16(110), mixed.Samples[0])
}

func TestMixerTeesUnmixedBuffersToTap(t *testing.T) {
	mixer := NewMixer(testLogger(), DefaultMixerConfig(), "s1")

	var tapped []*AudioBuffer
	mixer.SetTap(func(buf *AudioBuffer) {
		tapped = append(tapped, buf)
	})

	base := time.Now()
	mic := make(chan *AudioBuffer, 1)
	system := make(chan *AudioBuffer, 1)
	mic <- windowBuf(base, 5, SourceMic)
	system <- windowBuf(base, 7, SourceSystem)
	close(mic)
	close(system)

	mixer.Run(context.Background(), mic, system)

	require.Len(t, tapped, 2)
	assert.Equal(t, SourceMic, tapped[0].Source)
	assert.Equal(t, SourceSystem, tapped[1].Source)
	assert.Equal(t, int16(5), tapped[0].Samples[0])
}

func TestMixerCountsDropsUnderBackpressure(t *testing.T) {
	cfg := DefaultMixerConfig()
	cfg.QueueDepth = 2
	mixer := NewMixer(testLogger(), cfg, "s1")

	mic := make(chan *AudioBuffer, 8)
	base := time.Now()
	for i := 0; i < 8; i++ {
		mic <- windowBuf(base.Add(time.Duration(i)*500*time.Millisecond), int16(i), SourceMic)
	}
	close(mic)

	// Nothing consumes the output queue while Run executes.
	done := make(chan struct{})
	go func() {
		defer close(done)
		mixer.Run(context.Background(), mic, nil)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("mixer blocked under backpressure")
	}

	stats := mixer.Stats()
	assert.Equal(t, int64(8), stats.BuffersMixed)
	assert.Equal(t, int64(6), stats.DroppedFrames)

	// The two newest windows survive.
	first := <-mixer.Output().C()
	second := <-mixer.Output().C()
	assert.Equal(t, int16(6), first.Samples[0])
	assert.Equal(t, int16(7), second.Samples[0])
}

func TestToneSourceEmitsAndStops(t *testing.T) {
	src := NewToneSource("test", SourceMic, 16000, 100*time.Millisecond, 440, 0.5)
	src.Paced = false

	stream, err := src.Start(context.Background())
	require.NoError(t, err)

	buf := <-stream
	assert.Equal(t, SourceMic, buf.Source)
	assert.Equal(t, 1600, len(buf.Samples))
	assert.Greater(t, buf.Level(), 0.1)

	require.NoError(t, src.Stop())

	// Stream closes after stop; drain whatever was buffered.
	for range stream {
	}
}
