package stt

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetrec-server/pkg/capture"
	pkgerrors "meetrec-server/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func speechBuf(ts time.Time) *capture.AudioBuffer {
	samples := make([]int16, 8000) // 500ms @ 16kHz
	for i := range samples {
		samples[i] = 5000
	}
	return &capture.AudioBuffer{
		Timestamp:  ts,
		Samples:    samples,
		SampleRate: 16000,
		Source:     capture.SourceMixed,
	}
}

func newTestEngine(t *testing.T, mock *MockTranscriber, fallbacks ...Transcriber) (*Engine, *SegmentAssembler) {
	t.Helper()

	names := make([]string, 0, len(fallbacks))
	for _, f := range fallbacks {
		names = append(names, f.Name())
	}

	registry := NewRegistry(testLogger(), mock.Name(), names)
	registry.Register(mock)
	for _, f := range fallbacks {
		registry.Register(f)
	}

	assembler := NewSegmentAssembler("s1", 2*time.Second)
	cfg := DefaultEngineConfig()
	cfg.FailureThreshold = 2
	cfg.DrainTimeout = 2 * time.Second
	cfg.Workers = 1 // deterministic window order in tests

	return NewEngine(testLogger(), cfg, registry, assembler), assembler
}

func TestTranscribeBeforeLoadFails(t *testing.T) {
	engine, _ := newTestEngine(t, NewMockTranscriber(testLogger()))

	_, err := engine.Transcribe(context.Background(), speechBuf(time.Now()))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, ErrModelNotLoaded))
	assert.Equal(t, StateUnloaded, engine.State())
}

func TestLoadModelIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, NewMockTranscriber(testLogger()))
	defer engine.Stop()

	require.NoError(t, engine.LoadModel(context.Background()))
	assert.Equal(t, StateReady, engine.State())
	require.NoError(t, engine.LoadModel(context.Background()))
	assert.Equal(t, "mock", engine.ActiveBackend())
}

func TestTranscribeEmptyBufferRejected(t *testing.T) {
	engine, _ := newTestEngine(t, NewMockTranscriber(testLogger()))
	defer engine.Stop()
	require.NoError(t, engine.LoadModel(context.Background()))

	_, err := engine.Transcribe(context.Background(), &capture.AudioBuffer{SampleRate: 16000})
	assert.True(t, pkgerrors.Is(err, ErrInvalidAudioData))
}

func TestSingleFailureRetriedOnce(t *testing.T) {
	mock := NewMockTranscriber(testLogger())
	engine, _ := newTestEngine(t, mock)
	defer engine.Stop()
	require.NoError(t, engine.LoadModel(context.Background()))

	mock.FailNext = 1
	segs, err := engine.Transcribe(context.Background(), speechBuf(time.Now()))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.False(t, segs[0].Placeholder, "retry should have recovered the window")
	assert.NotEmpty(t, segs[0].Text)
}

func TestDoubleFailureYieldsPlaceholder(t *testing.T) {
	mock := NewMockTranscriber(testLogger())
	engine, _ := newTestEngine(t, mock)
	defer engine.Stop()
	require.NoError(t, engine.LoadModel(context.Background()))

	mock.FailNext = 2
	buf := speechBuf(time.Now())
	segs, err := engine.Transcribe(context.Background(), buf)
	require.NoError(t, err, "failed window must not error the session")
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Placeholder)
	assert.Equal(t, buf.Timestamp, segs[0].Start)
}

func TestFallbackAfterRepeatedFailures(t *testing.T) {
	primary := NewMockTranscriber(testLogger())
	fallback := NewMockTranscriber(testLogger())
	fallback.Script = []string{"fallback transcript"}

	// Distinguish the two mocks by name via a wrapper.
	engine, _ := newTestEngine(t, primary, renamed{fallback, "local-large"})
	defer engine.Stop()
	require.NoError(t, engine.LoadModel(context.Background()))

	// Two windows, each failing twice: hits the threshold of 2.
	primary.FailNext = 4
	_, err := engine.Transcribe(context.Background(), speechBuf(time.Now()))
	require.NoError(t, err)
	_, err = engine.Transcribe(context.Background(), speechBuf(time.Now()))
	require.NoError(t, err)

	assert.Equal(t, "local-large", engine.ActiveBackend())

	segs, err := engine.Transcribe(context.Background(), speechBuf(time.Now()))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "fallback transcript", segs[0].Text)
}

func TestRunTranscribesStreamToFinalSegments(t *testing.T) {
	mock := NewMockTranscriber(testLogger())
	engine, assembler := newTestEngine(t, mock)
	require.NoError(t, engine.LoadModel(context.Background()))

	in := make(chan *capture.AudioBuffer, 8)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 4; i++ {
		in <- speechBuf(base.Add(time.Duration(i) * 500 * time.Millisecond))
	}
	close(in)

	engine.Run(context.Background(), in)
	engine.Stop()

	final := assembler.Finalized()
	require.Len(t, final, 4)
	for i := 1; i < len(final); i++ {
		assert.False(t, final[i].Start.Before(final[i-1].End))
	}
	assert.Equal(t, "hello everyone thanks for joining", final[0].Text)
}

func TestRunSkipsSilentWindows(t *testing.T) {
	mock := NewMockTranscriber(testLogger())
	engine, assembler := newTestEngine(t, mock)
	require.NoError(t, engine.LoadModel(context.Background()))

	quiet := speechBuf(time.Now())
	for i := range quiet.Samples {
		quiet.Samples[i] = 2 // well below the silence floor
	}

	in := make(chan *capture.AudioBuffer, 1)
	in <- quiet
	close(in)

	engine.Run(context.Background(), in)
	engine.Stop()

	assert.Empty(t, assembler.Finalized(), "silent audio must not produce segments")
}

func TestEngineStateString(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "transcribing", StateTranscribing.String())
}

// renamed wraps a Transcriber under a different registry name
type renamed struct {
	Transcriber
	name string
}

func (r renamed) Name() string { return r.name }
