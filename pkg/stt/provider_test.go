package stt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefaultAndLookup(t *testing.T) {
	registry := NewRegistry(testLogger(), "mock", nil)

	_, err := registry.Default()
	assert.ErrorIs(t, err, ErrNoBackendAvailable)

	mock := NewMockTranscriber(testLogger())
	registry.Register(mock)

	got, err := registry.Default()
	require.NoError(t, err)
	assert.Equal(t, "mock", got.Name())

	_, ok := registry.Get("missing")
	assert.False(t, ok)
}

func TestRegistryFallbackOrder(t *testing.T) {
	registry := NewRegistry(testLogger(), "local-small", []string{"local-large", "remote"})

	small := renamed{NewMockTranscriber(testLogger()), "local-small"}
	large := renamed{NewMockTranscriber(testLogger()), "local-large"}
	remote := renamed{NewMockTranscriber(testLogger()), "remote"}
	registry.Register(small)
	registry.Register(large)
	registry.Register(remote)

	next := registry.NextFallback("local-small")
	require.NotNil(t, next)
	assert.Equal(t, "local-large", next.Name())

	next = registry.NextFallback("local-large")
	require.NotNil(t, next)
	assert.Equal(t, "remote", next.Name())

	assert.Nil(t, registry.NextFallback("remote"), "no fallback after the last backend")
}

func TestRegistrySkipsUnregisteredFallbacks(t *testing.T) {
	registry := NewRegistry(testLogger(), "local-small", []string{"local-large", "remote"})

	registry.Register(renamed{NewMockTranscriber(testLogger()), "local-small"})
	registry.Register(renamed{NewMockTranscriber(testLogger()), "remote"})

	next := registry.NextFallback("local-small")
	require.NotNil(t, next)
	assert.Equal(t, "remote", next.Name(), "missing backend skipped in the chain")
}

func TestMockSilenceYieldsNoSegments(t *testing.T) {
	mock := NewMockTranscriber(testLogger())
	require.NoError(t, mock.Load(context.Background()))

	silent := speechBuf(time.Now())
	for i := range silent.Samples {
		silent.Samples[i] = 0
	}

	segs, err := mock.Transcribe(context.Background(), silent)
	require.NoError(t, err)
	assert.Empty(t, segs)
}
