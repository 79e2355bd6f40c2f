package stt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalModel(t *testing.T, output string, runErr error) *LocalModelTranscriber {
	t.Helper()

	backend := NewLocalModelTranscriber(testLogger(), LocalModelConfig{
		Name:       "local-small",
		BinaryPath: "model-cli",
		SampleRate: 16000,
		TempDir:    t.TempDir(),
	})
	backend.runner = func(ctx context.Context, binary string, args []string) (string, error) {
		return output, runErr
	}
	// Bypass binary lookup in tests.
	backend.loaded = true
	return backend
}

func TestLocalModelTranscribesWindow(t *testing.T) {
	backend := newTestLocalModel(t, "  hello from the model \n", nil)

	buf := speechBuf(time.Now())
	segs, err := backend.Transcribe(context.Background(), buf)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, "hello from the model", segs[0].Text)
	assert.Equal(t, buf.Timestamp, segs[0].Start)
	assert.Equal(t, buf.Timestamp.Add(buf.Duration()), segs[0].End)
}

func TestLocalModelSilenceYieldsNothing(t *testing.T) {
	backend := newTestLocalModel(t, "   \n", nil)

	segs, err := backend.Transcribe(context.Background(), speechBuf(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestLocalModelCLIFailure(t *testing.T) {
	backend := newTestLocalModel(t, "", fmt.Errorf("exit status 1"))

	_, err := backend.Transcribe(context.Background(), speechBuf(time.Now()))
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
}

func TestLocalModelRequiresLoad(t *testing.T) {
	backend := NewLocalModelTranscriber(testLogger(), LocalModelConfig{
		Name:       "local-small",
		BinaryPath: "model-cli",
	})

	_, err := backend.Transcribe(context.Background(), speechBuf(time.Now()))
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestLocalModelLoadMissingBinary(t *testing.T) {
	backend := NewLocalModelTranscriber(testLogger(), LocalModelConfig{
		Name:       "local-small",
		BinaryPath: "definitely-not-a-real-binary-xyz",
	})

	err := backend.Load(context.Background())
	assert.Error(t, err)
	assert.False(t, backend.Loaded())
}
