package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWAVWriter(f, 16000, 1)
	require.NoError(t, err)

	samples := make([]int16, 16000) // one second
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	require.NoError(t, w.WriteSamples(samples))
	require.NoError(t, w.Finalize())
	require.NoError(t, f.Close())

	got, info, err := ReadWAVSamples(path)
	require.NoError(t, err)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, time.Second, info.Duration())
	assert.Equal(t, samples, got)
}

func TestWAVFinalizeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := NewWAVWriter(f, 16000, 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteSamples([]int16{1, 2, 3}))
	require.NoError(t, w.Finalize())
	require.NoError(t, w.Finalize())

	_, err = w.Write([]byte{0, 0})
	assert.Error(t, err, "write after finalize must fail")
}

func TestEncodeWAVHeader(t *testing.T) {
	raw := EncodeWAV([]int16{100, -100}, 8000)

	require.Greater(t, len(raw), 44)
	assert.Equal(t, "RIFF", string(raw[0:4]))
	assert.Equal(t, "WAVE", string(raw[8:12]))

	path := filepath.Join(t.TempDir(), "enc.wav")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	info, err := ReadWAVInfo(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, int64(4), info.DataBytes)
}

func TestReadWAVInfoRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0o644))

	_, err := ReadWAVInfo(path)
	assert.Error(t, err)
}
