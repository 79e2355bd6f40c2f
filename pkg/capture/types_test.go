package capture

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBufferDuration(t *testing.T) {
	buf := &AudioBuffer{
		Samples:    make([]int16, 8000),
		SampleRate: 16000,
	}
	assert.Equal(t, 500*time.Millisecond, buf.Duration())

	empty := &AudioBuffer{SampleRate: 0}
	assert.Equal(t, time.Duration(0), empty.Duration())
}

func TestBufferLevel(t *testing.T) {
	silence := &AudioBuffer{Samples: make([]int16, 160), SampleRate: 16000}
	assert.Equal(t, 0.0, silence.Level())

	loud := &AudioBuffer{Samples: make([]int16, 160), SampleRate: 16000}
	for i := range loud.Samples {
		loud.Samples[i] = math.MaxInt16
	}
	assert.Greater(t, loud.Level(), 0.99)
}

func TestBufferCloneIsIndependent(t *testing.T) {
	orig := &AudioBuffer{
		Samples:    []int16{1, 2, 3},
		SampleRate: 16000,
		Source:     SourceMic,
	}
	clone := orig.Clone()
	clone.Samples[0] = 99

	assert.Equal(t, int16(1), orig.Samples[0])
	assert.Equal(t, orig.Source, clone.Source)
}

func TestResampleDownHalvesLength(t *testing.T) {
	in := make([]int16, 320)
	out := Resample(in, 16000, 8000)
	assert.Len(t, out, 160)
}

func TestResampleUpDoublesLength(t *testing.T) {
	in := make([]int16, 160)
	out := Resample(in, 8000, 16000)
	assert.Len(t, out, 320)
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := []int16{1, 2, 3}
	out := Resample(in, 16000, 16000)
	assert.Equal(t, in, out)
}

func TestResampleDeterministic(t *testing.T) {
	in := make([]int16, 441)
	for i := range in {
		in[i] = int16(math.Sin(float64(i)/10) * 10000)
	}
	first := Resample(in, 44100, 16000)
	second := Resample(in, 44100, 16000)
	assert.Equal(t, first, second)
}

func TestMixSamplesClips(t *testing.T) {
	a := []int16{math.MaxInt16, math.MinInt16, 100}
	b := []int16{math.MaxInt16, math.MinInt16, 50}

	out := mixSamples(a, b)

	assert.Equal(t, int16(math.MaxInt16), out[0])
	assert.Equal(t, int16(math.MinInt16), out[1])
	assert.Equal(t, int16(150), out[2])
}

func TestMixSamplesPadsShorter(t *testing.T) {
	a := []int16{10, 20, 30}
	b := []int16{1}

	out := mixSamples(a, b)

	assert.Equal(t, []int16{11, 20, 30}, out)
}
