package capture

import (
	"math"
	"time"
)

// SourceTag identifies where an audio buffer originated
type SourceTag string

const (
	SourceMic    SourceTag = "mic"
	SourceSystem SourceTag = "system"
	SourceMixed  SourceTag = "mixed"
)

// AudioBuffer is a timestamped, fixed-duration slice of PCM16 mono samples.
// Buffers are moved between pipeline stages, never shared: once a buffer is
// handed to a queue the sender must not touch it again.
type AudioBuffer struct {
	Timestamp  time.Time
	Samples    []int16
	SampleRate int
	Source     SourceTag
}

// Duration returns the play time covered by the buffer
func (b *AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Level returns the RMS level of the buffer normalized to 0..1
func (b *AudioBuffer) Level() float64 {
	if len(b.Samples) == 0 {
		return 0
	}

	total := 0.0
	for _, s := range b.Samples {
		f := float64(s) / 32768.0
		total += f * f
	}
	return math.Sqrt(total / float64(len(b.Samples)))
}

// Clone returns an independent copy of the buffer. Used when a buffer must be
// teed to a second consumer without violating single-owner transfer.
func (b *AudioBuffer) Clone() *AudioBuffer {
	samples := make([]int16, len(b.Samples))
	copy(samples, b.Samples)
	return &AudioBuffer{
		Timestamp:  b.Timestamp,
		Samples:    samples,
		SampleRate: b.SampleRate,
		Source:     b.Source,
	}
}

// Resample converts samples between rates using linear interpolation.
// The conversion is deterministic: identical input always yields identical output.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// mixSamples sums two sample slices with clipping. The shorter slice is treated
// as padded with silence.
func mixSamples(a, b []int16) []int16 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int32
		if i < len(a) {
			sum += int32(a[i])
		}
		if i < len(b) {
			sum += int32(b[i])
		}
		if sum > math.MaxInt16 {
			sum = math.MaxInt16
		} else if sum < math.MinInt16 {
			sum = math.MinInt16
		}
		out[i] = int16(sum)
	}
	return out
}
