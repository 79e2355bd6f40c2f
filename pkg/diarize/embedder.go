package diarize

import (
	"math"

	"meetrec-server/pkg/capture"
	"meetrec-server/pkg/errors"
)

// SpeakerEmbedder extracts a fixed-length voice fingerprint from an audio
// window. Backends are interchangeable; the vector is only ever compared by
// cosine similarity, so its absolute scale is irrelevant.
type SpeakerEmbedder interface {
	// EmbeddingSize returns the vector length produced
	EmbeddingSize() int

	// Extract computes the fingerprint for a speech-bearing buffer
	Extract(buf *capture.AudioBuffer) ([]float64, error)
}

// SpectralEmbedder derives a voice fingerprint from banded spectral energy
// plus coarse prosodic features. It is deterministic: the same samples always
// produce the same vector.
type SpectralEmbedder struct {
	size       int
	windowSize int
	window     []float64
}

// NewSpectralEmbedder creates an embedder producing vectors of the given size
func NewSpectralEmbedder(size int) *SpectralEmbedder {
	if size < 8 {
		size = 8
	}
	windowSize := 512
	return &SpectralEmbedder{
		size:       size,
		windowSize: windowSize,
		window:     hannWindow(windowSize),
	}
}

// EmbeddingSize returns the vector length produced
func (e *SpectralEmbedder) EmbeddingSize() int { return e.size }

// Extract computes banded spectral energies averaged over the buffer's frames
func (e *SpectralEmbedder) Extract(buf *capture.AudioBuffer) ([]float64, error) {
	if buf == nil || len(buf.Samples) < e.windowSize {
		return nil, errors.Wrap(errors.ErrInvalidAudioData, "buffer too short for embedding")
	}

	spectralBands := e.size - 2
	embedding := make([]float64, e.size)

	frames := 0
	for offset := 0; offset+e.windowSize <= len(buf.Samples); offset += e.windowSize {
		frame := buf.Samples[offset : offset+e.windowSize]
		spectrum := e.spectrum(frame)

		binsPerBand := len(spectrum) / spectralBands
		if binsPerBand < 1 {
			binsPerBand = 1
		}
		for band := 0; band < spectralBands; band++ {
			start := band * binsPerBand
			end := start + binsPerBand
			if end > len(spectrum) {
				end = len(spectrum)
			}
			for _, mag := range spectrum[start:end] {
				embedding[band] += mag
			}
		}
		frames++
	}

	if frames == 0 {
		return nil, errors.Wrap(errors.ErrInvalidAudioData, "no complete frames in buffer")
	}

	for i := 0; i < spectralBands; i++ {
		embedding[i] /= float64(frames)
	}

	// Prosodic tail: overall energy and zero-crossing rate.
	embedding[e.size-2] = buf.Level()
	embedding[e.size-1] = zeroCrossRate(buf.Samples)

	normalize(embedding)
	return embedding, nil
}

// spectrum computes windowed DFT magnitudes for one frame. A direct DFT over
// a 512-sample frame is cheap enough at this window cadence.
func (e *SpectralEmbedder) spectrum(frame []int16) []float64 {
	n := e.windowSize
	windowed := make([]float64, n)
	for i := 0; i < n; i++ {
		windowed[i] = float64(frame[i]) / 32768.0 * e.window[i]
	}

	bins := n / 2
	spectrum := make([]float64, bins)
	for k := 0; k < bins; k++ {
		var re, im float64
		angleStep := -2 * math.Pi * float64(k) / float64(n)
		for i := 0; i < n; i++ {
			angle := angleStep * float64(i)
			re += windowed[i] * math.Cos(angle)
			im += windowed[i] * math.Sin(angle)
		}
		spectrum[k] = math.Sqrt(re*re + im*im)
	}
	return spectrum
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func zeroCrossRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i] >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples))
}

func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}

// CosineSimilarity compares two embeddings. Returns 0 for mismatched or
// zero-length vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
