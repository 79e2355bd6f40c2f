package stt

import (
	"context"

	"github.com/sirupsen/logrus"

	"meetrec-server/pkg/capture"
)

// Transcriber is the capability interface every speech-to-text backend
// implements. Backends are selected by configuration, never compiled in.
type Transcriber interface {
	// Name returns the backend identifier used in configuration
	Name() string

	// Load prepares the model. It is idempotent and must complete before
	// Transcribe is called.
	Load(ctx context.Context) error

	// Loaded reports whether the model is ready
	Loaded() bool

	// RequiredSampleRate is the input rate the model expects
	RequiredSampleRate() int

	// Transcribe converts one audio window into zero or more segments.
	// A silent window legitimately yields none.
	Transcribe(ctx context.Context, buf *capture.AudioBuffer) ([]TranscriptSegment, error)

	// Close releases model resources
	Close() error
}

// Registry manages the available transcription backends
type Registry struct {
	logger         *logrus.Logger
	backends       map[string]Transcriber
	defaultBackend string
	fallbackOrder  []string
}

// NewRegistry creates a backend registry
func NewRegistry(logger *logrus.Logger, defaultBackend string, fallbackOrder []string) *Registry {
	return &Registry{
		logger:         logger,
		backends:       make(map[string]Transcriber),
		defaultBackend: defaultBackend,
		fallbackOrder:  fallbackOrder,
	}
}

// Register adds a backend to the registry
func (r *Registry) Register(t Transcriber) {
	r.backends[t.Name()] = t
	r.logger.WithField("backend", t.Name()).Info("Registered transcription backend")
}

// Get returns a backend by name
func (r *Registry) Get(name string) (Transcriber, bool) {
	t, ok := r.backends[name]
	return t, ok
}

// Default returns the configured default backend
func (r *Registry) Default() (Transcriber, error) {
	t, ok := r.backends[r.defaultBackend]
	if !ok {
		return nil, ErrNoBackendAvailable
	}
	return t, nil
}

// NextFallback returns the first registered fallback after the given backend
// in the configured order, or nil when none remain. The order is default,
// then each fallback in sequence.
func (r *Registry) NextFallback(current string) Transcriber {
	chain := append([]string{r.defaultBackend}, r.fallbackOrder...)

	pos := -1
	for i, name := range chain {
		if name == current {
			pos = i
			break
		}
	}

	for i := pos + 1; i < len(chain); i++ {
		if t, ok := r.backends[chain[i]]; ok {
			return t
		}
	}
	return nil
}

// Names returns all registered backend names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
