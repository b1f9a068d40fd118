package foreground

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/keagan/motionclips/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// Backend names
const (
	BackendNative = "native"
	BackendOpenCV = "opencv"
)

// ErrUnknownBackend is returned for a backend that is not compiled in
var ErrUnknownBackend = errors.New("unknown foreground backend")

// Factory builds an Opener for a backend
type Factory func(logger zerolog.Logger, exec *ffmpeg.Executor) Opener

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{
		BackendNative: func(logger zerolog.Logger, exec *ffmpeg.Executor) Opener {
			return NewNative(logger, exec)
		},
	}
)

// Register makes a backend available under name, replacing any previous one
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends lists the compiled-in backend names
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewOpener returns the Opener for the named backend
func NewOpener(name string, logger zerolog.Logger, exec *ffmpeg.Executor) (Opener, error) {
	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		if name == BackendOpenCV {
			return nil, fmt.Errorf("%w: %q (rebuild with -tags opencv)", ErrUnknownBackend, name)
		}
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
	}
	return f(logger, exec), nil
}
