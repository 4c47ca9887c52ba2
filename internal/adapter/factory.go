package adapter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Options carries backend construction parameters.
type Options struct {
	// ConnectTimeout bounds a single connection attempt. Zero means the stack default.
	ConnectTimeout time.Duration
	// Services lists every catalog UUID, for stacks that can only test
	// advertisements against known services.
	Services []string
}

// Factory creates an Adapter for one backend.
type Factory func(opts Options, logger *logrus.Logger) (Adapter, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available under name. It panics on duplicates.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if f == nil {
		panic("adapter: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("adapter: Register called twice for backend " + name)
	}
	factories[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates an Adapter for the named backend.
// This is a variable so that it can be overridden in tests.
var New = func(name string, opts Options, logger *logrus.Logger) (Adapter, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown adapter backend %q (available: %v)", name, Backends())
	}
	if logger == nil {
		logger = logrus.New()
	}
	return f(opts, logger)
}
