package driver

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Registry owns the loaded vendor module and counts the sessions using it.
type Registry struct {
	loader Loader
	logger *slog.Logger

	mu   sync.Mutex
	refs int
	api  API
}

// NewRegistry creates a registry that loads the module through loader.
func NewRegistry(loader Loader, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		loader: loader,
		logger: logger.With("component", "driver-registry", "loader", loader.Name()),
	}
}

// Acquire returns a new reference to the loaded module, loading it on the first reference.
// A failed load leaves the reference count untouched.
func (r *Registry) Acquire() (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		api, err := r.loader.Load()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDriverUnavailable, err)
		}
		r.api = api
		r.logger.Info("Encode driver loaded", "api_version", VersionString(api.Version()))
	}
	r.refs++
	r.logger.Debug("Driver reference acquired", "refs", r.refs)

	return &Handle{registry: r, api: r.api}, nil
}

// Name returns the loader name.
func (r *Registry) Name() string {
	return r.loader.Name()
}

// RefCount returns the number of live references.
func (r *Registry) RefCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// Loaded reports whether the module is currently loaded.
func (r *Registry) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.api != nil
}

func (r *Registry) release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		r.logger.Warn("Driver reference released with zero refcount")
		return
	}
	r.refs--
	r.logger.Debug("Driver reference released", "refs", r.refs)

	if r.refs > 0 {
		return
	}
	if err := r.loader.Unload(r.api); err != nil {
		r.logger.Warn("Failed to unload encode driver", "error", err)
	}
	r.api = nil
	r.logger.Info("Encode driver unloaded")
}

// Handle is one counted reference to the loaded module.
type Handle struct {
	registry *Registry
	api      API
	released atomic.Bool
}

// API returns the function table. It must not be used after Release.
func (h *Handle) API() API {
	return h.api
}

// Release drops this reference. Only the first call has an effect.
func (h *Handle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.registry.release()
	}
}
