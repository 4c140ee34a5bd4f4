package detector

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Registry holds the loaded detectors by version. It is filled once at
// startup and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	detectors  map[string]*Detector
	order      []string
	defaultVer string
}

// NewRegistry creates an empty registry with the given default version.
func NewRegistry(defaultVersion string) *Registry {
	return &Registry{
		detectors:  make(map[string]*Detector),
		defaultVer: defaultVersion,
	}
}

func normalizeVersion(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Register adds a detector. Versions are matched case-insensitively.
func (r *Registry) Register(d *Detector) error {
	if d == nil {
		return errors.New("detector cannot be nil")
	}
	key := normalizeVersion(d.Version())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.detectors[key]; exists {
		return fmt.Errorf("version %s already registered", d.Version())
	}
	r.detectors[key] = d
	r.order = append(r.order, d.Version())
	return nil
}

// Get returns the detector for version.
func (r *Registry) Get(version string) (*Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[normalizeVersion(version)]
	return d, ok
}

// Resolve returns the detector for version, falling back to the default
// version for empty or unknown names.
func (r *Registry) Resolve(version string) (*Detector, error) {
	if version != "" {
		if d, ok := r.Get(version); ok {
			return d, nil
		}
		slog.Warn("Unknown model version, using default", "requested", version, "default", r.defaultVer)
	}
	if d, ok := r.Get(r.defaultVer); ok {
		return d, nil
	}
	return nil, fmt.Errorf("default model version %s is not loaded", r.defaultVer)
}

// Default returns the default version name.
func (r *Registry) Default() string { return r.defaultVer }

// Versions returns registered version names in registration order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Close releases all detectors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, v := range r.order {
		if err := r.detectors[normalizeVersion(v)].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v, err))
		}
	}
	r.detectors = make(map[string]*Detector)
	r.order = nil
	return errors.Join(errs...)
}

// LoaderFunc builds a detector from its configuration.
type LoaderFunc func(ModelConfig) (*Detector, error)

// LoadRegistry loads every configured model. Loading stops at the first
// failure and already loaded detectors are closed.
func LoadRegistry(cfgs []ModelConfig, defaultVersion string, load LoaderFunc) (*Registry, error) {
	if load == nil {
		load = Load
	}
	reg := NewRegistry(defaultVersion)
	for _, cfg := range cfgs {
		d, err := load(cfg)
		if err != nil {
			_ = reg.Close()
			return nil, err
		}
		if err := reg.Register(d); err != nil {
			_ = d.Close()
			_ = reg.Close()
			return nil, err
		}
		slog.Info("Model loaded", "version", cfg.Version, "model_path", cfg.ModelPath,
			"tile_policy", cfg.Params.Policy, "overlap", cfg.Params.Overlap)
	}
	if _, ok := reg.Get(defaultVersion); !ok {
		_ = reg.Close()
		return nil, fmt.Errorf("default model version %s is not configured", defaultVersion)
	}
	return reg, nil
}
