// Package registry holds the set of configured model backends participating in the ensemble.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind selects the wire protocol used to reach a backend.
type Kind string

const (
	// KindHTTP posts {"query","mode"} JSON to the endpoint and reads response/content/message.
	KindHTTP Kind = "http"
	// KindOpenAI calls the Chat Completions API; Endpoint is an optional base URL.
	KindOpenAI Kind = "openai"
)

const (
	DefaultWeight  = 1.0
	DefaultTimeout = 30 * time.Second
)

var (
	ErrDuplicateBackend  = errors.New("duplicate backend name")
	ErrInvalidDescriptor = errors.New("invalid backend descriptor")
)

// Descriptor describes one backend. Enabled, Weight and Timeout may change at runtime via Update.
type Descriptor struct {
	Name       string        `json:"name" yaml:"name"`
	Kind       Kind          `json:"kind" yaml:"kind"`
	Endpoint   string        `json:"endpoint" yaml:"endpoint"`
	Model      string        `json:"model,omitempty" yaml:"model"`
	Credential string        `json:"-" yaml:"credential"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	Weight     float64       `json:"weight" yaml:"weight"`
	Enabled    bool          `json:"enabled" yaml:"enabled"`
}

// Validate checks required fields after defaults have been applied.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	switch d.Kind {
	case KindHTTP:
		if d.Endpoint == "" {
			return fmt.Errorf("%w: %s: endpoint is required for kind %s", ErrInvalidDescriptor, d.Name, d.Kind)
		}
	case KindOpenAI:
		if d.Model == "" {
			return fmt.Errorf("%w: %s: model is required for kind %s", ErrInvalidDescriptor, d.Name, d.Kind)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidDescriptor, d.Name, d.Kind)
	}
	if d.Weight <= 0 {
		return fmt.Errorf("%w: %s: weight must be positive", ErrInvalidDescriptor, d.Name)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("%w: %s: timeout must be positive", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

func (d Descriptor) withDefaults(timeout time.Duration) Descriptor {
	if d.Kind == "" {
		d.Kind = KindHTTP
	}
	if d.Weight == 0 {
		d.Weight = DefaultWeight
	}
	if d.Timeout == 0 {
		d.Timeout = timeout
	}
	return d
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Enabled *bool
	Weight  *float64
	Timeout *time.Duration
}

// Registry is the in-memory backend set. Iteration order is registration order.
type Registry struct {
	mu       sync.RWMutex
	backends []Descriptor
	index    map[string]int
}

// New builds a registry from descriptors, applying DefaultTimeout where none is set.
func New(descs ...Descriptor) (*Registry, error) {
	return NewWithTimeout(DefaultTimeout, descs...)
}

// NewWithTimeout is New with an explicit fallback per-call timeout.
func NewWithTimeout(timeout time.Duration, descs ...Descriptor) (*Registry, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Registry{index: make(map[string]int, len(descs))}
	for _, d := range descs {
		d = d.withDefaults(timeout)
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.index[d.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, d.Name)
		}
		r.index[d.Name] = len(r.backends)
		r.backends = append(r.backends, d)
	}
	return r, nil
}

// List returns a copy of every descriptor.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.backends))
	copy(out, r.backends)
	return out
}

// Enabled returns a snapshot of the enabled descriptors.
func (r *Registry) Enabled() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.backends))
	for _, d := range r.backends {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the descriptor with the given name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.backends[i], true
}

// Update applies p to the named backend. Unknown names are a no-op and report false.
// Non-positive weights and timeouts in p are ignored.
func (r *Registry) Update(name string, p Patch) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[name]
	if !ok {
		return false
	}
	d := &r.backends[i]
	if p.Enabled != nil {
		d.Enabled = *p.Enabled
	}
	if p.Weight != nil && *p.Weight > 0 {
		d.Weight = *p.Weight
	}
	if p.Timeout != nil && *p.Timeout > 0 {
		d.Timeout = *p.Timeout
	}
	return true
}
