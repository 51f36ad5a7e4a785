package permission

import (
	"errors"
	"sync"
)

var (
	ErrFrozen        = errors.New("permission registry frozen")
	ErrDuplicate     = errors.New("permission already registered")
	ErrUnknown       = errors.New("permission not registered")
	ErrLimitExceeded = errors.New("permission limit exceeded")
)

// Registry assigns bit positions to permission names in registration order.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	names     []string
	frozen    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{nameToBit: make(map[string]int)}
}

// Register assigns the next free bit to name.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrFrozen
	}
	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, ErrDuplicate
	}
	bit := len(r.names)
	if bit >= MaxPermissions {
		return -1, ErrLimitExceeded
	}

	r.nameToBit[name] = bit
	r.names = append(r.names, name)
	return bit, nil
}

// Bit returns the bit for name, or false if it is not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Names expands m into permission names in registration order.
func (r *Registry) Names(m Mask) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.names))
	for bit, name := range r.names {
		if m.Has(bit) {
			out = append(out, name)
		}
	}
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
