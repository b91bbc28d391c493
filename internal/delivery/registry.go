// internal/delivery/registry.go
package delivery

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Handler delivers a message to a target such as "telegram:12345".
type Handler func(target, message string) error

// Registry routes messages to the appropriate delivery handler based on
// target prefix (e.g. "telegram:"). The longest matching prefix wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler matching the target prefix and calls it.
// Returns an error if no handler is registered for the prefix.
func (r *Registry) Deliver(target, message string) error {
	r.mu.RLock()
	var (
		best    string
		handler Handler
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(target, prefix) && len(prefix) >= len(best) {
			best, handler = prefix, h
		}
	}
	r.mu.RUnlock()

	if handler == nil {
		return fmt.Errorf("no delivery handler for target: %s", target)
	}
	return handler(target, message)
}

// Broadcast delivers message to every target and joins the failures.
func (r *Registry) Broadcast(targets []string, message string) error {
	var errs []error
	for _, target := range targets {
		if err := r.Deliver(target, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}
