// Package observable provides a typed listener registry. Listeners are
// notified in registration order; a listener that fails or panics is
// logged and skipped, the rest still run.
package observable

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type entry[L any] struct {
	id       uint64
	listener L
}

// Registry holds listeners of type L.
type Registry[L any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[L]
	logger  *zap.Logger
}

// New creates an empty registry. A nil logger discards listener failures.
func New[L any](logger *zap.Logger) *Registry[L] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[L]{logger: logger}
}

// Register adds a listener and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (r *Registry[L]) Register(listener L) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, entry[L]{id: id, listener: listener})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.entries {
			if e.id == id {
				r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered listeners.
func (r *Registry[L]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Notify calls fn once per listener, in registration order. The listener
// set is captured before the first call, so listeners may register or
// unregister from inside fn.
func (r *Registry[L]) Notify(event string, fn func(L) error) {
	r.mu.Lock()
	snapshot := make([]entry[L], len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		if err := r.call(fn, e.listener); err != nil {
			r.logger.Error("listener failed",
				zap.String("event", event),
				zap.Uint64("listener", e.id),
				zap.Error(err))
		}
	}
}

func (r *Registry[L]) call(fn func(L) error, listener L) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("listener panicked: %v", recovered)
		}
	}()
	return fn(listener)
}
