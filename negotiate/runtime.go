package negotiate

import "sync"

// Runtime is the process-wide context for negotiation. The provider's
// resize protocol needs exactly one message listener per process; the
// "already active" flag lives here, on an explicit object, so tests can
// reset it deterministically instead of fighting a module-level boolean.
type Runtime struct {
	mu             sync.Mutex
	listenerActive bool
}

// NewRuntime creates a fresh process context.
func NewRuntime() *Runtime { return &Runtime{} }

// EnsureListener runs start exactly once per Runtime lifetime. Subsequent
// calls are no-ops. A failed start is not latched, so the next caller
// retries.
func (r *Runtime) EnsureListener(start func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listenerActive {
		return nil
	}
	if start != nil {
		if err := start(); err != nil {
			return err
		}
	}
	r.listenerActive = true
	return nil
}

// ListenerActive reports whether the listener has been installed.
func (r *Runtime) ListenerActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listenerActive
}

// Reset clears the listener flag. Test use only.
func (r *Runtime) Reset() {
	r.mu.Lock()
	r.listenerActive = false
	r.mu.Unlock()
}
