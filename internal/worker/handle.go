package worker

import "github.com/lutaod/memhog/internal/stress"

// Handle tracks a spawned worker process until it is reaped.
type Handle struct {
	PID  int
	Spec stress.Spec

	wait func() error
	err  error
}

// NewHandle returns a handle for the process pid running spec. wait blocks
// until the process exits and returns its exit status.
func NewHandle(pid int, spec stress.Spec, wait func() error) *Handle {
	return &Handle{PID: pid, Spec: spec, wait: wait}
}

// Wait blocks until the worker exits and records its exit status.
func (h *Handle) Wait() error {
	h.err = h.wait()
	return h.err
}

// Err returns the exit status recorded by Wait.
func (h *Handle) Err() error {
	return h.err
}
