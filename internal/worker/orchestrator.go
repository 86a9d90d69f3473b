// Package worker fans worker processes out over cores and reaps them.
package worker

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/lutaod/memhog/internal/errdefs"
	"github.com/lutaod/memhog/internal/stress"
)

// Spawner starts one worker process. A non-nil attach is called with the
// worker's pid before the worker begins its stress run; its error fails
// the spawn.
type Spawner interface {
	Spawn(spec stress.Spec, attach func(pid int) error) (*Handle, error)
}

// Orchestrator spawns workers and waits for all of them to exit.
type Orchestrator struct {
	spawner Spawner

	// Attach, if set, is called with the pid of every spawned worker
	// before it runs.
	Attach func(pid int) error
}

// NewOrchestrator returns an orchestrator spawning through s.
func NewOrchestrator(s Spawner) *Orchestrator {
	return &Orchestrator{spawner: s}
}

// Run spawns one worker per spec in order, then blocks until every worker
// has exited. The first spawn failure aborts the fan-out and is returned at
// once; workers already running are left alone. Worker exit status is
// logged but does not affect the result.
func (o *Orchestrator) Run(specs []stress.Spec) error {
	exited := make(chan *Handle, len(specs))
	outstanding := 0

	for _, spec := range specs {
		h, err := o.spawner.Spawn(spec, o.Attach)
		if err != nil {
			return fmt.Errorf("%w: failed to spawn %s worker: %v", errdefs.ErrResource, spec, err)
		}
		outstanding++

		klog.V(1).InfoS("Spawned worker", "pid", h.PID, "worker", spec.String())

		go func() {
			h.Wait()
			exited <- h
		}()
	}

	klog.InfoS("Workers running", "count", outstanding)

	for outstanding > 0 {
		h := <-exited
		outstanding--

		if err := h.Err(); err != nil {
			klog.InfoS("Worker exited", "pid", h.PID, "worker", h.Spec.String(), "status", err, "outstanding", outstanding)
		} else {
			klog.InfoS("Worker exited", "pid", h.PID, "worker", h.Spec.String(), "outstanding", outstanding)
		}
	}

	return nil
}
