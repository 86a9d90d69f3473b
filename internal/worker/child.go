package worker

import (
	"context"
	"errors"
	"os"

	"k8s.io/klog/v2"

	"github.com/lutaod/memhog/internal/stress"
)

// RunChild is the entry point of a worker process. It reads its spec from
// the pipe set up by ExecSpawner and runs the stress engine. It returns nil
// only when spec.Timeout expires.
func RunChild() error {
	reader := os.NewFile(uintptr(specFD), "pipe")
	spec, err := readSpec(reader)
	reader.Close()
	if err != nil {
		return err
	}

	return runSpec(context.Background(), stress.NewEngine(nil), spec)
}

func runSpec(ctx context.Context, engine *stress.Engine, spec stress.Spec) error {
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	if klog.V(1).Enabled() {
		cores, err := currentCores()
		if err != nil {
			return err
		}
		klog.InfoS("Worker started", "pid", os.Getpid(), "worker", spec.String(), "allowedCores", cores)
	}

	err := engine.Run(ctx, spec)
	if errors.Is(err, context.DeadlineExceeded) {
		klog.InfoS("Worker finished", "pid", os.Getpid(), "worker", spec.String(), "after", spec.Timeout)
		return nil
	}

	return err
}
