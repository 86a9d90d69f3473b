package worker

import (
	"fmt"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/lutaod/memhog/internal/stress"
)

var setAffinity = unix.SchedSetaffinity

// startPinned starts cmd restricted to core. A child inherits the affinity
// of the thread that clones it and keeps it across exec, so the calling
// thread is pinned for the duration of Start and restored afterwards.
func startPinned(cmd *exec.Cmd, core int) error {
	if core == stress.Unbound {
		return cmd.Start()
	}

	runtime.LockOSThread()

	var saved unix.CPUSet
	if err := unix.SchedGetaffinity(0, &saved); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("failed to get affinity: %w", err)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := setAffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("failed to set affinity to core %d: %w", core, err)
	}

	startErr := cmd.Start()

	if err := setAffinity(0, &saved); err != nil {
		// The thread stays locked so the runtime discards it instead of
		// scheduling other goroutines on a pinned thread.
		if startErr == nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
		return fmt.Errorf("failed to restore affinity: %w", err)
	}

	runtime.UnlockOSThread()
	return startErr
}

// currentCores returns the cores the calling thread may run on.
func currentCores() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("failed to get affinity: %w", err)
	}

	n := set.Count()
	cores := make([]int, 0, n)
	for i := 0; len(cores) < n; i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}

	return cores, nil
}
