// Package oomadj sets the OOM-killer priority of the current process.
//
// The value is inherited by every child created afterwards, so it must be
// written before any worker is spawned.
package oomadj

import (
	"fmt"
	"os"
	"strconv"

	"github.com/lutaod/memhog/internal/errdefs"
)

const (
	// Min and Max bound the values accepted by the kernel.
	Min = -1000
	Max = 1000
)

// Path returns the OOM-adjust control file of the current process.
func Path() string {
	return fmt.Sprintf("/proc/%d/oom_score_adj", os.Getpid())
}

// Set writes score to the current process's OOM-adjust control file.
func Set(score int) error {
	return SetFile(Path(), score)
}

// SetFile writes score as "<score>\n" to the control file at path.
func SetFile(path string, score int) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", errdefs.ErrResource, path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(score) + "\n"); err != nil {
		return fmt.Errorf("%w: failed to write oom_score_adj: %v", errdefs.ErrResource, err)
	}

	return nil
}
