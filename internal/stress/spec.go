package stress

import (
	"fmt"
	"time"

	"github.com/lutaod/memhog/internal/errdefs"
)

// Unbound is the target core of a worker that is not pinned.
const Unbound = -1

// Mode selects how a worker obtains its memory region.
type Mode string

const (
	// Heap workers allocate anonymous memory and release it after every
	// batch of sweeps.
	Heap Mode = "heap"
	// File workers map a file shared read/write and never release it.
	File Mode = "file"
)

// Spec describes a single worker.
type Spec struct {
	Mode           Mode          `json:"mode"`
	Core           int           `json:"core"`
	RegionSize     int64         `json:"regionSize"`
	ReportInterval int64         `json:"reportInterval"`
	FilePath       string        `json:"filePath,omitempty"`
	CPUWork        int           `json:"cpuWork"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// Validate checks spec against the given page size.
func (s Spec) Validate(pageSize int) error {
	if s.RegionSize <= 0 {
		return fmt.Errorf("%w: %s worker region size must be greater than 0", errdefs.ErrInvariant, s.Mode)
	}

	switch s.Mode {
	case Heap:
		if s.FilePath != "" {
			return fmt.Errorf("%w: heap worker must not have a file path", errdefs.ErrConfiguration)
		}
	case File:
		if s.FilePath == "" {
			return fmt.Errorf("%w: file worker requires a file path", errdefs.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown worker mode %q", errdefs.ErrConfiguration, s.Mode)
	}

	if s.CPUWork < 1 {
		return fmt.Errorf("%w: cpu work factor must be at least 1", errdefs.ErrConfiguration)
	}

	if _, err := ReportPages(s.ReportInterval, pageSize); err != nil {
		return err
	}

	return nil
}

// ReportPages returns the number of pages between two reports. An interval
// shorter than one page is rejected.
func ReportPages(interval int64, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, fmt.Errorf("%w: page size must be greater than 0", errdefs.ErrInvariant)
	}

	pages := interval / int64(pageSize)
	if pages < 1 {
		return 0, fmt.Errorf(
			"%w: report interval %d is smaller than one page (%d)",
			errdefs.ErrConfiguration,
			interval,
			pageSize,
		)
	}

	return int(pages), nil
}

// String returns a short description used in logs.
func (s Spec) String() string {
	core := "unbound"
	if s.Core != Unbound {
		core = fmt.Sprintf("core %d", s.Core)
	}
	return fmt.Sprintf("%s/%s", s.Mode, core)
}
