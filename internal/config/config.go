// Package config holds the memhog configuration surface and turns it into
// worker templates.
package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/lutaod/memhog/internal/coreset"
	"github.com/lutaod/memhog/internal/errdefs"
	"github.com/lutaod/memhog/internal/oomadj"
	"github.com/lutaod/memhog/internal/stress"
)

// Defaults.
const (
	DefaultReportInterval = Size(64 << 10)
	DefaultReplicas       = 1
	DefaultOOMScore       = -400
	DefaultCPUWork        = 1
)

// Config is the parsed command line.
type Config struct {
	AnonMem        Size
	FileMem        Size
	FilePath       string
	CPUs           string
	Replicas       int
	OOMScore       int
	CPUWork        int
	ReportInterval Size
	DryRun         bool
	Timeout        time.Duration
	CgroupMemory   Size
	CgroupOOMGroup bool
}

// New returns a Config holding the defaults.
func New() *Config {
	return &Config{
		Replicas:       DefaultReplicas,
		OOMScore:       DefaultOOMScore,
		CPUWork:        DefaultCPUWork,
		ReportInterval: DefaultReportInterval,
	}
}

// RegisterFlags binds c to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.Var(&c.AnonMem, "anon-mem", "Anonymous memory per heap worker (e.g., 512m)")

	fs.Var(&c.FileMem, "file-mem", "File size per file worker (e.g., 1g)")

	fs.StringVar(&c.FilePath, "file-path", c.FilePath, "File backing the file workers")

	fs.StringVar(&c.CPUs, "cpus", c.CPUs, "Cores to pin workers to (e.g., 0-3,8); unbound if empty")

	fs.IntVar(&c.Replicas, "t", c.Replicas, "Workers of each mode per core")

	fs.IntVar(&c.OOMScore, "oom-score", c.OOMScore, "oom_score_adj of the whole fleet")

	fs.IntVar(&c.CPUWork, "l", c.CPUWork, "CPU work multiplier per touched page")

	fs.Var(&c.ReportInterval, "r", "Report elapsed time after this much memory")

	fs.BoolVar(&c.DryRun, "dry-run", c.DryRun, "Print the setup and exit")

	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Stop workers after this long (0 runs forever)")

	fs.Var(&c.CgroupMemory, "cgroup-memory", "Confine the fleet to a cgroup with this memory.max")

	fs.BoolVar(&c.CgroupOOMGroup, "cgroup-oom-group", c.CgroupOOMGroup, "Kill the whole cgroup on OOM")
}

// HeapActive reports whether heap workers are requested.
func (c *Config) HeapActive() bool {
	return c.AnonMem > 0
}

// FileActive reports whether file workers are requested.
func (c *Config) FileActive() bool {
	return c.FileMem > 0 && c.FilePath != ""
}

// Validate checks the configuration for the given page size.
func (c *Config) Validate(pageSize int) error {
	if c.AnonMem <= 0 && c.FileMem <= 0 {
		return fmt.Errorf("%w: anon and/or file memory size is required", errdefs.ErrConfiguration)
	}

	if (c.FileMem > 0) != (c.FilePath != "") {
		return fmt.Errorf("%w: file memory size and file path must be given together", errdefs.ErrConfiguration)
	}

	if _, err := stress.ReportPages(int64(c.ReportInterval), pageSize); err != nil {
		return err
	}

	if c.Replicas < 1 {
		return fmt.Errorf("%w: workers per core must be at least 1", errdefs.ErrConfiguration)
	}

	if c.CPUWork < 1 {
		return fmt.Errorf("%w: cpu work multiplier must be at least 1", errdefs.ErrConfiguration)
	}

	if c.OOMScore < oomadj.Min || c.OOMScore > oomadj.Max {
		return fmt.Errorf(
			"%w: oom score %d outside [%d, %d]",
			errdefs.ErrConfiguration,
			c.OOMScore,
			oomadj.Min,
			oomadj.Max,
		)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", errdefs.ErrConfiguration)
	}

	if c.CgroupMemory < 0 {
		return fmt.Errorf("%w: cgroup memory must not be negative", errdefs.ErrConfiguration)
	}

	return nil
}

// Templates returns one worker spec per active mode, heap first. Templates
// are not pinned; the orchestrator fills in the target core.
func (c *Config) Templates() []stress.Spec {
	var specs []stress.Spec

	if c.HeapActive() {
		specs = append(specs, stress.Spec{
			Mode:           stress.Heap,
			Core:           stress.Unbound,
			RegionSize:     int64(c.AnonMem),
			ReportInterval: int64(c.ReportInterval),
			CPUWork:        c.CPUWork,
			Timeout:        c.Timeout,
		})
	}

	if c.FileActive() {
		specs = append(specs, stress.Spec{
			Mode:           stress.File,
			Core:           stress.Unbound,
			RegionSize:     int64(c.FileMem),
			ReportInterval: int64(c.ReportInterval),
			FilePath:       c.FilePath,
			CPUWork:        c.CPUWork,
			Timeout:        c.Timeout,
		})
	}

	return specs
}

// Print writes the setup in human-readable form, as shown by -dry-run.
func (c *Config) Print(w io.Writer, cores coreset.CoreSet, workers int) {
	fmt.Fprintln(w, "DRY RUN:")
	fmt.Fprintf(w, "%-18s %d (%s)\n", "anon-mem", c.AnonMem, c.AnonMem.Human())
	fmt.Fprintf(w, "%-18s %d (%s)\n", "file-mem", c.FileMem, c.FileMem.Human())
	fmt.Fprintf(w, "%-18s %q\n", "file-path", c.FilePath)
	fmt.Fprintf(w, "%-18s %s (0x%x)\n", "cpus", cores, cores.Mask())
	fmt.Fprintf(w, "%-18s %d\n", "workers per core", c.Replicas)
	fmt.Fprintf(w, "%-18s %d\n", "oom-score", c.OOMScore)
	fmt.Fprintf(w, "%-18s %d\n", "cpu work", c.CPUWork)
	fmt.Fprintf(w, "%-18s %d (%s)\n", "report interval", c.ReportInterval, c.ReportInterval.Human())
	fmt.Fprintf(w, "%-18s %s\n", "timeout", c.Timeout)
	if c.CgroupMemory > 0 {
		fmt.Fprintf(w, "%-18s %s (oom group: %t)\n", "cgroup memory", c.CgroupMemory.Human(), c.CgroupOOMGroup)
	}
	fmt.Fprintf(w, "%-18s %d\n", "total workers", workers)
}
