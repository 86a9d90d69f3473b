// Package stress implements the per-worker memory and CPU pressure loop.
//
// A worker sweeps its region page by page in ascending order. At every page
// it writes a short pattern at the page start, which faults the page in,
// then burns CPU to simulate per-page processing. Every report interval's
// worth of pages it reports the elapsed time. Bytes past the last full page
// are never touched.
package stress

import (
	"context"
	"fmt"
	"os"
	"time"

	units "github.com/docker/go-units"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/lutaod/memhog/internal/errdefs"
)

// HeapPasses is the number of sweeps a heap worker runs over one allocation
// before releasing it.
const HeapPasses = 10

// Reporter receives the time spent on the last report interval.
type Reporter func(spec Spec, elapsed time.Duration)

// Engine runs workers.
type Engine struct {
	PageSize  int
	BurnLoops int64
	Report    Reporter
	Now       func() time.Time
}

// NewEngine returns an engine using the platform page size and the default
// CPU burn. A nil report logs every interval.
func NewEngine(report Reporter) *Engine {
	if report == nil {
		report = LogReport
	}
	return &Engine{
		PageSize:  os.Getpagesize(),
		BurnLoops: DefaultBurnLoops,
		Report:    report,
		Now:       time.Now,
	}
}

// LogReport logs an elapsed-time report.
func LogReport(spec Spec, elapsed time.Duration) {
	klog.InfoS("Elapsed time",
		"pid", os.Getpid(),
		"worker", spec.String(),
		"ms", float64(elapsed.Microseconds())/1000,
	)
}

func (e *Engine) report(spec Spec, elapsed time.Duration) {
	if e.Report == nil {
		LogReport(spec, elapsed)
		return
	}
	e.Report(spec, elapsed)
}

// Run drives the worker described by spec until ctx is done, returning
// ctx.Err(), or until a fatal error occurs.
func (e *Engine) Run(ctx context.Context, spec Spec) error {
	if err := spec.Validate(e.PageSize); err != nil {
		return err
	}

	switch spec.Mode {
	case Heap:
		return e.runHeap(ctx, spec)
	case File:
		return e.runFile(ctx, spec)
	default:
		return fmt.Errorf("%w: unknown worker mode %q", errdefs.ErrInvariant, spec.Mode)
	}
}

// runHeap allocates a fresh anonymous region, sweeps it HeapPasses times
// and releases it, forever.
func (e *Engine) runHeap(ctx context.Context, spec Spec) error {
	size := int(spec.RegionSize)
	pages := size / e.PageSize

	for {
		region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			return fmt.Errorf("%w: failed to allocate %d bytes: %v", errdefs.ErrResource, size, err)
		}

		klog.InfoS("Allocated memory",
			"pid", os.Getpid(),
			"bytes", size,
			"size", units.BytesSize(float64(size)),
			"pages", pages,
		)

		err = e.passes(ctx, spec, region, HeapPasses)

		if uerr := unix.Munmap(region); uerr != nil && err == nil {
			err = fmt.Errorf("%w: failed to release memory: %v", errdefs.ErrResource, uerr)
		}
		if err != nil {
			return err
		}
	}
}

// runFile maps spec.FilePath shared read/write and sweeps it forever.
func (e *Engine) runFile(ctx context.Context, spec Spec) error {
	f, err := os.OpenFile(spec.FilePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", errdefs.ErrResource, spec.FilePath, err)
	}
	defer f.Close()

	if err := f.Truncate(spec.RegionSize); err != nil {
		return fmt.Errorf("%w: failed to set size of %s: %v", errdefs.ErrResource, spec.FilePath, err)
	}

	region, err := unix.Mmap(int(f.Fd()), 0, int(spec.RegionSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("%w: failed to map %s: %v", errdefs.ErrResource, spec.FilePath, err)
	}
	defer unix.Munmap(region)

	klog.InfoS("Mapped file",
		"pid", os.Getpid(),
		"path", spec.FilePath,
		"size", units.BytesSize(float64(spec.RegionSize)),
		"pages", len(region)/e.PageSize,
	)

	// passes < 0 never stops on its own
	return e.passes(ctx, spec, region, -1)
}

// passes sweeps region n times, or until an error if n is negative.
func (e *Engine) passes(ctx context.Context, spec Spec, region []byte, n int) error {
	reportPages, err := ReportPages(spec.ReportInterval, e.PageSize)
	if err != nil {
		return err
	}

	sw := NewStopwatch(e.Now)
	for k := 0; n < 0 || k < n; k++ {
		if err := e.sweep(ctx, spec, region, reportPages, sw); err != nil {
			return err
		}
	}

	return nil
}

// sweep touches every full page of region once in ascending order. The
// stopwatch restarts with the sweep and a report fires whenever the page
// index is a positive multiple of reportPages.
func (e *Engine) sweep(ctx context.Context, spec Spec, region []byte, reportPages int, sw *Stopwatch) error {
	pages := len(region) / e.PageSize
	loops := e.BurnLoops * int64(spec.CPUWork)

	sw.Reset()
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		touch(region[i*e.PageSize:])
		sink = Burn(loops)

		if i > 0 && i%reportPages == 0 {
			e.report(spec, sw.Lap())
		}
	}

	return nil
}
