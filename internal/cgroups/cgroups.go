// Package cgroups confines a worker fleet to a cgroup v2 scope.
package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/lutaod/memhog/internal/errdefs"
)

const (
	cgroupSlice  = "system.slice"
	cgroupPrefix = "memhog-"
	cgroupSuffix = ".scope"
)

// Root is the cgroup v2 mount point.
var Root = "/sys/fs/cgroup"

// Group is a cgroup created for one run.
type Group struct {
	ID   string
	Path string
}

// Configure creates a cgroup for a new run and applies the memory limit.
// With oomGroup set, the kernel kills every member when one is OOM-killed.
func Configure(memoryLimit int64, oomGroup bool) (*Group, error) {
	id := uuid.New().String()
	g := &Group{
		ID:   id,
		Path: filepath.Join(Root, cgroupSlice, cgroupPrefix+id+cgroupSuffix),
	}

	if err := g.create(); err != nil {
		return nil, err
	}

	if err := g.setMemoryLimit(memoryLimit); err != nil {
		return nil, err
	}

	if oomGroup {
		if err := g.write("memory.oom.group", "1"); err != nil {
			return nil, fmt.Errorf("%w: failed to enable oom group for cgroup %s: %v", errdefs.ErrResource, g.ID, err)
		}
	}

	return g, nil
}

// create creates the cgroup directory.
func (g *Group) create() error {
	if err := os.MkdirAll(g.Path, 0755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("%w: failed to create cgroup %s: %v", errdefs.ErrResource, g.ID, err)
	}

	return nil
}

// AddProcess moves the process with the given pid into the cgroup.
func (g *Group) AddProcess(pid int) error {
	if err := g.write("cgroup.procs", strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("%w: failed to add process %d to cgroup %s: %v", errdefs.ErrResource, pid, g.ID, err)
	}

	return nil
}

// Remove deletes the cgroup directory. It fails while processes remain.
func (g *Group) Remove() error {
	if err := os.Remove(g.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cgroup %s: %w", g.ID, err)
	}

	return nil
}

// setMemoryLimit writes memory.max in bytes.
func (g *Group) setMemoryLimit(limit int64) error {
	if err := g.write("memory.max", strconv.FormatInt(limit, 10)); err != nil {
		return fmt.Errorf("%w: failed to set memory limit for cgroup %s: %v", errdefs.ErrResource, g.ID, err)
	}

	return nil
}

func (g *Group) write(file, content string) error {
	return os.WriteFile(filepath.Join(g.Path, file), []byte(content), 0644)
}
