package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lutaod/memhog/internal/cgroups"
	"github.com/lutaod/memhog/internal/config"
	"github.com/lutaod/memhog/internal/coreset"
	"github.com/lutaod/memhog/internal/errdefs"
	"github.com/lutaod/memhog/internal/stress"
)

// fakeSpawner records spawned specs. Spawn number failAt (1-based) fails;
// zero never fails. Odd-numbered workers exit with an error. Workers get
// pids counting up from 1001.
type fakeSpawner struct {
	mu      sync.Mutex
	failAt  int
	spawned []stress.Spec
	before  func()
}

func (f *fakeSpawner) Spawn(spec stress.Spec, attach func(pid int) error) (*Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.before != nil {
		f.before()
	}

	n := len(f.spawned) + 1
	if n == f.failAt {
		return nil, errors.New("fork: resource temporarily unavailable")
	}
	f.spawned = append(f.spawned, spec)

	if attach != nil {
		if err := attach(1000 + n); err != nil {
			return nil, err
		}
	}

	return NewHandle(1000+n, spec, func() error {
		if n%2 == 1 {
			return fmt.Errorf("exit status 1")
		}
		return nil
	}), nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

// stubPriority restores the real priority setter when t ends.
func stubPriority(t *testing.T) {
	t.Helper()
	old := setPriority
	t.Cleanup(func() { setPriority = old })
}

func templates(modes int) []stress.Spec {
	specs := []stress.Spec{
		{Mode: stress.Heap, Core: stress.Unbound, RegionSize: 1 << 20, ReportInterval: 64 << 10, CPUWork: 1},
		{Mode: stress.File, Core: stress.Unbound, RegionSize: 1 << 20, ReportInterval: 64 << 10, FilePath: "/tmp/r", CPUWork: 1},
	}
	return specs[:modes]
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		modes    int
		cores    coreset.CoreSet
		replicas int
		want     int
	}{
		{name: "one mode unbound", modes: 1, cores: coreset.CoreSet{}, replicas: 1, want: 1},
		{name: "two modes unbound", modes: 2, cores: coreset.CoreSet{}, replicas: 3, want: 6},
		{name: "one mode three cores", modes: 1, cores: coreset.New(0, 1, 2), replicas: 2, want: 6},
		{name: "two modes two cores", modes: 2, cores: coreset.New(1, 5), replicas: 4, want: 16},
		{name: "no replicas", modes: 2, cores: coreset.New(1), replicas: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := Plan(templates(tt.modes), tt.cores, tt.replicas)
			assert.Len(t, specs, tt.want)

			for _, s := range specs {
				if tt.cores.IsUnbound() {
					assert.Equal(t, stress.Unbound, s.Core)
				} else {
					assert.True(t, tt.cores.Contains(s.Core))
				}
			}
		})
	}
}

func TestPlanOrder(t *testing.T) {
	specs := Plan(templates(2), coreset.New(2, 3), 2)

	var got []string
	for _, s := range specs {
		got = append(got, s.String())
	}

	assert.Equal(t, []string{
		"heap/core 2", "heap/core 2", "heap/core 3", "heap/core 3",
		"file/core 2", "file/core 2", "file/core 3", "file/core 3",
	}, got)
}

func TestOrchestratorReapsAll(t *testing.T) {
	f := &fakeSpawner{}
	o := NewOrchestrator(f)

	var attached []int
	o.Attach = func(pid int) error {
		attached = append(attached, pid)
		return nil
	}

	specs := Plan(templates(2), coreset.New(0, 1, 2), 2)
	require.NoError(t, o.Run(specs))

	assert.Equal(t, 12, f.count())
	assert.Equal(t, specs, f.spawned)
	assert.Len(t, attached, 12)
}

func TestOrchestratorStopsOnSpawnFailure(t *testing.T) {
	f := &fakeSpawner{failAt: 4}
	o := NewOrchestrator(f)

	err := o.Run(Plan(templates(1), coreset.New(0, 1, 2, 3), 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrResource))
	assert.Equal(t, 3, f.count(), "no worker may be spawned after a failure")
}

func TestOrchestratorAttachFailure(t *testing.T) {
	f := &fakeSpawner{}
	o := NewOrchestrator(f)
	o.Attach = func(pid int) error {
		return fmt.Errorf("%w: cgroup gone", errdefs.ErrResource)
	}

	err := o.Run(Plan(templates(1), coreset.CoreSet{}, 3))
	assert.True(t, errors.Is(err, errdefs.ErrResource))
	assert.Equal(t, 1, f.count())
}

func TestExecSpawnerStartFailure(t *testing.T) {
	s := NewExecSpawner()
	s.Path = filepath.Join(t.TempDir(), "missing")

	attached := false
	_, err := s.Spawn(templates(1)[0], func(int) error {
		attached = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, attached, "nothing to attach when start fails")
}

func TestSpecPipe(t *testing.T) {
	reader, writer, err := os.Pipe()
	require.NoError(t, err)
	defer reader.Close()

	spec := templates(2)[1]
	spec.Core = 7
	spec.Timeout = time.Minute

	require.NoError(t, writeSpec(writer, spec))

	got, err := readSpec(reader)
	require.NoError(t, err)
	assert.Equal(t, spec, got)
}

func TestRunSpecTimeout(t *testing.T) {
	pageSize := os.Getpagesize()
	engine := &stress.Engine{
		PageSize:  pageSize,
		BurnLoops: 1,
		Report:    func(stress.Spec, time.Duration) {},
	}
	spec := stress.Spec{
		Mode:           stress.Heap,
		Core:           stress.Unbound,
		RegionSize:     int64(4 * pageSize),
		ReportInterval: int64(pageSize),
		CPUWork:        1,
		Timeout:        50 * time.Millisecond,
	}

	assert.NoError(t, runSpec(context.Background(), engine, spec))
}

func TestRunSpecFailure(t *testing.T) {
	engine := &stress.Engine{PageSize: os.Getpagesize(), BurnLoops: 1}
	spec := stress.Spec{
		Mode:           stress.File,
		Core:           stress.Unbound,
		RegionSize:     1 << 20,
		ReportInterval: 64 << 10,
		FilePath:       filepath.Join(t.TempDir(), "missing", "region"),
		CPUWork:        1,
		Timeout:        time.Second,
	}

	err := runSpec(context.Background(), engine, spec)
	assert.True(t, errors.Is(err, errdefs.ErrResource))
}

func TestStart(t *testing.T) {
	var score *int
	stubPriority(t)
	setPriority = func(s int) error {
		score = &s
		return nil
	}

	f := &fakeSpawner{
		before: func() {
			require.NotNil(t, score, "priority must be set before the first spawn")
		},
	}

	cfg := config.New()
	cfg.AnonMem = 1 << 20
	cfg.FileMem = 1 << 20
	cfg.FilePath = "/tmp/region"
	cfg.Replicas = 3

	require.NoError(t, Start(cfg, coreset.New(0, 2), f))

	require.NotNil(t, score)
	assert.Equal(t, config.DefaultOOMScore, *score)
	assert.Equal(t, 2*3*2, f.count())
}

func TestStartWithCgroup(t *testing.T) {
	stubPriority(t)
	setPriority = func(int) error { return nil }

	oldRoot := cgroups.Root
	cgroups.Root = t.TempDir()
	t.Cleanup(func() { cgroups.Root = oldRoot })

	cfg := config.New()
	cfg.AnonMem = 1 << 20
	cfg.CgroupMemory = 64 << 20

	f := &fakeSpawner{}
	require.NoError(t, Start(cfg, coreset.CoreSet{}, f))
	assert.Equal(t, 1, f.count())

	matches, err := filepath.Glob(filepath.Join(cgroups.Root, "system.slice", "memhog-*.scope", "cgroup.procs"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "1001", string(data))
}

// stubRemove counts cgroup removals for the rest of t.
func stubRemove(t *testing.T) *int {
	t.Helper()
	old := removeGroup
	t.Cleanup(func() { removeGroup = old })

	calls := new(int)
	removeGroup = func(g *cgroups.Group) error {
		*calls++
		return old(g)
	}
	return calls
}

func TestStartRemovesCgroupAfterRun(t *testing.T) {
	stubPriority(t)
	setPriority = func(int) error { return nil }
	removals := stubRemove(t)

	oldRoot := cgroups.Root
	cgroups.Root = t.TempDir()
	t.Cleanup(func() { cgroups.Root = oldRoot })

	cfg := config.New()
	cfg.AnonMem = 1 << 20
	cfg.CgroupMemory = 64 << 20

	require.NoError(t, Start(cfg, coreset.CoreSet{}, &fakeSpawner{}))
	assert.Equal(t, 1, *removals)
}

func TestStartKeepsCgroupOnSpawnFailure(t *testing.T) {
	stubPriority(t)
	setPriority = func(int) error { return nil }
	removals := stubRemove(t)

	oldRoot := cgroups.Root
	cgroups.Root = t.TempDir()
	t.Cleanup(func() { cgroups.Root = oldRoot })

	cfg := config.New()
	cfg.AnonMem = 1 << 20
	cfg.Replicas = 3
	cfg.CgroupMemory = 64 << 20

	f := &fakeSpawner{failAt: 2}
	err := Start(cfg, coreset.CoreSet{}, f)
	assert.True(t, errors.Is(err, errdefs.ErrResource))
	assert.Equal(t, 1, f.count())
	assert.Equal(t, 0, *removals, "cgroup still holds running workers")

	matches, err := filepath.Glob(filepath.Join(cgroups.Root, "system.slice", "memhog-*.scope"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(filepath.Join(matches[0], "cgroup.procs"))
	require.NoError(t, err)
	assert.Equal(t, "1001", string(data))
}

func TestStartPriorityFailure(t *testing.T) {
	stubPriority(t)
	setPriority = func(int) error {
		return fmt.Errorf("%w: permission denied", errdefs.ErrResource)
	}

	cfg := config.New()
	cfg.AnonMem = 1 << 20

	f := &fakeSpawner{}
	err := Start(cfg, coreset.CoreSet{}, f)
	assert.True(t, errors.Is(err, errdefs.ErrResource))
	assert.Equal(t, 0, f.count())
}
