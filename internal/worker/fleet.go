package worker

import (
	"k8s.io/klog/v2"

	"github.com/lutaod/memhog/internal/cgroups"
	"github.com/lutaod/memhog/internal/config"
	"github.com/lutaod/memhog/internal/coreset"
	"github.com/lutaod/memhog/internal/oomadj"
)

var (
	setPriority = oomadj.Set
	removeGroup = (*cgroups.Group).Remove
)

// Start applies the fleet's OOM priority, then spawns every worker the
// configuration calls for and waits for all of them to exit.
func Start(cfg *config.Config, cores coreset.CoreSet, spawner Spawner) error {
	if err := setPriority(cfg.OOMScore); err != nil {
		return err
	}
	klog.InfoS("Set oom_score_adj", "score", cfg.OOMScore)

	o := NewOrchestrator(spawner)

	var group *cgroups.Group
	if cfg.CgroupMemory > 0 {
		var err error
		group, err = cgroups.Configure(int64(cfg.CgroupMemory), cfg.CgroupOOMGroup)
		if err != nil {
			return err
		}
		klog.InfoS("Created cgroup", "path", group.Path, "memoryMax", cfg.CgroupMemory.Human())

		o.Attach = group.AddProcess
	}

	specs := Plan(cfg.Templates(), cores, cfg.Replicas)
	klog.InfoS("Starting workers", "count", len(specs), "cpus", cores.String(), "perCore", cfg.Replicas)

	if err := o.Run(specs); err != nil {
		if group != nil {
			// Workers spawned before the failure keep running inside it.
			klog.InfoS("Leaving cgroup in place", "path", group.Path)
		}
		return err
	}

	if group != nil {
		if err := removeGroup(group); err != nil {
			klog.ErrorS(err, "Failed to clean up cgroup", "path", group.Path)
		}
	}

	return nil
}
