package worker

import (
	"github.com/lutaod/memhog/internal/coreset"
	"github.com/lutaod/memhog/internal/stress"
)

// Plan expands worker templates into one spec per (mode, core, replica)
// combination, in that nesting order. An unbound core set counts as a
// single unpinned target.
func Plan(templates []stress.Spec, cores coreset.CoreSet, replicas int) []stress.Spec {
	targets := []int{stress.Unbound}
	if !cores.IsUnbound() {
		targets = cores.Cores()
	}

	specs := make([]stress.Spec, 0, len(templates)*len(targets)*max(replicas, 0))
	for _, tmpl := range templates {
		for _, core := range targets {
			for r := 0; r < replicas; r++ {
				spec := tmpl
				spec.Core = core
				specs = append(specs, spec)
			}
		}
	}

	return specs
}
