/*
Copyright 2022 The crdpack Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package planner

import (
	"sort"

	"github.com/crdpack/crdpack/pkg/category"
	"github.com/crdpack/crdpack/pkg/ownership"
	"github.com/crdpack/crdpack/pkg/pack"
)

// PlanInstall builds the install plan for the given root packs and their
// transitive dependencies. Per dependency depth it emits an apply-crds
// tier, a wait-crds tier and a resources tier, shallowest depth first.
// The plan is deterministic: the same packs always produce the same
// step order.
func PlanInstall(packs []*pack.Pack) (*Plan, error) {
	levels, err := levelize(packs)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for depth, level := range levels {
		var applies, waits, resources []Step

		for _, p := range level {
			for i := range p.CRDs {
				c := &p.CRDs[i]
				if c.Policy != ownership.External {
					applies = append(applies, Step{Action: ApplyCRD, Pack: p.Name, CRD: c})
				}
				if !c.SkipWait {
					waits = append(waits, Step{Action: WaitCRD, Pack: p.Name, CRD: c})
				}
			}
			for _, obj := range p.Resources {
				resources = append(resources, Step{Action: ApplyResource, Pack: p.Name, Resource: obj})
			}
		}
		sortCRDSteps(applies)
		sortCRDSteps(waits)
		sortResourceSteps(resources)

		plan.Tiers = appendTier(plan.Tiers, Tier{Name: "apply-crds", Depth: depth, Steps: applies})
		plan.Tiers = appendTier(plan.Tiers, Tier{Name: "wait-crds", Depth: depth, Steps: waits})
		plan.Tiers = appendTier(plan.Tiers, Tier{Name: "resources", Depth: depth, Steps: resources})
	}

	return plan, nil
}

// PlanUninstall builds the teardown plan: the reverse of the install
// order, deepest dependencies last. Resources are deleted before their
// definitions, and only managed CRDs get a delete step; shared and
// external definitions stay on the cluster.
func PlanUninstall(packs []*pack.Pack) (*Plan, error) {
	levels, err := levelize(packs)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	for i := len(levels) - 1; i >= 0; i-- {
		var resources, deletes []Step

		for _, p := range levels[i] {
			for _, obj := range p.Resources {
				resources = append(resources, Step{Action: DeleteResource, Pack: p.Name, Resource: obj})
			}
			for j := range p.CRDs {
				c := &p.CRDs[j]
				if c.Policy == ownership.Managed {
					deletes = append(deletes, Step{Action: DeleteCRD, Pack: p.Name, CRD: c})
				}
			}
		}
		sortCRDSteps(deletes)
		sortResourceSteps(resources)
		reverseSteps(resources)

		plan.Tiers = appendTier(plan.Tiers, Tier{Name: "delete-resources", Depth: i, Steps: resources})
		plan.Tiers = appendTier(plan.Tiers, Tier{Name: "delete-crds", Depth: i, Steps: deletes})
	}

	return plan, nil
}

func appendTier(tiers []Tier, tier Tier) []Tier {
	if len(tier.Steps) == 0 {
		return tiers
	}
	return append(tiers, tier)
}

// levelize flattens the packs, deduplicates them by name and assigns
// each pack its dependency depth with a Kahn traversal. The result is
// sorted by name within every level.
func levelize(roots []*pack.Pack) ([][]*pack.Pack, error) {
	byName := map[string]*pack.Pack{}
	var names []string
	for _, root := range roots {
		for _, p := range root.AllPacks() {
			if _, ok := byName[p.Name]; ok {
				continue
			}
			byName[p.Name] = p
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)

	// edges point from a pack to the packs that must precede it
	deps := map[string][]string{}
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, name := range names {
		for _, ref := range byName[name].DependsOn {
			if _, ok := byName[ref.Name]; !ok {
				continue
			}
			deps[name] = append(deps[name], ref.Name)
			indegree[name]++
			dependents[ref.Name] = append(dependents[ref.Name], name)
		}
	}

	depth := map[string]int{}
	var queue []string
	for _, name := range names {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		sort.Strings(queue)
		name := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range dependents[name] {
			if d := depth[name] + 1; d > depth[next] {
				depth[next] = d
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(names) {
		return nil, &CycleError{Cycle: findCycle(names, deps, indegree)}
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]*pack.Pack, maxDepth+1)
	for _, name := range names {
		d := depth[name]
		levels[d] = append(levels[d], byName[name])
	}
	return levels, nil
}

// findCycle walks the unprocessed remainder of the graph and returns one
// concrete cycle for the error message.
func findCycle(names []string, deps map[string][]string, indegree map[string]int) []string {
	remaining := map[string]bool{}
	for _, name := range names {
		if indegree[name] > 0 {
			remaining[name] = true
		}
	}

	for _, start := range names {
		if !remaining[start] {
			continue
		}
		seen := map[string]int{}
		path := []string{}
		node := start
		for {
			if at, ok := seen[node]; ok {
				return append(path[at:], node)
			}
			seen[node] = len(path)
			path = append(path, node)

			next := ""
			for _, dep := range deps[node] {
				if remaining[dep] {
					next = dep
					break
				}
			}
			if next == "" {
				break
			}
			node = next
		}
	}
	return names
}

// sortCRDSteps orders CRD steps by pack, then static-dir CRDs before
// templated ones, then source filename, then declared name.
func sortCRDSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if a.Pack != b.Pack {
			return a.Pack < b.Pack
		}
		if a.CRD.Location.Kind != b.CRD.Location.Kind {
			return a.CRD.Location.Kind < b.CRD.Location.Kind
		}
		if a.CRD.Filename != b.CRD.Filename {
			return a.CRD.Filename < b.CRD.Filename
		}
		return a.CRD.Schema.Name < b.CRD.Schema.Name
	})
}

// sortResourceSteps orders resource steps by category rank, then by the
// formatted object identifier. Definitions and namespaces land before
// the workloads that need them.
func sortResourceSteps(steps []Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		ri := category.RankObject(steps[i].Resource)
		rj := category.RankObject(steps[j].Resource)
		if ri != rj {
			return ri < rj
		}
		return steps[i].Subject() < steps[j].Subject()
	})
}

func reverseSteps(steps []Step) {
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
}
