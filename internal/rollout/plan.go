// File: internal/rollout/plan.go
// Brief: Override grouping and minimal-batch deployment planning.

package rollout

import "sort"

// PlanGroups groups entries by override fingerprint and packs each group's
// ragged target→regions mapping into as few batches as the search finds.
// One batch can name many targets but only one region list, so the packing
// is a cover of the target×region incidence by rectangles.
func PlanGroups(entries []Entry) []Group {
	var groups []Group
	for _, g := range groupByOverride(entries) {
		groups = append(groups, Group{
			Override: g.override,
			Batches:  planBatches(g.targets),
		})
	}
	return groups
}

// PlanPerEntry emits one single-target batch per entry, preserving entry
// order. Organization-scoped rollouts use it: each call addresses one OU.
func PlanPerEntry(entries []Entry) []Group {
	var groups []Group
	for _, entry := range entries {
		groups = append(groups, Group{
			Override: entry.Override,
			Batches: []Batch{{
				Targets: []string{entry.Target},
				Regions: entry.Regions.Clone(),
			}},
		})
	}
	return groups
}

type overrideGroup struct {
	fingerprint string
	override    Override
	targets     map[string]RegionSet
}

// groupByOverride folds entries sharing a fingerprint into one
// target→regions mapping, merging regions when a target appears twice with
// the same override. Groups come out ordered by fingerprint.
func groupByOverride(entries []Entry) []overrideGroup {
	byPrint := map[string]*overrideGroup{}
	for _, entry := range entries {
		fp := Fingerprint(entry.Override)
		g, ok := byPrint[fp]
		if !ok {
			g = &overrideGroup{fingerprint: fp, override: entry.Override, targets: map[string]RegionSet{}}
			byPrint[fp] = g
		}
		if g.targets[entry.Target] == nil {
			g.targets[entry.Target] = RegionSet{}
		}
		g.targets[entry.Target] = g.targets[entry.Target].Union(entry.Regions)
	}
	out := make([]overrideGroup, 0, len(byPrint))
	for _, g := range byPrint {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fingerprint < out[j].fingerprint })
	return out
}

// planBatches covers the mapping with batches by recursive search: rank the
// candidate region sets, cost each candidate by the batches its residual
// still needs, and commit the cheapest (earliest-ranked on ties). The search
// is exponential in the worst case; groups are expected to hold tens of
// targets, not thousands.
func planBatches(m map[string]RegionSet) []Batch {
	var batches []Batch
	for len(m) > 1 {
		candidates := rankSets(m)
		best := 0
		bestCost := -1
		for i, candidate := range candidates {
			_, residual := computeBatch(m, candidate)
			cost := len(planBatches(residual))
			if bestCost < 0 || cost < bestCost {
				best, bestCost = i, cost
			}
		}
		var batch Batch
		batch, m = computeBatch(m, candidates[best])
		batches = append(batches, batch)
	}
	for _, target := range sortedTargets(m) {
		batches = append(batches, Batch{Targets: []string{target}, Regions: m[target].Clone()})
	}
	return batches
}

// rankSets enumerates candidate region sets for one batch: the distinct
// non-empty intersections of every target subset of size two or more, with
// each member's own region set standing in when a subset's intersection is
// empty. Larger sets rank first; discovery order breaks ties.
func rankSets(m map[string]RegionSet) []RegionSet {
	targets := sortedTargets(m)
	var ranking []RegionSet
	seen := func(s RegionSet) bool {
		for _, r := range ranking {
			if r.Equal(s) {
				return true
			}
		}
		return false
	}
	for size := len(targets); size >= 2; size-- {
		combinations(targets, size, func(subset []string) {
			intersected := m[subset[0]].Clone()
			for _, t := range subset[1:] {
				intersected = intersected.Intersect(m[t])
			}
			if len(intersected) > 0 {
				if !seen(intersected) {
					ranking = append(ranking, intersected)
				}
				return
			}
			for _, t := range subset {
				if !seen(m[t]) {
					ranking = append(ranking, m[t])
				}
			}
		})
	}
	sort.SliceStable(ranking, func(i, j int) bool { return len(ranking[i]) > len(ranking[j]) })
	return ranking
}

// computeBatch emits regions to every target whose region set covers them
// and returns the residual mapping. The input mapping is left untouched.
func computeBatch(m map[string]RegionSet, regions RegionSet) (Batch, map[string]RegionSet) {
	batch := Batch{Regions: regions.Clone()}
	residual := map[string]RegionSet{}
	for _, target := range sortedTargets(m) {
		if m[target].Covers(regions) {
			batch.Targets = append(batch.Targets, target)
			if rest := m[target].Subtract(regions); len(rest) > 0 {
				residual[target] = rest
			}
		} else {
			residual[target] = m[target].Clone()
		}
	}
	return batch, residual
}

// combinations calls fn with every size-k subset of items, in lexicographic
// order over the input slice. The slice passed to fn is reused across calls.
func combinations(items []string, k int, fn func([]string)) {
	if k > len(items) || k <= 0 {
		return
	}
	subset := make([]string, k)
	var walk func(start, depth int)
	walk = func(start, depth int) {
		if depth == k {
			fn(subset)
			return
		}
		for i := start; i <= len(items)-(k-depth); i++ {
			subset[depth] = items[i]
			walk(i+1, depth+1)
		}
	}
	walk(0, 0)
}
