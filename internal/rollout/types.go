// Package rollout computes stack instance deployment plans for a stack set:
// it classifies every desired (target, region) pair against the instances
// already deployed, groups the work by parameter override, and packs each
// group into as few API calls as the one-region-list-per-call shape allows.
package rollout

import "sort"

// Strategy selects how a stack set addresses its deployment targets.
type Strategy string

const (
	// StrategyAccounts deploys to explicit account IDs (SELF_MANAGED).
	StrategyAccounts Strategy = "accounts"
	// StrategyOrganization deploys to organizational units (SERVICE_MANAGED).
	StrategyOrganization Strategy = "organization"
)

// Parameter is one stack parameter key/value pair.
type Parameter struct {
	Key   string
	Value string
}

// Override is a set of per-instance parameter overrides. Order carries no
// meaning; comparisons and fingerprints normalize it.
type Override []Parameter

// Equal reports whether both overrides contain the same key/value pairs,
// regardless of order.
func (o Override) Equal(other Override) bool {
	if len(o) != len(other) {
		return false
	}
	a := o.normalized()
	b := other.normalized()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (o Override) normalized() []Parameter {
	out := make([]Parameter, len(o))
	copy(out, o)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// RegionSet is an unordered set of region names.
type RegionSet map[string]struct{}

// NewRegionSet builds a set from the given region names.
func NewRegionSet(regions ...string) RegionSet {
	s := make(RegionSet, len(regions))
	for _, r := range regions {
		s[r] = struct{}{}
	}
	return s
}

// Contains reports whether region is in the set.
func (s RegionSet) Contains(region string) bool {
	_, ok := s[region]
	return ok
}

// Covers reports whether s is a superset of other.
func (s RegionSet) Covers(other RegionSet) bool {
	for r := range other {
		if !s.Contains(r) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold the same regions.
func (s RegionSet) Equal(other RegionSet) bool {
	return len(s) == len(other) && s.Covers(other)
}

// Intersect returns the regions present in both sets.
func (s RegionSet) Intersect(other RegionSet) RegionSet {
	out := RegionSet{}
	for r := range s {
		if other.Contains(r) {
			out[r] = struct{}{}
		}
	}
	return out
}

// Subtract returns the regions in s that are not in other.
func (s RegionSet) Subtract(other RegionSet) RegionSet {
	out := RegionSet{}
	for r := range s {
		if !other.Contains(r) {
			out[r] = struct{}{}
		}
	}
	return out
}

// Union returns the regions present in either set.
func (s RegionSet) Union(other RegionSet) RegionSet {
	out := make(RegionSet, len(s)+len(other))
	for r := range s {
		out[r] = struct{}{}
	}
	for r := range other {
		out[r] = struct{}{}
	}
	return out
}

// Clone returns an independent copy of the set.
func (s RegionSet) Clone() RegionSet {
	out := make(RegionSet, len(s))
	for r := range s {
		out[r] = struct{}{}
	}
	return out
}

// Sorted returns the regions as a sorted slice.
func (s RegionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Entry is one rollout item: a target with the regions it should cover and
// the parameter overrides those instances receive. The override is uniform
// across all regions of one entry.
type Entry struct {
	Target   string
	Regions  RegionSet
	Override Override
}

// Batch is the unit of one stack instance API call: a list of targets that
// all receive the same region list.
type Batch struct {
	Targets []string
	Regions RegionSet
}

// Group collects the batches that share one parameter override.
type Group struct {
	Override Override
	Batches  []Batch
}

func sortedTargets(m map[string]RegionSet) []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
