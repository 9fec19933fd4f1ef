package rollout

import (
	"context"

	"go.uber.org/zap"
)

// Rollout derives deployment plans for one stack set. Every plan call reads
// remote state fresh, so callers retrying after contention never reuse a
// stale derivation.
type Rollout struct {
	StackSet string
	Strategy Strategy
	Desired  []Entry
	Reader   StateReader
	Log      *zap.Logger
}

func (r *Rollout) classifier() *Classifier {
	return &Classifier{Desired: r.Desired, Reader: r.Reader, Log: r.Log}
}

// DeletePlan returns the batched groups of deployed pairs that fell out of
// the desired state. Group overrides are empty; delete calls ignore them.
func (r *Rollout) DeletePlan(ctx context.Context) ([]Group, error) {
	del, err := r.classifier().Delete(ctx)
	if err != nil {
		return nil, err
	}
	if r.Strategy == StrategyOrganization {
		return PlanPerEntry(del), nil
	}
	return PlanGroups(del), nil
}

// CreateUpdatePlan returns the batched create and update groups for the
// desired state against what is deployed right now.
func (r *Rollout) CreateUpdatePlan(ctx context.Context) (create, update []Group, err error) {
	createEntries, updateEntries, _, err := r.classifier().CreateUpdate(ctx)
	if err != nil {
		return nil, nil, err
	}
	if r.Strategy == StrategyOrganization {
		return PlanPerEntry(createEntries), PlanPerEntry(updateEntries), nil
	}
	return PlanGroups(createEntries), PlanGroups(updateEntries), nil
}
