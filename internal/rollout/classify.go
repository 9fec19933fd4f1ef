package rollout

import (
	"context"

	"go.uber.org/zap"
)

// Classifier partitions desired (target, region) pairs against the deployed
// state read from the remote service. Both passes read state fresh, so a
// retried attempt always classifies against current remote truth.
type Classifier struct {
	Desired []Entry
	Reader  StateReader
	Log     *zap.Logger
}

func (c *Classifier) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// CreateUpdate classifies every desired pair as create, update, or skip.
// A target with no deployed instances at all keeps its entry whole and goes
// straight to create.
func (c *Classifier) CreateUpdate(ctx context.Context) (create, update, skip []Entry, err error) {
	existing, err := c.Reader.Load(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	log := c.logger()
	for _, entry := range c.Desired {
		deployed, ok := existing[entry.Target]
		if !ok && len(entry.Regions) > 0 {
			log.Debug("will create instances for new target",
				zap.String("target", entry.Target), zap.Strings("regions", entry.Regions.Sorted()))
			create = append(create, Entry{Target: entry.Target, Regions: entry.Regions.Clone(), Override: entry.Override})
			continue
		}
		for _, region := range entry.Regions.Sorted() {
			if deployed.Contains(region) {
				needs, nerr := c.Reader.NeedsUpdate(ctx, entry.Target, region, entry.Override)
				if nerr != nil {
					return nil, nil, nil, nerr
				}
				if !needs {
					log.Info("stack instance is not updating",
						zap.String("target", entry.Target), zap.String("region", region))
					addRegion(&skip, entry, region)
					continue
				}
				log.Debug("will update instance",
					zap.String("target", entry.Target), zap.String("region", region))
				addRegion(&update, entry, region)
			} else {
				log.Debug("will create instance",
					zap.String("target", entry.Target), zap.String("region", region))
				addRegion(&create, entry, region)
			}
		}
	}
	return create, update, skip, nil
}

// Delete returns every deployed (target, region) pair that no desired entry
// for that target covers. A target with no desired entries loses all its
// regions.
func (c *Classifier) Delete(ctx context.Context) ([]Entry, error) {
	existing, err := c.Reader.Load(ctx)
	if err != nil {
		return nil, err
	}
	log := c.logger()
	var del []Entry
	for _, target := range sortedTargets(existing) {
		desired := RegionSet{}
		for _, entry := range c.Desired {
			if entry.Target == target {
				desired = desired.Union(entry.Regions)
			}
		}
		gone := existing[target].Subtract(desired)
		if len(gone) > 0 {
			log.Debug("target has instances set for deletion",
				zap.String("target", target), zap.Strings("regions", gone.Sorted()))
			del = append(del, Entry{Target: target, Regions: gone})
		}
	}
	return del, nil
}

// addRegion folds region into the entry for (target, override), appending a
// fresh entry when none matches yet.
func addRegion(entries *[]Entry, from Entry, region string) {
	for i := range *entries {
		if (*entries)[i].Target == from.Target && (*entries)[i].Override.Equal(from.Override) {
			(*entries)[i].Regions[region] = struct{}{}
			return
		}
	}
	*entries = append(*entries, Entry{
		Target:   from.Target,
		Regions:  NewRegionSet(region),
		Override: from.Override,
	})
}
