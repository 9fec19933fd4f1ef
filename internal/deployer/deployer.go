// Package deployer runs a set of stack set controllers through deploy or
// teardown. Stack sets share no state, so deploys may fan out across a
// bounded number of goroutines; teardown always runs sequentially in
// reverse declaration order.
package deployer

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/stackseed/internal/stackset"
)

// Deployer holds the controllers in declaration order.
type Deployer struct {
	Controllers []*stackset.Controller
	// Concurrency bounds parallel stack set deploys; values below 2 keep
	// the strict sequential declaration order.
	Concurrency int
	Log         *zap.Logger
}

func (d *Deployer) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// Deploy converges every stack set. With concurrency enabled the
// declaration order no longer implies completion order.
func (d *Deployer) Deploy(ctx context.Context) error {
	log := d.logger()
	if d.Concurrency > 1 {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(d.Concurrency)
		for _, c := range d.Controllers {
			g.Go(func() error {
				log.Info("deploying stack set", zap.String("stackset", c.Name()))
				return c.Deploy(ctx)
			})
		}
		return g.Wait()
	}
	for _, c := range d.Controllers {
		log.Info("deploying stack set", zap.String("stackset", c.Name()))
		if err := c.Deploy(ctx); err != nil {
			return err
		}
		log.Info("stack set deployment complete", zap.String("stackset", c.Name()))
	}
	return nil
}

// Teardown removes every stack set, last declared first.
func (d *Deployer) Teardown(ctx context.Context) error {
	log := d.logger()
	for i := len(d.Controllers) - 1; i >= 0; i-- {
		c := d.Controllers[i]
		log.Info("tearing down stack set", zap.String("stackset", c.Name()))
		if err := c.Teardown(ctx); err != nil {
			return err
		}
	}
	return nil
}
