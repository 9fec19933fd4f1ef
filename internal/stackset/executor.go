// File: internal/stackset/executor.go
// Brief: Batch submission, pending-operation polling, contention retry.

package stackset

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"go.uber.org/zap"

	"github.com/example/stackseed/internal/cfn"
	"github.com/example/stackseed/internal/rollout"
)

const (
	defaultInitialPollDelay = 1 * time.Second
	defaultPollInterval     = 10 * time.Second
)

// retryPending runs fn until it returns anything other than the
// operation-in-progress contention error. The remote service holds one
// operation slot per stack set, and our "wait then submit" is a non-atomic
// check-then-act; on contention the whole attempt runs again, so fn must
// re-derive its plan from fresh remote state rather than resubmit a stale
// batch.
func (c *Controller) retryPending(ctx context.Context, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil || !cfn.IsOperationInProgress(err) {
			return err
		}
		c.log.Warn("operation in progress on stack set, retrying after wait",
			zap.String("stackset", c.name))
		if werr := c.waitPendingOperations(ctx); werr != nil {
			return werr
		}
		c.log.Warn("retrying operation", zap.String("stackset", c.name))
	}
}

// waitPendingOperations blocks until the stack set has no running or
// stopping operation. A stack set that disappears while we poll counts as
// done. There is no timeout: a remote operation that never settles stalls
// the caller, and that is accepted behavior.
func (c *Controller) waitPendingOperations(ctx context.Context) error {
	if err := sleepCtx(ctx, c.initialPollDelay); err != nil {
		return err
	}
	for {
		out, err := c.client.ListStackSetOperations(ctx, &cloudformation.ListStackSetOperationsInput{
			StackSetName: aws.String(c.name),
			MaxResults:   aws.Int32(10),
		})
		if err != nil {
			if cfn.IsNotFound(err) {
				return nil
			}
			return err
		}
		pending := 0
		for _, op := range out.Summaries {
			switch op.Status {
			case cfntypes.StackSetOperationStatusRunning, cfntypes.StackSetOperationStatusStopping:
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		c.log.Info("operations pending on stack set",
			zap.String("stackset", c.name), zap.Int("pending", pending))
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// submitCreate issues one create call for a batch and waits it out.
func (c *Controller) submitCreate(ctx context.Context, batch rollout.Batch, override rollout.Override) error {
	c.log.Info("creating stack instances",
		zap.String("stackset", c.name),
		zap.Strings("targets", batch.Targets),
		zap.Strings("regions", batch.Regions.Sorted()))
	in := &cloudformation.CreateStackInstancesInput{
		StackSetName:         aws.String(c.name),
		Regions:              batch.Regions.Sorted(),
		ParameterOverrides:   sdkParameters(override),
		OperationPreferences: c.preferences,
		CallAs:               c.callAs(),
	}
	if c.strategy == rollout.StrategyOrganization {
		in.DeploymentTargets = orgTargets(batch)
	} else {
		in.Accounts = append([]string(nil), batch.Targets...)
	}
	if _, err := c.client.CreateStackInstances(ctx, in); err != nil {
		return err
	}
	return c.waitPendingOperations(ctx)
}

// submitUpdate issues one update call for a batch and waits it out.
func (c *Controller) submitUpdate(ctx context.Context, batch rollout.Batch, override rollout.Override) error {
	c.log.Info("updating stack instances",
		zap.String("stackset", c.name),
		zap.Strings("targets", batch.Targets),
		zap.Strings("regions", batch.Regions.Sorted()))
	in := &cloudformation.UpdateStackInstancesInput{
		StackSetName:         aws.String(c.name),
		Regions:              batch.Regions.Sorted(),
		ParameterOverrides:   sdkParameters(override),
		OperationPreferences: c.preferences,
		CallAs:               c.callAs(),
	}
	if c.strategy == rollout.StrategyOrganization {
		in.DeploymentTargets = orgTargets(batch)
	} else {
		in.Accounts = append([]string(nil), batch.Targets...)
	}
	if _, err := c.client.UpdateStackInstances(ctx, in); err != nil {
		return err
	}
	return c.waitPendingOperations(ctx)
}

// submitDelete issues one delete call for a batch and waits it out.
// Overrides play no role in deletion.
func (c *Controller) submitDelete(ctx context.Context, batch rollout.Batch, prefs *cfntypes.StackSetOperationPreferences) error {
	c.log.Info("deleting stack instances",
		zap.String("stackset", c.name),
		zap.Strings("targets", batch.Targets),
		zap.Strings("regions", batch.Regions.Sorted()))
	in := &cloudformation.DeleteStackInstancesInput{
		StackSetName:         aws.String(c.name),
		Regions:              batch.Regions.Sorted(),
		RetainStacks:         aws.Bool(false),
		OperationPreferences: prefs,
		CallAs:               c.callAs(),
	}
	if c.strategy == rollout.StrategyOrganization {
		in.DeploymentTargets = orgTargets(batch)
	} else {
		in.Accounts = append([]string(nil), batch.Targets...)
	}
	if _, err := c.client.DeleteStackInstances(ctx, in); err != nil {
		return err
	}
	return c.waitPendingOperations(ctx)
}

func orgTargets(batch rollout.Batch) *cfntypes.DeploymentTargets {
	return &cfntypes.DeploymentTargets{
		OrganizationalUnitIds: append([]string(nil), batch.Targets...),
	}
}

func (c *Controller) callAs() cfntypes.CallAs {
	if c.strategy == rollout.StrategyOrganization && c.delegatedAdmin {
		return cfntypes.CallAsDelegatedAdmin
	}
	return ""
}

func sdkParameters(params []rollout.Parameter) []cfntypes.Parameter {
	out := make([]cfntypes.Parameter, 0, len(params))
	for _, p := range params {
		out = append(out, cfntypes.Parameter{
			ParameterKey:   aws.String(p.Key),
			ParameterValue: aws.String(p.Value),
		})
	}
	return out
}
