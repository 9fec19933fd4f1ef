// Package stackset drives one CloudFormation stack set to its declared
// state: create or update the set itself, drop instances that fell out of
// the desired rollout, then roll the create/update batches out one at a
// time against the stack set's single operation slot.
package stackset

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"go.uber.org/zap"

	"github.com/example/stackseed/internal/cfn"
	"github.com/example/stackseed/internal/rollout"
)

// TemplateRef locates the stack set's template and carries the checksum the
// template store computed for its body.
type TemplateRef struct {
	URL      string
	Checksum string
}

// AutoDeploy mirrors the SERVICE_MANAGED auto-deployment switch.
type AutoDeploy struct {
	Enabled         bool
	RetainOnRemoval bool
}

// Options configures one stack set controller.
type Options struct {
	Name       string
	Template   TemplateRef
	Parameters []rollout.Parameter
	Tags       map[string]string

	Strategy       rollout.Strategy
	DelegatedAdmin bool
	AdminRoleARN   string
	ExecRoleName   string
	AutoDeploy     *AutoDeploy
	Preferences    *cfntypes.StackSetOperationPreferences

	// Desired is the declared rollout state; nil means no rollout is
	// configured and instance passes are skipped.
	Desired []rollout.Entry

	// Poll tuning; zero values take the defaults. Tests shrink these.
	InitialPollDelay time.Duration
	PollInterval     time.Duration
}

// Controller is the per-stack-set state machine.
type Controller struct {
	name           string
	client         cfn.API
	log            *zap.Logger
	template       TemplateRef
	parameters     []rollout.Parameter
	tags           []cfntypes.Tag
	strategy       rollout.Strategy
	delegatedAdmin bool
	adminRoleARN   string
	execRoleName   string
	autoDeploy     *AutoDeploy
	preferences    *cfntypes.StackSetOperationPreferences
	rollout        *rollout.Rollout

	initialPollDelay time.Duration
	pollInterval     time.Duration
}

var capabilities = []cfntypes.Capability{
	cfntypes.CapabilityCapabilityIam,
	cfntypes.CapabilityCapabilityNamedIam,
	cfntypes.CapabilityCapabilityAutoExpand,
}

// New validates the options and builds a controller.
func New(client cfn.API, opts Options, log *zap.Logger) (*Controller, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("stack set name is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	tags, err := formatTags(opts.Name, opts.Tags)
	if err != nil {
		return nil, err
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = rollout.StrategyAccounts
	}
	c := &Controller{
		name:             opts.Name,
		client:           client,
		log:              log,
		template:         opts.Template,
		parameters:       opts.Parameters,
		tags:             tags,
		strategy:         strategy,
		delegatedAdmin:   opts.DelegatedAdmin,
		adminRoleARN:     opts.AdminRoleARN,
		execRoleName:     opts.ExecRoleName,
		autoDeploy:       opts.AutoDeploy,
		preferences:      opts.Preferences,
		initialPollDelay: opts.InitialPollDelay,
		pollInterval:     opts.PollInterval,
	}
	if c.initialPollDelay == 0 {
		c.initialPollDelay = defaultInitialPollDelay
	}
	if c.pollInterval == 0 {
		c.pollInterval = defaultPollInterval
	}
	if opts.Desired != nil {
		c.rollout = &rollout.Rollout{
			StackSet: opts.Name,
			Strategy: strategy,
			Desired:  opts.Desired,
			Reader:   rollout.NewStateReader(client, opts.Name, strategy, log),
			Log:      log,
		}
	}
	return c, nil
}

// Name returns the stack set name the controller manages.
func (c *Controller) Name() string { return c.name }

// Deploy converges the stack set: create it when absent, otherwise clean up
// stray instances and update the set itself, then roll out instances.
func (c *Controller) Deploy(ctx context.Context) error {
	existing, err := c.find(ctx)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := c.create(ctx); err != nil {
			return err
		}
	} else {
		if err := c.cleanupInstances(ctx); err != nil {
			return err
		}
		if err := c.update(ctx, existing); err != nil {
			return err
		}
	}
	return c.rolloutInstances(ctx)
}

// Teardown deletes every instance regardless of desired state, then the
// stack set itself. An absent stack set is a no-op.
func (c *Controller) Teardown(ctx context.Context) error {
	existing, err := c.find(ctx)
	if err != nil {
		return err
	}
	if existing == nil {
		c.log.Info("stack set does not exist, skipping", zap.String("stackset", c.name))
		return nil
	}
	if err := c.wipeOutInstances(ctx); err != nil {
		return err
	}
	return c.deleteStackSet(ctx)
}

// Output always fails: stack sets have no outputs.
func (c *Controller) Output(name string) (string, error) {
	return "", fmt.Errorf("can't retrieve output %s of stackset %s, stacksets don't have outputs; please review your configuration", name, c.name)
}

func (c *Controller) find(ctx context.Context) (*cfntypes.StackSet, error) {
	out, err := c.client.DescribeStackSet(ctx, &cloudformation.DescribeStackSetInput{
		StackSetName: aws.String(c.name),
	})
	if err != nil {
		if cfn.IsNotFound(err) {
			c.log.Info("stack set does not exist", zap.String("stackset", c.name))
			return nil, nil
		}
		return nil, fmt.Errorf("describe stack set %s: %w", c.name, err)
	}
	c.log.Info("found stack set",
		zap.String("stackset", aws.ToString(out.StackSet.StackSetName)),
		zap.String("status", string(out.StackSet.Status)))
	return out.StackSet, nil
}

func (c *Controller) permissionModel() cfntypes.PermissionModels {
	if c.strategy == rollout.StrategyOrganization {
		return cfntypes.PermissionModelsServiceManaged
	}
	return cfntypes.PermissionModelsSelfManaged
}

func (c *Controller) autoDeployment() *cfntypes.AutoDeployment {
	if c.strategy != rollout.StrategyOrganization || c.autoDeploy == nil {
		return nil
	}
	ad := &cfntypes.AutoDeployment{Enabled: aws.Bool(c.autoDeploy.Enabled)}
	if c.autoDeploy.Enabled {
		ad.RetainStacksOnAccountRemoval = aws.Bool(c.autoDeploy.RetainOnRemoval)
	}
	return ad
}

func (c *Controller) create(ctx context.Context) error {
	return c.retryPending(ctx, func(ctx context.Context) error {
		c.log.Info("creating stack set",
			zap.String("stackset", c.name), zap.String("template", c.template.URL))
		in := &cloudformation.CreateStackSetInput{
			StackSetName:    aws.String(c.name),
			TemplateURL:     aws.String(c.template.URL),
			Parameters:      sdkParameters(c.parameters),
			Capabilities:    capabilities,
			Tags:            c.tags,
			PermissionModel: c.permissionModel(),
			AutoDeployment:  c.autoDeployment(),
		}
		if c.adminRoleARN != "" {
			in.AdministrationRoleARN = aws.String(c.adminRoleARN)
			in.ExecutionRoleName = aws.String(c.execRoleName)
		}
		if _, err := c.client.CreateStackSet(ctx, in); err != nil {
			return err
		}
		return c.waitPendingOperations(ctx)
	})
}

func (c *Controller) update(ctx context.Context, existing *cfntypes.StackSet) error {
	if !c.needsUpdate(existing) {
		c.log.Info("no changes to stack set template or parameters, skipping update",
			zap.String("stackset", c.name))
		return nil
	}
	return c.retryPending(ctx, func(ctx context.Context) error {
		c.log.Info("updating stack set",
			zap.String("stackset", c.name), zap.String("template", c.template.URL))
		in := &cloudformation.UpdateStackSetInput{
			StackSetName:         aws.String(c.name),
			TemplateURL:          aws.String(c.template.URL),
			Parameters:           sdkParameters(c.parameters),
			Capabilities:         capabilities,
			Tags:                 c.tags,
			PermissionModel:      c.permissionModel(),
			AutoDeployment:       c.autoDeployment(),
			OperationPreferences: c.preferences,
		}
		if c.adminRoleARN != "" {
			in.AdministrationRoleARN = aws.String(c.adminRoleARN)
			in.ExecutionRoleName = aws.String(c.execRoleName)
		}
		if _, err := c.client.UpdateStackSet(ctx, in); err != nil {
			return err
		}
		return c.waitPendingOperations(ctx)
	})
}

// cleanupInstances drops every deployed pair the desired state no longer
// covers. It runs before the stack set update so retired instances never
// receive the new template.
func (c *Controller) cleanupInstances(ctx context.Context) error {
	if c.rollout == nil {
		c.log.Info("rollout configuration is missing, not cleaning up stack instances",
			zap.String("stackset", c.name))
		return nil
	}
	return c.retryPending(ctx, func(ctx context.Context) error {
		groups, err := c.rollout.DeletePlan(ctx)
		if err != nil {
			return err
		}
		for _, group := range groups {
			for _, batch := range group.Batches {
				if err := c.submitDelete(ctx, batch, c.preferences); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// rolloutInstances runs the create pass then the update pass. The whole
// derivation happens inside the retry closure so a contention retry starts
// from fresh remote state.
func (c *Controller) rolloutInstances(ctx context.Context) error {
	if c.rollout == nil {
		c.log.Info("rollout configuration is missing, not deploying stack instances",
			zap.String("stackset", c.name))
		return nil
	}
	return c.retryPending(ctx, func(ctx context.Context) error {
		createGroups, updateGroups, err := c.rollout.CreateUpdatePlan(ctx)
		if err != nil {
			return err
		}
		for _, group := range createGroups {
			for _, batch := range group.Batches {
				if err := c.submitCreate(ctx, batch, group.Override); err != nil {
					return err
				}
			}
		}
		for _, group := range updateGroups {
			for _, batch := range group.Batches {
				if err := c.submitUpdate(ctx, batch, group.Override); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// wipeOutInstances deletes all deployed instances, one call per target,
// running each at full concurrency. Teardown ignores desired state.
func (c *Controller) wipeOutInstances(ctx context.Context) error {
	return c.retryPending(ctx, func(ctx context.Context) error {
		reader := rollout.NewStateReader(c.client, c.name, c.strategy, c.log)
		existing, err := reader.Load(ctx)
		if err != nil {
			return err
		}
		targets := make([]string, 0, len(existing))
		for t := range existing {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		prefs := &cfntypes.StackSetOperationPreferences{
			MaxConcurrentPercentage: aws.Int32(100),
		}
		for _, target := range targets {
			batch := rollout.Batch{Targets: []string{target}, Regions: existing[target]}
			if err := c.submitDelete(ctx, batch, prefs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Controller) deleteStackSet(ctx context.Context) error {
	return c.retryPending(ctx, func(ctx context.Context) error {
		c.log.Info("deleting stack set", zap.String("stackset", c.name))
		_, err := c.client.DeleteStackSet(ctx, &cloudformation.DeleteStackSetInput{
			StackSetName: aws.String(c.name),
		})
		return err
	})
}
