package rollout

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"go.uber.org/zap"

	"github.com/example/stackseed/internal/cfn"
)

// StateReader reports the deployed state of one stack set. It never mutates
// remote state.
type StateReader interface {
	// Load lists every deployed stack instance, grouped by target.
	Load(ctx context.Context) (map[string]RegionSet, error)
	// NeedsUpdate decides whether an already-present instance has to be
	// re-submitted to receive the desired override.
	NeedsUpdate(ctx context.Context, target, region string, desired Override) (bool, error)
}

// NewStateReader returns the reader matching the rollout strategy.
func NewStateReader(client cfn.API, stackSet string, strategy Strategy, log *zap.Logger) StateReader {
	if log == nil {
		log = zap.NewNop()
	}
	if strategy == StrategyOrganization {
		return &orgStateReader{client: client, stackSet: stackSet, log: log}
	}
	return &accountStateReader{client: client, stackSet: stackSet, log: log}
}

type accountStateReader struct {
	client   cfn.API
	stackSet string
	log      *zap.Logger
}

func (r *accountStateReader) Load(ctx context.Context) (map[string]RegionSet, error) {
	return loadInstances(ctx, r.client, r.stackSet, r.log, func(s cfntypes.StackInstanceSummary) string {
		return aws.ToString(s.Account)
	})
}

// NeedsUpdate fetches the single instance and compares its override set and
// status against what the rollout wants.
func (r *accountStateReader) NeedsUpdate(ctx context.Context, target, region string, desired Override) (bool, error) {
	out, err := r.client.DescribeStackInstance(ctx, &cloudformation.DescribeStackInstanceInput{
		StackSetName:         aws.String(r.stackSet),
		StackInstanceAccount: aws.String(target),
		StackInstanceRegion:  aws.String(region),
	})
	if err != nil {
		return false, fmt.Errorf("describe stack instance %s/%s: %w", target, region, err)
	}
	current := make(Override, 0, len(out.StackInstance.ParameterOverrides))
	for _, p := range out.StackInstance.ParameterOverrides {
		current = append(current, Parameter{Key: aws.ToString(p.ParameterKey), Value: aws.ToString(p.ParameterValue)})
	}
	if !current.Equal(desired) {
		r.log.Info("parameter overrides are changing",
			zap.String("target", target), zap.String("region", region))
		return true, nil
	}
	if out.StackInstance.Status != cfntypes.StackInstanceStatusCurrent {
		r.log.Info("stack instance is not current",
			zap.String("target", target), zap.String("region", region),
			zap.String("status", string(out.StackInstance.Status)))
		return true, nil
	}
	return false, nil
}

type orgStateReader struct {
	client   cfn.API
	stackSet string
	log      *zap.Logger
}

func (r *orgStateReader) Load(ctx context.Context) (map[string]RegionSet, error) {
	return loadInstances(ctx, r.client, r.stackSet, r.log, func(s cfntypes.StackInstanceSummary) string {
		return aws.ToString(s.OrganizationalUnitId)
	})
}

// NeedsUpdate is a constant true for OU-scoped instances: the API offers no
// cheap per-OU equality check, so every present pair is re-submitted.
func (r *orgStateReader) NeedsUpdate(ctx context.Context, target, region string, desired Override) (bool, error) {
	return true, nil
}

func loadInstances(ctx context.Context, client cfn.API, stackSet string, log *zap.Logger, key func(cfntypes.StackInstanceSummary) string) (map[string]RegionSet, error) {
	log.Info("loading stack instances", zap.String("stackset", stackSet))
	instances := map[string]RegionSet{}
	var next *string
	for {
		out, err := client.ListStackInstances(ctx, &cloudformation.ListStackInstancesInput{
			StackSetName: aws.String(stackSet),
			NextToken:    next,
		})
		if err != nil {
			return nil, fmt.Errorf("list stack instances for %s: %w", stackSet, err)
		}
		for _, s := range out.Summaries {
			target := key(s)
			if target == "" {
				continue
			}
			if instances[target] == nil {
				instances[target] = RegionSet{}
			}
			instances[target][aws.ToString(s.Region)] = struct{}{}
		}
		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}
	total := 0
	for _, regions := range instances {
		total += len(regions)
	}
	log.Info("found stack instances",
		zap.String("stackset", stackSet), zap.Int("instances", total), zap.Int("targets", len(instances)))
	return instances, nil
}
