package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/example/stackseed/internal/cfn"
	"github.com/example/stackseed/internal/config"
	"github.com/example/stackseed/internal/deployer"
	"github.com/example/stackseed/internal/logging"
	"github.com/example/stackseed/internal/rollout"
	"github.com/example/stackseed/internal/stackset"
)

func runDeploy(ctx context.Context, opts *rootOptions) error {
	d, log, err := buildDeployer(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	section("Deploying %s", color.GreenString(opts.installation))
	if err := d.Deploy(ctx); err != nil {
		return err
	}
	section("Deployment of %s complete", color.GreenString(opts.installation))
	return nil
}

func runTeardown(ctx context.Context, opts *rootOptions) error {
	d, log, err := buildDeployer(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	section("Tearing down %s", color.RedString(opts.installation))
	if err := d.Teardown(ctx); err != nil {
		return err
	}
	section("Teardown of %s complete", color.RedString(opts.installation))
	return nil
}

func section(format string, args ...any) {
	fmt.Printf("==== %s ====\n", fmt.Sprintf(format, args...))
}

func buildDeployer(ctx context.Context, opts *rootOptions) (*deployer.Deployer, *zap.Logger, error) {
	log, err := logging.New(opts.logLevel)
	if err != nil {
		return nil, nil, err
	}
	manifest, err := config.Load(opts.manifest)
	if err != nil {
		return nil, nil, err
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	client := cfn.New(awsCfg)
	controllers, err := buildControllers(manifest, opts.installation, awsCfg.Region, client, log)
	if err != nil {
		return nil, nil, err
	}
	return &deployer.Deployer{
		Controllers: controllers,
		Concurrency: opts.concurrency,
		Log:         log,
	}, log, nil
}

func buildControllers(manifest *config.Manifest, installation, defaultRegion string, client cfn.API, log *zap.Logger) ([]*stackset.Controller, error) {
	controllers := make([]*stackset.Controller, 0, len(manifest.Stacks))
	for i := range manifest.Stacks {
		stack := &manifest.Stacks[i]
		var desired []rollout.Entry
		if stack.HasRollout() {
			entries, err := stack.DesiredEntries(defaultRegion)
			if err != nil {
				return nil, err
			}
			desired = entries
		}
		var prefs *cfntypes.StackSetOperationPreferences
		if stack.Preferences != nil {
			p, err := stack.Preferences.SDK(stack.Name)
			if err != nil {
				return nil, err
			}
			prefs = p
		}
		var autoDeploy *stackset.AutoDeploy
		if stack.AutoDeploy != nil {
			autoDeploy = &stackset.AutoDeploy{
				Enabled:         stack.AutoDeploy.Enable,
				RetainOnRemoval: stack.AutoDeploy.RetainOnRemoval,
			}
		}
		controller, err := stackset.New(client, stackset.Options{
			Name: fmt.Sprintf("%s-%s", installation, stack.Name),
			Template: stackset.TemplateRef{
				URL:      stack.TemplateURL,
				Checksum: stack.TemplateChecksum,
			},
			Parameters:     stack.FormatParameters(),
			Tags:           stack.Tags,
			Strategy:       stack.Strategy(),
			DelegatedAdmin: stack.CallAs == "delegated_admin",
			AdminRoleARN:   stack.AdminRoleARN,
			ExecRoleName:   stack.ExecRoleName,
			AutoDeploy:     autoDeploy,
			Preferences:    prefs,
			Desired:        desired,
		}, log)
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, controller)
	}
	return controllers, nil
}
