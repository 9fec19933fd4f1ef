// main.go bootstraps stackseed: it builds the root Cobra command, wires
// flag/env configuration, and executes with a signal-aware context.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	manifest     string
	installation string
	region       string
	logLevel     string
	concurrency  int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "stackseed",
		Short:         "Reconcile CloudFormation stack set rollouts across accounts and regions",
		Long:          "stackseed reads a rollout manifest, compares it with the stack instances CloudFormation reports, and drives the create/update/delete batches needed to converge.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			v.SetEnvPrefix("STACKSEED")
			v.AutomaticEnv()
			for _, name := range []string{"manifest", "installation-name", "region", "log-level"} {
				if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
					return err
				}
			}
			opts.manifest = v.GetString("manifest")
			opts.installation = v.GetString("installation-name")
			opts.region = v.GetString("region")
			opts.logLevel = v.GetString("log-level")
			if opts.installation == "" {
				return fmt.Errorf("an installation name is required (--installation-name or STACKSEED_INSTALLATION_NAME)")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.manifest, "manifest", "m", "stackseed.yaml", "Path to the rollout manifest")
	cmd.PersistentFlags().StringVarP(&opts.installation, "installation-name", "i", "", "Installation name prefixed to every stack set")
	cmd.PersistentFlags().StringVar(&opts.region, "region", "", "AWS region used for API calls and as the default rollout region")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level for stackseed output (debug, info, warn, error)")
	cmd.PersistentFlags().IntVar(&opts.concurrency, "concurrency", 1, "Number of independent stack sets deployed in parallel")
	cmd.AddCommand(newDeployCommand(opts), newTeardownCommand(opts), newVersionCommand())
	return cmd
}

func newDeployCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Converge every stack set in the manifest to its declared rollout state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), opts)
		},
	}
}

func newTeardownCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "teardown",
		Short: "Delete every stack set in the manifest, instances first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTeardown(cmd.Context(), opts)
		},
	}
}
