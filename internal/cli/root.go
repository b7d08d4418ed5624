// Package cli implements resistctl, the command-line front end of the prediction engine.
package cli

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/resistance-prediction-engine/internal/app"
	"github.com/resistance-prediction-engine/internal/config"
)

// Version is the CLI version, overridden at build time.
var Version = "v1.0.0"

type rootOptions struct {
	cfgFile string
	verbose bool
	noAudit bool
}

// NewRootCmd builds the resistctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "resistctl",
		Short: "Therapy resistance prediction from the command line",
		Long: `resistctl runs the resistance prediction engine on a request file and prints the
risk level, confidence, detected signals and recommended actions.

Requests are YAML or JSON documents with the same fields as the HTTP API.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default: ./config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging to stderr")
	cmd.PersistentFlags().BoolVar(&opts.noAudit, "no-audit", false, "do not record predictions in the audit log")

	cmd.AddCommand(
		newPredictCmd(opts),
		newDetectorsCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "resistctl %s\n", Version)
		},
	}
}

// buildContainer loads configuration and wires the engine for one command.
func (o *rootOptions) buildContainer(ctx context.Context) (*app.Container, error) {
	var mgrOpts []config.Option
	if o.cfgFile != "" {
		mgrOpts = append(mgrOpts, config.WithConfigFile(o.cfgFile))
	}
	mgr, err := config.NewManager(mgrOpts...)
	if err != nil {
		return nil, err
	}

	cfg := mgr.GetConfig()
	if o.noAudit {
		cfg.Audit.Enabled = false
	}
	if err := mgr.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger := config.NewLogger(cfg.Logging)
	if !o.verbose {
		logger.SetLevel(logrus.WarnLevel)
	}

	return app.NewContainer(ctx, cfg, logger)
}
