package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/flags"
)

type rootOptions struct {
	envFiles []string
	verbose  bool

	log *zap.Logger
	cfg *flags.Billing
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Tooling for in-app purchases",
		Long:          `billingctl verifies purchase signatures, checks purchases against the Play Developer API and simulates a billing session against an in-memory purchasing service.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load, defaults to ./.env")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newVerifyCommand(opts),
		newCheckCommand(opts),
		newSimulateCommand(opts),
	)

	return cmd
}

func (o *rootOptions) init() error {
	var err error
	if o.verbose {
		o.log, err = zap.NewDevelopment()
	} else {
		o.log, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	o.cfg, err = flags.Load(o.envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return nil
}
