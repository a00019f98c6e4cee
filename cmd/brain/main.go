package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"paltabrain/sdk/internal/config"
	"paltabrain/sdk/internal/logging"
)

type app struct {
	cfg config.Config
	log *logrus.Logger
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "brain",
		Short:         "PaltaBrain SDK tooling",
		Long:          `brain drives the analytics tracker and the payments checkout flow, and serves a local stub of both backends.`,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.New(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	cmd.AddCommand(
		newStubCommand(a),
		newTrackCommand(a),
		newCheckoutCommand(a),
		newFeaturesCommand(a),
		newDeadLetterCommand(a),
	)
	return cmd
}
