package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"paltabrain/sdk/internal/analytics/queue"
	"paltabrain/sdk/internal/deadletter"
	"paltabrain/sdk/internal/transport"
)

func newDeadLetterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay rejected event batches",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List archived batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeFn, err := openArchive(cmd, a)
			if err != nil {
				return err
			}
			defer closeFn()

			keys, err := archive.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			return nil
		},
	}

	var url string
	replay := &cobra.Command{
		Use:   "replay <object-key>...",
		Short: "Re-send archived batches to the analytics ingest URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, closeFn, err := openArchive(cmd, a)
			if err != nil {
				return err
			}
			defer closeFn()

			if url == "" {
				url = a.cfg.AnalyticsURL
			}
			sender := queue.NewBatchSender(transport.NewRestyClient(15*time.Second), url, a.cfg.SDKName, a.cfg.SDKVersion)
			for _, key := range args {
				sent, err := archive.Replay(cmd.Context(), key, sender)
				if err != nil {
					return err
				}
				a.log.WithField("object_key", key).WithField("events", sent).Info("batch replayed")
			}
			return nil
		},
	}
	replay.Flags().StringVar(&url, "url", "", "override the analytics ingest URL")

	cmd.AddCommand(list, replay)
	return cmd
}

func openArchive(cmd *cobra.Command, a *app) (*deadletter.Archive, func(), error) {
	store, err := deadletter.Open(cmd.Context(), a.cfg)
	if err != nil {
		return nil, nil, err
	}
	return deadletter.NewArchive(store, deadletter.DefaultPrefix), func() { _ = store.Close() }, nil
}
