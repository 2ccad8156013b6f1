package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var incrementalCmd = &cobra.Command{
	Use:   "incremental",
	Short: "Collect changes since the stored watermarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, store, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		summary, err := eng.RunIncremental(ctx)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}
