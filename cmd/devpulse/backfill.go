package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var backfillDays int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Collect the trailing N days regardless of watermarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, store, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		summary, err := eng.RunBackfill(ctx, backfillDays)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillDays, "days", 90, "how many trailing days to collect")
}
