package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-project collection watermarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, store, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := eng.Status(ctx)
		if err != nil {
			return err
		}

		if last := report.LastRun; last != nil {
			hits := 0
			failed := 0
			for _, st := range last.Projects {
				hits += st.RateLimitHits
				if st.Error != "" {
					failed++
				}
			}
			fmt.Printf("last run: %s (%s) at %s\n", last.RunID, last.Mode,
				last.FinishedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("coverage: %.1f%%, %d/%d projects ok, %d rate-limit hits\n",
				last.CoveragePct, len(last.Projects)-failed, len(last.Projects), hits)
		}

		if len(report.Projects) == 0 {
			fmt.Println("no projects collected yet; run `devpulse backfill` first")
			return nil
		}

		for _, pw := range report.Projects {
			fmt.Printf("%s (id %d)\n", pw.Project.PathWithNS, pw.Project.ID)
			if len(pw.Watermarks) == 0 {
				fmt.Println("  never collected")
				continue
			}
			for _, wm := range pw.Watermarks {
				fmt.Printf("  %-14s seen through %s, last run %s\n",
					wm.Entity,
					wm.LastSeenUpdatedAt.Format("2006-01-02 15:04:05"),
					wm.LastRunAt.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}
