package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/export"
	"github.com/devpulse/devpulse-go/internal/storage"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write JSON and CSV reports from stored facts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := buildStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := os.MkdirAll(cfg.ExportDir, 0755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}

		projects, err := store.GetProjects(ctx)
		if err != nil {
			return err
		}

		w := aggregate.WindowEnding(time.Now().UTC(), cfg.Collector.WindowDays)
		var portfolio []export.PortfolioRow
		for _, project := range projects {
			facts, err := store.GetFacts(ctx, project.ID)
			if errors.Is(err, storage.ErrNotFound) {
				logger.WithField("project", project.PathWithNS).Warn("no facts yet, skipping")
				continue
			}
			if err != nil {
				return err
			}

			base := export.SanitizeFilename(project.PathWithNS)

			if err := writeFile(filepath.Join(cfg.ExportDir, base+".json"), func(f *os.File) error {
				return export.WriteJSON(f, export.DailyRows(project, facts))
			}); err != nil {
				return err
			}
			if err := writeFile(filepath.Join(cfg.ExportDir, base+".csv"), func(f *os.File) error {
				return export.WriteMRFactsCSV(f, project.PathWithNS, facts.MergeRequests)
			}); err != nil {
				return err
			}
			if err := writeFile(filepath.Join(cfg.ExportDir, base+"__pipelines.csv"), func(f *os.File) error {
				return export.WritePipelineFactsCSV(f, project.PathWithNS, facts.Pipelines)
			}); err != nil {
				return err
			}
			if len(facts.Stages) > 0 {
				if err := writeFile(filepath.Join(cfg.ExportDir, base+"__stages.csv"), func(f *os.File) error {
					return export.WriteStageDurationsCSV(f, facts.Stages)
				}); err != nil {
					return err
				}
			}

			portfolio = append(portfolio, export.PortfolioRow{
				Path: project.PathWithNS,
				Agg:  aggregate.Project(facts, w),
			})
		}

		if len(portfolio) > 0 {
			if err := writeFile(filepath.Join(cfg.ExportDir, "_summary.csv"), func(f *os.File) error {
				return export.WritePortfolioCSV(f, portfolio)
			}); err != nil {
				return err
			}
		}

		fmt.Printf("exported %d projects to %s\n", len(portfolio), cfg.ExportDir)
		return nil
	},
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
