// Package export writes derived facts and aggregates to JSON and CSV for
// downstream analysis. Null metrics export as empty CSV cells and JSON
// nulls, never as zeros.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/models"
)

var unsafeFilenameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename maps a project path to a safe file name:
// "group/sub/repo" becomes "group__sub__repo".
func SanitizeFilename(s string) string {
	return unsafeFilenameRe.ReplaceAllString(strings.ReplaceAll(s, "/", "__"), "_")
}

// Metrics is the per-day metric block of the JSON export.
type Metrics struct {
	MRCycleTimeP50H       *float64 `json:"mr_cycle_time_p50_h"`
	ReviewWaitP50H        *float64 `json:"review_wait_p50_h"`
	PipelineSuccessRate   *float64 `json:"pipeline_success_rate"`
	DeploymentFrequencyWk int      `json:"deployment_frequency_wk"`
	ApprovalBypassRatio   *float64 `json:"approval_bypass_ratio"`
	MTGP50Sec             *float64 `json:"mtg_p50_sec"`
}

// Daily is one JSON export object: one project, one day.
type Daily struct {
	Date    string  `json:"date"`
	Org     string  `json:"org"`
	Team    string  `json:"team"`
	Repo    string  `json:"repo"`
	Metrics Metrics `json:"metrics"`
}

// DailyRows derives per-day export rows from a project's facts. A day
// appears when it saw at least one merged MR or one pipeline.
// deployment_frequency_wk counts successful production deployments in the
// seven days ending on the row's date.
func DailyRows(project models.Project, facts models.Facts) []Daily {
	org, team, repo := splitPath(project.PathWithNS)

	type bucket struct {
		cycle    []float64
		wait     []float64
		mtg      []float64
		finished int
		success  int
		merged   int
		bypassed int
	}
	days := map[string]*bucket{}
	get := func(t time.Time) *bucket {
		key := t.UTC().Format("2006-01-02")
		b := days[key]
		if b == nil {
			b = &bucket{}
			days[key] = b
		}
		return b
	}

	deploysByDay := map[string]int{}
	for _, f := range facts.MergeRequests {
		if f.MergedAt == nil {
			continue
		}
		b := get(*f.MergedAt)
		b.merged++
		if f.CycleTimeHours != nil {
			b.cycle = append(b.cycle, *f.CycleTimeHours)
		}
		if f.ReviewWaitHours != nil {
			b.wait = append(b.wait, *f.ReviewWaitHours)
		}
		if f.ApprovalBypassed {
			b.bypassed++
		}
	}
	for _, f := range facts.Pipelines {
		b := get(f.CreatedAt)
		if f.MTGSeconds != nil {
			b.mtg = append(b.mtg, *f.MTGSeconds)
		}
		switch f.Status {
		case "success":
			b.finished++
			b.success++
		case "failed":
			b.finished++
		}
		if f.IsProd && f.Status == "success" {
			deploysByDay[f.CreatedAt.UTC().Format("2006-01-02")]++
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Daily, 0, len(keys))
	for _, key := range keys {
		b := days[key]
		day, _ := time.Parse("2006-01-02", key)
		weekly := 0
		for i := 0; i < 7; i++ {
			weekly += deploysByDay[day.AddDate(0, 0, -i).Format("2006-01-02")]
		}
		out = append(out, Daily{
			Date: key,
			Org:  org,
			Team: team,
			Repo: repo,
			Metrics: Metrics{
				MRCycleTimeP50H:       aggregate.Percentile(b.cycle, 0.50),
				ReviewWaitP50H:        aggregate.Percentile(b.wait, 0.50),
				PipelineSuccessRate:   aggregate.SafeRatio(b.success, b.finished),
				DeploymentFrequencyWk: weekly,
				ApprovalBypassRatio:   aggregate.SafeRatio(b.bypassed, b.merged),
				MTGP50Sec:             aggregate.Percentile(b.mtg, 0.50),
			},
		})
	}
	return out
}

// WriteJSON streams daily rows as a JSON array.
func WriteJSON(w io.Writer, rows []Daily) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode daily rows: %w", err)
	}
	return nil
}

// WriteMRFactsCSV writes per-MR fact rows.
func WriteMRFactsCSV(w io.Writer, projectPath string, facts []models.FactMergeRequest) error {
	cw := csv.NewWriter(w)
	header := []string{
		"project_path", "mr_id", "author", "merged_at",
		"cycle_time_h", "cycle_time_null", "review_wait_h", "review_wait_null",
		"rework_count", "review_rounds", "lines_added", "lines_removed",
		"files_changed", "size_bucket", "approval_bypassed",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, f := range facts {
		row := []string{
			projectPath,
			strconv.FormatInt(f.MRID, 10),
			f.AuthorID,
			timeCell(f.MergedAt),
			floatCell(f.CycleTimeHours),
			string(f.CycleTimeNull),
			floatCell(f.ReviewWaitHours),
			string(f.ReviewWaitNull),
			strconv.Itoa(f.ReworkCount),
			strconv.Itoa(f.ReviewRounds),
			strconv.Itoa(f.LinesAdded),
			strconv.Itoa(f.LinesRemoved),
			strconv.Itoa(f.FilesChanged),
			string(f.Size),
			strconv.FormatBool(f.ApprovalBypassed),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePipelineFactsCSV writes per-pipeline fact rows.
func WritePipelineFactsCSV(w io.Writer, projectPath string, facts []models.FactPipeline) error {
	cw := csv.NewWriter(w)
	header := []string{
		"project_path", "pipeline_id", "ref", "status",
		"is_prod", "is_rollback", "is_flaky_candidate", "is_hotfix",
		"mtg_sec", "mtg_null", "duration_sec", "queue_mean_sec", "created_at",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, f := range facts {
		row := []string{
			projectPath,
			strconv.FormatInt(f.PipelineID, 10),
			f.Ref,
			f.Status,
			strconv.FormatBool(f.IsProd),
			strconv.FormatBool(f.IsRollback),
			strconv.FormatBool(f.IsFlakyCandidate),
			strconv.FormatBool(f.IsHotfix),
			floatCell(f.MTGSeconds),
			string(f.MTGNull),
			floatCell(f.DurationSec),
			floatCell(f.QueueMeanSec),
			f.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStageDurationsCSV writes per-stage job duration averages.
func WriteStageDurationsCSV(w io.Writer, stages []models.FactStageDuration) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"stage", "jobs_count", "avg_job_duration_sec"}); err != nil {
		return err
	}
	for _, s := range stages {
		row := []string{
			s.Stage,
			strconv.Itoa(s.JobCount),
			strconv.FormatFloat(s.AvgSeconds, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// PortfolioRow pairs a project path with its windowed aggregate.
type PortfolioRow struct {
	Path string
	Agg  aggregate.ProjectAggregate
}

// WritePortfolioCSV writes one rollup row per project aggregate.
func WritePortfolioCSV(w io.Writer, rows []PortfolioRow) error {
	cw := csv.NewWriter(w)
	header := []string{
		"project_path", "mrs_merged",
		"cycle_mean_h", "cycle_p50_h", "cycle_p90_h",
		"review_wait_mean_h", "review_wait_p50_h", "review_wait_p90_h",
		"pipeline_success_rate", "rollback_rate", "flaky_rate",
		"approval_bypass_rate", "deployments_per_week",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		a := r.Agg
		row := []string{
			r.Path,
			strconv.Itoa(a.MergedCount),
			floatCell(a.CycleTimeHours.Mean),
			floatCell(a.CycleTimeHours.P50),
			floatCell(a.CycleTimeHours.P90),
			floatCell(a.ReviewWaitHours.Mean),
			floatCell(a.ReviewWaitHours.P50),
			floatCell(a.ReviewWaitHours.P90),
			floatCell(a.PipelineSuccessRate),
			floatCell(a.RollbackRate),
			floatCell(a.FlakyRate),
			floatCell(a.ApprovalBypassRate),
			floatCell(a.DeploymentsPerWeek),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func floatCell(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 3, 64)
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// splitPath breaks "org/sub/repo" into org, team (full namespace), repo.
func splitPath(path string) (org, team, repo string) {
	parts := strings.Split(path, "/")
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], parts[0], parts[0]
	default:
		return parts[0], strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1]
	}
}
