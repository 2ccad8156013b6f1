// Package aggregate rolls per-entity fact rows into windowed percentile and
// ratio summaries. All computations are null-safe: an empty input yields nil
// metrics, never zero, and ratios with a zero denominator stay nil instead of
// turning into NaN.
package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/devpulse/devpulse-go/internal/models"
)

// Stat is a percentile summary of one metric over a window. Mean is
// winsorized at P1/P99 so a single outlier does not dominate the display
// value; the raw rows remain in storage for audit.
type Stat struct {
	Mean *float64 `json:"mean" db:"mean"`
	P50  *float64 `json:"p50" db:"p50"`
	P90  *float64 `json:"p90" db:"p90"`
	N    int      `json:"n" db:"n"`
	LowN bool     `json:"low_n" db:"low_n"`
}

// ProjectAggregate is the windowed rollup for one project.
type ProjectAggregate struct {
	ProjectID  int64     `json:"project_id" db:"project_id"`
	WindowDays int       `json:"window_days" db:"window_days"`
	From       time.Time `json:"from" db:"window_from"`
	To         time.Time `json:"to" db:"window_to"`

	MRCount     int `json:"mr_count" db:"mr_count"`
	MergedCount int `json:"merged_count" db:"merged_count"`

	CycleTimeHours  Stat `json:"cycle_time_hours"`
	ReviewWaitHours Stat `json:"review_wait_hours"`
	MTGSeconds      Stat `json:"mtg_seconds"`
	QueueSeconds    Stat `json:"queue_seconds"`

	PipelineSuccessRate *float64 `json:"pipeline_success_rate" db:"pipeline_success_rate"`
	RollbackRate        *float64 `json:"rollback_rate" db:"rollback_rate"`
	FlakyRate           *float64 `json:"flaky_rate" db:"flaky_rate"`
	ApprovalBypassRate  *float64 `json:"approval_bypass_rate" db:"approval_bypass_rate"`
	ReworkRate          *float64 `json:"rework_rate" db:"rework_rate"`

	DeploymentsPerWeek *float64 `json:"deployments_per_week" db:"deployments_per_week"`

	Stages []StageRollup `json:"stages,omitempty"`
}

// StageRollup carries per-stage job duration summaries into the aggregate.
type StageRollup struct {
	Stage      string  `json:"stage" db:"stage"`
	JobCount   int     `json:"job_count" db:"job_count"`
	AvgSeconds float64 `json:"avg_seconds" db:"avg_seconds"`
}

// DeveloperAggregate is the windowed rollup for one MR author within one
// project.
type DeveloperAggregate struct {
	ProjectID  int64     `json:"project_id" db:"project_id"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	WindowDays int       `json:"window_days" db:"window_days"`
	From       time.Time `json:"from" db:"window_from"`
	To         time.Time `json:"to" db:"window_to"`

	MRCount     int `json:"mr_count" db:"mr_count"`
	MergedCount int `json:"merged_count" db:"merged_count"`

	CycleTimeHours  Stat `json:"cycle_time_hours"`
	ReviewWaitHours Stat `json:"review_wait_hours"`

	ReworkRate *float64 `json:"rework_rate" db:"rework_rate"`
}

// Window bounds one aggregation pass.
type Window struct {
	Days int
	From time.Time
	To   time.Time
}

// WindowEnding builds a window of the given length ending at to.
func WindowEnding(to time.Time, days int) Window {
	return Window{Days: days, From: to.AddDate(0, 0, -days), To: to}
}

// Percentile returns the k-quantile (k in [0,1]) of values using the index
// ceil(n*k)-1 clamped to [0, n-1]. Empty input yields nil. The input slice
// is not modified.
func Percentile(values []float64, k float64) *float64 {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(float64(n)*k)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	v := sorted[idx]
	return &v
}

// SafeRatio divides num by den, returning nil when den is zero.
func SafeRatio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}

// StatOf summarizes values into mean/P50/P90 with the low-n flag. The mean
// is winsorized: values outside [P1, P99] are clamped before averaging.
func StatOf(values []float64) Stat {
	s := Stat{N: len(values), LowN: len(values) < 3}
	if len(values) == 0 {
		return s
	}
	s.P50 = Percentile(values, 0.50)
	s.P90 = Percentile(values, 0.90)
	s.Mean = winsorizedMean(values)
	return s
}

func winsorizedMean(values []float64) *float64 {
	lo := Percentile(values, 0.01)
	hi := Percentile(values, 0.99)
	var sum float64
	for _, v := range values {
		if v < *lo {
			v = *lo
		}
		if v > *hi {
			v = *hi
		}
		sum += v
	}
	mean := sum / float64(len(values))
	return &mean
}

// Project rolls one project's facts into a windowed aggregate. Only rows
// inside the window count; null metrics are skipped, not zero-filled.
func Project(facts models.Facts, w Window) ProjectAggregate {
	agg := ProjectAggregate{
		ProjectID:  facts.ProjectID,
		WindowDays: w.Days,
		From:       w.From,
		To:         w.To,
	}

	var cycle, wait []float64
	var reworked, bypassed int
	for _, f := range facts.MergeRequests {
		if f.MergedAt == nil || !inWindow(*f.MergedAt, w) {
			continue
		}
		agg.MRCount++
		agg.MergedCount++
		if f.CycleTimeHours != nil {
			cycle = append(cycle, *f.CycleTimeHours)
		}
		if f.ReviewWaitHours != nil {
			wait = append(wait, *f.ReviewWaitHours)
		}
		if f.ReworkCount > 0 {
			reworked++
		}
		if f.ApprovalBypassed {
			bypassed++
		}
	}
	agg.CycleTimeHours = StatOf(cycle)
	agg.ReviewWaitHours = StatOf(wait)
	agg.ReworkRate = SafeRatio(reworked, agg.MergedCount)
	agg.ApprovalBypassRate = SafeRatio(bypassed, agg.MergedCount)

	var mtg, queue []float64
	var finished, succeeded, prodDeploys, rollbacks, flaky int
	for _, f := range facts.Pipelines {
		if !inWindow(f.CreatedAt, w) {
			continue
		}
		if f.MTGSeconds != nil {
			mtg = append(mtg, *f.MTGSeconds)
		}
		if f.QueueMeanSec != nil {
			queue = append(queue, *f.QueueMeanSec)
		}
		switch f.Status {
		case "success":
			finished++
			succeeded++
		case "failed":
			finished++
		}
		if f.IsProd && f.Status == "success" {
			prodDeploys++
		}
		if f.IsRollback {
			rollbacks++
		}
		if f.IsFlakyCandidate {
			flaky++
		}
	}
	agg.MTGSeconds = StatOf(mtg)
	agg.QueueSeconds = StatOf(queue)
	agg.PipelineSuccessRate = SafeRatio(succeeded, finished)
	agg.RollbackRate = SafeRatio(rollbacks, finished)
	agg.FlakyRate = SafeRatio(flaky, finished)

	if w.Days > 0 && prodDeploys > 0 {
		perWeek := float64(prodDeploys) / (float64(w.Days) / 7.0)
		agg.DeploymentsPerWeek = &perWeek
	} else if prodDeploys == 0 && finished > 0 {
		zero := 0.0
		agg.DeploymentsPerWeek = &zero
	}

	for _, s := range facts.Stages {
		agg.Stages = append(agg.Stages, StageRollup{
			Stage:      s.Stage,
			JobCount:   s.JobCount,
			AvgSeconds: s.AvgSeconds,
		})
	}
	return agg
}

// Developers rolls facts into per-author aggregates, sorted by author ID for
// deterministic output.
func Developers(facts models.Facts, w Window) []DeveloperAggregate {
	type acc struct {
		merged   int
		reworked int
		cycle    []float64
		wait     []float64
	}
	byAuthor := map[string]*acc{}
	for _, f := range facts.MergeRequests {
		if f.AuthorID == "" || f.MergedAt == nil || !inWindow(*f.MergedAt, w) {
			continue
		}
		a := byAuthor[f.AuthorID]
		if a == nil {
			a = &acc{}
			byAuthor[f.AuthorID] = a
		}
		a.merged++
		if f.CycleTimeHours != nil {
			a.cycle = append(a.cycle, *f.CycleTimeHours)
		}
		if f.ReviewWaitHours != nil {
			a.wait = append(a.wait, *f.ReviewWaitHours)
		}
		if f.ReworkCount > 0 {
			a.reworked++
		}
	}

	authors := make([]string, 0, len(byAuthor))
	for id := range byAuthor {
		authors = append(authors, id)
	}
	sort.Strings(authors)

	out := make([]DeveloperAggregate, 0, len(authors))
	for _, id := range authors {
		a := byAuthor[id]
		out = append(out, DeveloperAggregate{
			ProjectID:       facts.ProjectID,
			AuthorID:        id,
			WindowDays:      w.Days,
			From:            w.From,
			To:              w.To,
			MRCount:         a.merged,
			MergedCount:     a.merged,
			CycleTimeHours:  StatOf(a.cycle),
			ReviewWaitHours: StatOf(a.wait),
			ReworkRate:      SafeRatio(a.reworked, a.merged),
		})
	}
	return out
}

func inWindow(t time.Time, w Window) bool {
	return !t.Before(w.From) && !t.After(w.To)
}
