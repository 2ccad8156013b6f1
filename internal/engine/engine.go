// Package engine orchestrates full runs: discover projects, collect raw
// entities, derive facts, and roll up aggregates. One failing project never
// blocks the others; its error lands in the run summary instead.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/collector"
	"github.com/devpulse/devpulse-go/internal/inference"
	"github.com/devpulse/devpulse-go/internal/linker"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/devpulse/devpulse-go/internal/reducer"
	"github.com/devpulse/devpulse-go/internal/rules"
	"github.com/devpulse/devpulse-go/internal/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Collector is the ingestion capability the engine drives.
type Collector interface {
	DiscoverProjects(ctx context.Context, group string) ([]models.Project, error)
	CollectIncremental(ctx context.Context, project models.Project) (collector.Result, error)
	CollectBackfill(ctx context.Context, project models.Project, days int) (collector.Result, error)
}

// ProjectStatus reports one project's outcome within a run.
type ProjectStatus struct {
	ProjectID     int64                      `json:"project_id"`
	Path          string                     `json:"path"`
	Error         string                     `json:"error,omitempty"`
	Collected     map[models.EntityType]int  `json:"collected,omitempty"`
	NullFacts     int                        `json:"null_facts"`
	ExcludedFacts int                        `json:"excluded_facts"`
	RateLimitHits int                        `json:"rate_limit_hits"`
}

// RunSummary is the result of one engine run.
type RunSummary struct {
	RunID       uuid.UUID       `json:"run_id"`
	Mode        string          `json:"mode"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Projects    []ProjectStatus `json:"projects"`
	CoveragePct float64         `json:"coverage_pct"`
}

// Options configures an engine.
type Options struct {
	Group      string
	WindowDays int
	Workers    int
}

// Engine wires the pipeline stages together.
type Engine struct {
	coll   Collector
	store  storage.Store
	rules  *rules.RuleSet
	reduce *reducer.Reducer
	opts   Options
	logger *logrus.Logger
}

// New creates an engine. Zero workers defaults to the CPU count; zero window
// days defaults to 14.
func New(coll Collector, store storage.Store, rs *rules.RuleSet, opts Options, logger *logrus.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 14
	}
	return &Engine{
		coll:   coll,
		store:  store,
		rules:  rs,
		reduce: reducer.New(logger),
		opts:   opts,
		logger: logger,
	}
}

// RunIncremental collects from stored watermarks and rebuilds facts and
// aggregates for the configured window.
func (e *Engine) RunIncremental(ctx context.Context) (RunSummary, error) {
	return e.run(ctx, "incremental", 0)
}

// RunBackfill collects the trailing days regardless of watermarks, then
// rebuilds facts and aggregates.
func (e *Engine) RunBackfill(ctx context.Context, days int) (RunSummary, error) {
	return e.run(ctx, "backfill", days)
}

func (e *Engine) run(ctx context.Context, mode string, backfillDays int) (RunSummary, error) {
	summary := RunSummary{
		RunID:     uuid.New(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	log := e.logger.WithFields(logrus.Fields{"run_id": summary.RunID, "mode": mode})

	projects, err := e.coll.DiscoverProjects(ctx, e.opts.Group)
	if err != nil {
		return summary, err
	}
	log.WithField("projects", len(projects)).Info("starting run")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, project := range projects {
		project := project
		g.Go(func() error {
			status := e.runProject(gctx, project, mode, backfillDays)
			mu.Lock()
			summary.Projects = append(summary.Projects, status)
			mu.Unlock()
			// Project failures are isolated; only cancellation stops the run.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		summary.FinishedAt = time.Now().UTC()
		return summary, err
	}

	summary.CoveragePct = coverage(summary.Projects)
	summary.FinishedAt = time.Now().UTC()
	if payload, err := json.Marshal(summary); err != nil {
		log.WithError(err).Warn("encode run summary failed")
	} else if err := e.store.SaveRunSummary(ctx, summary.StartedAt, payload); err != nil {
		log.WithError(err).Warn("persist run summary failed")
	}
	log.WithFields(logrus.Fields{
		"coverage_pct": summary.CoveragePct,
		"duration":     summary.FinishedAt.Sub(summary.StartedAt),
	}).Info("run complete")
	return summary, nil
}

// runProject is the per-project unit: collect every entity type, then link,
// infer, reduce, and aggregate single-threaded.
func (e *Engine) runProject(ctx context.Context, project models.Project, mode string, backfillDays int) ProjectStatus {
	status := ProjectStatus{ProjectID: project.ID, Path: project.PathWithNS}

	var (
		res collector.Result
		err error
	)
	if mode == "backfill" {
		res, err = e.coll.CollectBackfill(ctx, project, backfillDays)
	} else {
		res, err = e.coll.CollectIncremental(ctx, project)
	}
	status.Collected = res.Counts
	status.RateLimitHits = res.RateLimitHits
	if err != nil {
		status.Error = err.Error()
		e.logger.WithFields(logrus.Fields{
			"project_id": project.ID,
			"error":      err,
		}).Error("project collection failed")
		return status
	}

	windowStart := time.Now().UTC().AddDate(0, 0, -e.opts.WindowDays)
	if mode == "backfill" {
		windowStart = time.Now().UTC().AddDate(0, 0, -backfillDays)
	}
	snap, err := e.store.GetSnapshot(ctx, project.ID, windowStart)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	graph := linker.Link(snap)
	flags := inference.Infer(graph, e.rules)
	facts := e.reduce.Reduce(graph, flags)
	if err := e.store.SaveFacts(ctx, facts); err != nil {
		status.Error = err.Error()
		return status
	}

	w := aggregate.WindowEnding(time.Now().UTC(), e.opts.WindowDays)
	if err := e.store.SaveProjectAggregate(ctx, aggregate.Project(facts, w)); err != nil {
		status.Error = err.Error()
		return status
	}
	if err := e.store.SaveDeveloperAggregates(ctx, aggregate.Developers(facts, w)); err != nil {
		status.Error = err.Error()
		return status
	}

	status.NullFacts = countNullFacts(facts)
	status.ExcludedFacts = facts.Excluded
	return status
}

// ProjectWatermarks is one project's collection state for status reporting.
type ProjectWatermarks struct {
	Project    models.Project     `json:"project"`
	Watermarks []models.Watermark `json:"watermarks"`
}

// StatusReport is the operator-facing state: the last run's summary plus
// stored watermarks for every known project. LastRun is nil before the first
// completed run.
type StatusReport struct {
	LastRun  *RunSummary         `json:"last_run,omitempty"`
	Projects []ProjectWatermarks `json:"projects"`
}

// Status reports the last run summary and stored watermarks.
func (e *Engine) Status(ctx context.Context) (StatusReport, error) {
	var report StatusReport

	raw, err := e.store.GetLastRunSummary(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return report, err
	default:
		var last RunSummary
		if err := json.Unmarshal(raw, &last); err != nil {
			return report, err
		}
		report.LastRun = &last
	}

	projects, err := e.store.GetProjects(ctx)
	if err != nil {
		return report, err
	}
	for _, p := range projects {
		pw := ProjectWatermarks{Project: p}
		for _, entity := range models.AllEntityTypes {
			wm, err := e.store.GetWatermark(ctx, p.ID, entity)
			if err != nil {
				continue
			}
			pw.Watermarks = append(pw.Watermarks, wm)
		}
		report.Projects = append(report.Projects, pw)
	}
	return report, nil
}

func countNullFacts(facts models.Facts) int {
	n := 0
	for _, f := range facts.MergeRequests {
		if f.CycleTimeHours == nil {
			n++
		}
		if f.ReviewWaitHours == nil {
			n++
		}
	}
	for _, f := range facts.Pipelines {
		if f.MTGSeconds == nil {
			n++
		}
	}
	return n
}

// coverage is the share of fact metric slots that resolved to a value across
// all successful projects.
func coverage(statuses []ProjectStatus) float64 {
	total, nulls := 0, 0
	for _, st := range statuses {
		if st.Error != "" {
			continue
		}
		for _, c := range st.Collected {
			total += c
		}
		nulls += st.NullFacts
	}
	if total == 0 {
		return 0
	}
	pct := 100 * float64(total-nulls) / float64(total)
	if pct < 0 {
		pct = 0
	}
	return pct
}
