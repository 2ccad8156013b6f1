// Package collector drives incremental, watermark-bounded ingestion of raw
// entities from the source platform into the store. Collection per project is
// all-or-nothing: raw rows are upserted as pages arrive (upserts are
// idempotent so replays are safe), but no watermark advances unless every
// entity type's window completed.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devpulse/devpulse-go/internal/gitlab"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/devpulse/devpulse-go/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultOverlap re-reads a trailing slice of the previous window so rows
// updated concurrently with the last pass are not missed. Upsert idempotency
// makes the duplicate reads harmless.
const DefaultOverlap = time.Hour

// Source is the paged listing capability the collector needs from the
// platform client.
type Source interface {
	ListGroupProjects(ctx context.Context, group string, page int) ([]models.Project, int, error)
	ListMembershipProjects(ctx context.Context, page int) ([]models.Project, int, error)
	ListMergeRequests(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.MergeRequest, int, error)
	GetMRApprovals(ctx context.Context, projectID, iid int64) (required, given int, err error)
	ListMRNotes(ctx context.Context, projectID, iid int64) ([]gitlab.Note, error)
	ListMRCommits(ctx context.Context, projectID, iid int64) ([]models.Commit, error)
	GetMRChangeCount(ctx context.Context, projectID, iid int64) (int, error)
	ListCommits(ctx context.Context, projectID int64, ref string, since, until time.Time, page int) ([]models.Commit, int, error)
	ListPipelines(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.Pipeline, int, error)
	GetPipeline(ctx context.Context, projectID, pipelineID int64) (models.Pipeline, error)
	ListPipelineJobs(ctx context.Context, projectID, pipelineID int64) ([]models.Job, error)
	ListReleases(ctx context.Context, projectID int64, page int) ([]models.Release, int, error)
	ListIssues(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.Issue, int, error)
}

// Result summarizes one project's collection pass.
type Result struct {
	ProjectID     int64
	Counts        map[models.EntityType]int
	RateLimitHits int
}

// Collector runs watermark-bounded collection passes.
type Collector struct {
	src     Source
	store   storage.Store
	retry   RetryPolicy
	overlap time.Duration
	logger  *logrus.Logger
}

// New creates a collector. A zero overlap falls back to DefaultOverlap.
func New(src Source, store storage.Store, retry RetryPolicy, overlap time.Duration, logger *logrus.Logger) *Collector {
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	return &Collector{src: src, store: store, retry: retry, overlap: overlap, logger: logger}
}

// DiscoverProjects lists and persists all collectable projects, either from
// one group (subgroups included) or from token membership when group is
// empty.
func (c *Collector) DiscoverProjects(ctx context.Context, group string) ([]models.Project, error) {
	var out []models.Project
	err := c.pages(ctx, "discover projects", nil, func(page int) (int, error) {
		var (
			batch []models.Project
			next  int
			err   error
		)
		if group != "" {
			batch, next, err = c.src.ListGroupProjects(ctx, group, page)
		} else {
			batch, next, err = c.src.ListMembershipProjects(ctx, page)
		}
		if err != nil {
			return 0, err
		}
		out = append(out, batch...)
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range out {
		if err := c.store.SaveProject(ctx, p); err != nil {
			return nil, fmt.Errorf("save project %d: %w", p.ID, err)
		}
	}
	return out, nil
}

// CollectIncremental collects every entity type for one project starting at
// its stored watermarks minus the overlap window. Watermarks advance only
// after all entity types completed.
func (c *Collector) CollectIncremental(ctx context.Context, project models.Project) (Result, error) {
	since := map[models.EntityType]time.Time{}
	for _, entity := range models.AllEntityTypes {
		wm, err := c.store.GetWatermark(ctx, project.ID, entity)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// First pass for this pair: unbounded window.
		case err != nil:
			return Result{}, fmt.Errorf("get watermark %d/%s: %w", project.ID, entity, err)
		default:
			since[entity] = wm.LastSeenUpdatedAt.Add(-c.overlap)
		}
	}
	return c.collect(ctx, project, since)
}

// CollectBackfill collects the trailing days for one project, discarding
// stored watermarks first. Backfill is the repair action for a corrupt or
// too-far-advanced watermark: the pass rebuilds every watermark from what it
// actually observed.
func (c *Collector) CollectBackfill(ctx context.Context, project models.Project, days int) (Result, error) {
	if err := c.store.ResetWatermarks(ctx, project.ID); err != nil {
		return Result{}, fmt.Errorf("reset watermarks %d: %w", project.ID, err)
	}
	start := time.Now().UTC().AddDate(0, 0, -days)
	since := map[models.EntityType]time.Time{}
	for _, entity := range models.AllEntityTypes {
		since[entity] = start
	}
	return c.collect(ctx, project, since)
}

func (c *Collector) collect(ctx context.Context, project models.Project, since map[models.EntityType]time.Time) (Result, error) {
	res := Result{ProjectID: project.ID, Counts: map[models.EntityType]int{}}
	highs := map[models.EntityType]time.Time{}

	steps := []struct {
		entity models.EntityType
		run    func(ctx context.Context, since time.Time) (int, time.Time, error)
	}{
		{models.EntityCommit, func(ctx context.Context, s time.Time) (int, time.Time, error) {
			return c.collectCommits(ctx, project, s, &res)
		}},
		{models.EntityMergeRequest, func(ctx context.Context, s time.Time) (int, time.Time, error) {
			return c.collectMergeRequests(ctx, project, s, &res)
		}},
		{models.EntityPipeline, func(ctx context.Context, s time.Time) (int, time.Time, error) {
			return c.collectPipelines(ctx, project, s, &res)
		}},
		{models.EntityRelease, func(ctx context.Context, s time.Time) (int, time.Time, error) {
			return c.collectReleases(ctx, project, s, &res)
		}},
		{models.EntityIssue, func(ctx context.Context, s time.Time) (int, time.Time, error) {
			return c.collectIssues(ctx, project, s, &res)
		}},
	}

	for _, step := range steps {
		n, high, err := step.run(ctx, since[step.entity])
		if err != nil {
			return res, fmt.Errorf("collect %s for project %d: %w", step.entity, project.ID, err)
		}
		res.Counts[step.entity] += n
		if !high.IsZero() {
			highs[step.entity] = high
		}
	}

	// Jobs ride along with pipelines; their watermark mirrors the pipeline
	// high mark so a reset replays both together.
	if high, ok := highs[models.EntityPipeline]; ok {
		highs[models.EntityJob] = high
	}

	now := time.Now().UTC()
	for entity, high := range highs {
		wm := models.Watermark{
			ProjectID:         project.ID,
			Entity:            entity,
			LastSeenUpdatedAt: high,
			LastRunAt:         now,
		}
		if err := c.store.SetWatermark(ctx, wm); err != nil {
			return res, fmt.Errorf("set watermark %d/%s: %w", project.ID, entity, err)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"project_id":      project.ID,
		"counts":          res.Counts,
		"rate_limit_hits": res.RateLimitHits,
	}).Info("collection pass complete")
	return res, nil
}

func (c *Collector) collectCommits(ctx context.Context, project models.Project, since time.Time, res *Result) (int, time.Time, error) {
	var (
		count int
		high  time.Time
	)
	err := c.pages(ctx, "list commits", res, func(page int) (int, error) {
		batch, next, err := c.src.ListCommits(ctx, project.ID, project.DefaultBranch, since, time.Time{}, page)
		if err != nil {
			return 0, err
		}
		if err := c.store.SaveCommits(ctx, batch); err != nil {
			return 0, fmt.Errorf("save commits: %w", err)
		}
		count += len(batch)
		for _, cm := range batch {
			if cm.UpdatedAt.After(high) {
				high = cm.UpdatedAt
			}
		}
		return next, nil
	})
	return count, high, err
}

func (c *Collector) collectMergeRequests(ctx context.Context, project models.Project, since time.Time, res *Result) (int, time.Time, error) {
	var (
		count int
		high  time.Time
	)
	err := c.pages(ctx, "list merge requests", res, func(page int) (int, error) {
		batch, next, err := c.src.ListMergeRequests(ctx, project.ID, since, page)
		if err != nil {
			return 0, err
		}
		for i := range batch {
			if err := c.enrichMergeRequest(ctx, &batch[i], res); err != nil {
				return 0, err
			}
		}
		if err := c.store.SaveMergeRequests(ctx, batch); err != nil {
			return 0, fmt.Errorf("save merge requests: %w", err)
		}
		count += len(batch)
		for _, mr := range batch {
			if mr.UpdatedAt.After(high) {
				high = mr.UpdatedAt
			}
		}
		return next, nil
	})
	return count, high, err
}

// enrichMergeRequest fills the detail fields a bare MR listing omits:
// approvals, notes (review activity plus draft/ready transitions), the MR's
// commit list, and the changed-file count.
func (c *Collector) enrichMergeRequest(ctx context.Context, mr *models.MergeRequest, res *Result) error {
	err := c.retry.Do(ctx, c.logger, "mr approvals", func() error {
		required, given, err := c.src.GetMRApprovals(ctx, mr.ProjectID, mr.IID)
		if err != nil {
			res.RateLimitHits += rateLimitHit(err)
			return err
		}
		mr.ApprovalsRequired = required
		mr.ApprovalsGiven = given
		return nil
	})
	if err != nil {
		return fmt.Errorf("mr %d approvals: %w", mr.IID, err)
	}

	var notes []gitlab.Note
	err = c.retry.Do(ctx, c.logger, "mr notes", func() error {
		var err error
		notes, err = c.src.ListMRNotes(ctx, mr.ProjectID, mr.IID)
		res.RateLimitHits += rateLimitHit(err)
		return err
	})
	if err != nil {
		return fmt.Errorf("mr %d notes: %w", mr.IID, err)
	}
	applyNotes(mr, notes)

	var commits []models.Commit
	err = c.retry.Do(ctx, c.logger, "mr commits", func() error {
		var err error
		commits, err = c.src.ListMRCommits(ctx, mr.ProjectID, mr.IID)
		res.RateLimitHits += rateLimitHit(err)
		return err
	})
	if err != nil {
		return fmt.Errorf("mr %d commits: %w", mr.IID, err)
	}
	mr.CommitSHAs = mr.CommitSHAs[:0]
	for i := range commits {
		commits[i].Branch = mr.SourceBranch
		mr.CommitSHAs = append(mr.CommitSHAs, commits[i].SHA)
	}
	if err := c.store.SaveCommits(ctx, commits); err != nil {
		return fmt.Errorf("save mr %d commits: %w", mr.IID, err)
	}

	err = c.retry.Do(ctx, c.logger, "mr changes", func() error {
		n, err := c.src.GetMRChangeCount(ctx, mr.ProjectID, mr.IID)
		if err != nil {
			res.RateLimitHits += rateLimitHit(err)
			return err
		}
		mr.FilesChanged = n
		return nil
	})
	if err != nil {
		return fmt.Errorf("mr %d changes: %w", mr.IID, err)
	}
	return nil
}

// applyNotes derives review timestamps and the draft→ready transition from
// the MR's note stream. Notes arrive oldest first. A human note from anyone
// but the author counts as review activity.
func applyNotes(mr *models.MergeRequest, notes []gitlab.Note) {
	mr.ReviewTimes = mr.ReviewTimes[:0]
	mr.FirstReviewAt = nil
	mr.ReadyAt = nil
	for _, n := range notes {
		if n.System {
			body := strings.ToLower(n.Body)
			if mr.ReadyAt == nil && strings.Contains(body, "marked this merge request as ready") {
				t := n.CreatedAt
				mr.ReadyAt = &t
			}
			continue
		}
		if n.Author == "" || n.Author == mr.AuthorID {
			continue
		}
		mr.ReviewTimes = append(mr.ReviewTimes, n.CreatedAt)
		if mr.FirstReviewAt == nil {
			t := n.CreatedAt
			mr.FirstReviewAt = &t
		}
	}
}

func (c *Collector) collectPipelines(ctx context.Context, project models.Project, since time.Time, res *Result) (int, time.Time, error) {
	var (
		count int
		high  time.Time
	)
	err := c.pages(ctx, "list pipelines", res, func(page int) (int, error) {
		batch, next, err := c.src.ListPipelines(ctx, project.ID, since, page)
		if err != nil {
			return 0, err
		}
		for i := range batch {
			detail := batch[i]
			err := c.retry.Do(ctx, c.logger, "pipeline detail", func() error {
				var err error
				detail, err = c.src.GetPipeline(ctx, project.ID, batch[i].PipelineID)
				res.RateLimitHits += rateLimitHit(err)
				return err
			})
			if err != nil {
				return 0, fmt.Errorf("pipeline %d detail: %w", batch[i].PipelineID, err)
			}
			batch[i] = detail

			var jobs []models.Job
			err = c.retry.Do(ctx, c.logger, "pipeline jobs", func() error {
				var err error
				jobs, err = c.src.ListPipelineJobs(ctx, project.ID, batch[i].PipelineID)
				res.RateLimitHits += rateLimitHit(err)
				return err
			})
			if err != nil {
				return 0, fmt.Errorf("pipeline %d jobs: %w", batch[i].PipelineID, err)
			}
			if err := c.store.SaveJobs(ctx, jobs); err != nil {
				return 0, fmt.Errorf("save jobs: %w", err)
			}
			res.Counts[models.EntityJob] += len(jobs)
		}
		if err := c.store.SavePipelines(ctx, batch); err != nil {
			return 0, fmt.Errorf("save pipelines: %w", err)
		}
		count += len(batch)
		for _, p := range batch {
			if p.UpdatedAt.After(high) {
				high = p.UpdatedAt
			}
		}
		return next, nil
	})
	return count, high, err
}

func (c *Collector) collectReleases(ctx context.Context, project models.Project, since time.Time, res *Result) (int, time.Time, error) {
	var (
		count int
		high  time.Time
	)
	err := c.pages(ctx, "list releases", res, func(page int) (int, error) {
		batch, next, err := c.src.ListReleases(ctx, project.ID, page)
		if err != nil {
			return 0, err
		}
		// The releases endpoint has no updated_after filter; drop rows below
		// the window bound client-side.
		kept := batch[:0]
		for _, r := range batch {
			if since.IsZero() || !r.ReleasedAt.Before(since) {
				kept = append(kept, r)
			}
		}
		if err := c.store.SaveReleases(ctx, kept); err != nil {
			return 0, fmt.Errorf("save releases: %w", err)
		}
		count += len(kept)
		for _, r := range kept {
			if r.UpdatedAt.After(high) {
				high = r.UpdatedAt
			}
		}
		return next, nil
	})
	return count, high, err
}

func (c *Collector) collectIssues(ctx context.Context, project models.Project, since time.Time, res *Result) (int, time.Time, error) {
	var (
		count int
		high  time.Time
	)
	err := c.pages(ctx, "list issues", res, func(page int) (int, error) {
		batch, next, err := c.src.ListIssues(ctx, project.ID, since, page)
		if err != nil {
			return 0, err
		}
		if err := c.store.SaveIssues(ctx, batch); err != nil {
			return 0, fmt.Errorf("save issues: %w", err)
		}
		count += len(batch)
		for _, is := range batch {
			if is.UpdatedAt.After(high) {
				high = is.UpdatedAt
			}
		}
		return next, nil
	})
	return count, high, err
}

// pages walks a paged listing, retrying each page fetch and checking for
// cancellation at page boundaries only, so a page is never half-processed.
func (c *Collector) pages(ctx context.Context, op string, res *Result, fetch func(page int) (int, error)) error {
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var next int
		err := c.retry.Do(ctx, c.logger, op, func() error {
			var err error
			next, err = fetch(page)
			if res != nil {
				res.RateLimitHits += rateLimitHit(err)
			}
			return err
		})
		if err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		page = next
	}
}

func rateLimitHit(err error) int {
	if gitlab.IsRetryable(err) {
		return 1
	}
	return 0
}
