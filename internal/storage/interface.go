package storage

import (
	"context"
	"errors"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// Store is the keyed-upsert persistence contract. Every Save method upserts
// on the entity's natural key and must be idempotent: replaying the same row
// is a no-op, and a row older than the stored one (by updated_at) never
// overwrites a newer one.
type Store interface {
	// Raw entity upserts
	SaveProject(ctx context.Context, p models.Project) error
	SaveCommits(ctx context.Context, commits []models.Commit) error
	SaveMergeRequests(ctx context.Context, mrs []models.MergeRequest) error
	SavePipelines(ctx context.Context, pipelines []models.Pipeline) error
	SaveJobs(ctx context.Context, jobs []models.Job) error
	SaveReleases(ctx context.Context, releases []models.Release) error
	SaveIssues(ctx context.Context, issues []models.Issue) error

	// Raw entity reads (window queries for the linker)
	GetProjects(ctx context.Context) ([]models.Project, error)
	GetSnapshot(ctx context.Context, projectID int64, since time.Time) (models.Snapshot, error)

	// Watermarks: one row per (project, entity type). GetWatermark returns
	// ErrNotFound for a pair never collected.
	GetWatermark(ctx context.Context, projectID int64, entity models.EntityType) (models.Watermark, error)
	SetWatermark(ctx context.Context, wm models.Watermark) error
	ResetWatermarks(ctx context.Context, projectID int64) error

	// Derived facts: replace-not-increment per project window.
	SaveFacts(ctx context.Context, facts models.Facts) error
	GetFacts(ctx context.Context, projectID int64) (models.Facts, error)

	// Windowed aggregates
	SaveProjectAggregate(ctx context.Context, agg aggregate.ProjectAggregate) error
	SaveDeveloperAggregates(ctx context.Context, aggs []aggregate.DeveloperAggregate) error

	// Run summaries, stored as opaque JSON. GetLastRunSummary returns
	// ErrNotFound before the first completed run.
	SaveRunSummary(ctx context.Context, startedAt time.Time, payload []byte) error
	GetLastRunSummary(ctx context.Context) ([]byte, error)

	Close() error
}
