package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devpulse/devpulse-go/internal/gitlab"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/devpulse/devpulse-go/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// fakeSource serves canned pages and records the updatedAfter bounds it was
// asked for. errOn injects one failure per matching op.
type fakeSource struct {
	mrs       []models.MergeRequest
	commits   []models.Commit
	pipelines []models.Pipeline
	jobs      map[int64][]models.Job
	notes     map[int64][]gitlab.Note

	mrUpdatedAfter       time.Time
	pipelineUpdatedAfter time.Time

	errOn     string
	err       error
	errBudget int
}

func (f *fakeSource) fail(op string) error {
	if f.errOn == op && f.errBudget != 0 {
		f.errBudget--
		return f.err
	}
	return nil
}

func (f *fakeSource) ListGroupProjects(ctx context.Context, group string, page int) ([]models.Project, int, error) {
	return nil, 0, nil
}

func (f *fakeSource) ListMembershipProjects(ctx context.Context, page int) ([]models.Project, int, error) {
	return []models.Project{{ID: 1, PathWithNS: "g/p", DefaultBranch: "main"}}, 0, nil
}

func (f *fakeSource) ListMergeRequests(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.MergeRequest, int, error) {
	if err := f.fail("mrs"); err != nil {
		return nil, 0, err
	}
	f.mrUpdatedAfter = updatedAfter
	return f.mrs, 0, nil
}

func (f *fakeSource) GetMRApprovals(ctx context.Context, projectID, iid int64) (int, int, error) {
	return 1, 1, nil
}

func (f *fakeSource) ListMRNotes(ctx context.Context, projectID, iid int64) ([]gitlab.Note, error) {
	return f.notes[iid], nil
}

func (f *fakeSource) ListMRCommits(ctx context.Context, projectID, iid int64) ([]models.Commit, error) {
	return nil, nil
}

func (f *fakeSource) GetMRChangeCount(ctx context.Context, projectID, iid int64) (int, error) {
	return 2, nil
}

func (f *fakeSource) ListCommits(ctx context.Context, projectID int64, ref string, since, until time.Time, page int) ([]models.Commit, int, error) {
	if err := f.fail("commits"); err != nil {
		return nil, 0, err
	}
	return f.commits, 0, nil
}

func (f *fakeSource) ListPipelines(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.Pipeline, int, error) {
	if err := f.fail("pipelines"); err != nil {
		return nil, 0, err
	}
	f.pipelineUpdatedAfter = updatedAfter
	return f.pipelines, 0, nil
}

func (f *fakeSource) GetPipeline(ctx context.Context, projectID, pipelineID int64) (models.Pipeline, error) {
	for _, p := range f.pipelines {
		if p.PipelineID == pipelineID {
			return p, nil
		}
	}
	return models.Pipeline{}, errors.New("no such pipeline")
}

func (f *fakeSource) ListPipelineJobs(ctx context.Context, projectID, pipelineID int64) ([]models.Job, error) {
	return f.jobs[pipelineID], nil
}

func (f *fakeSource) ListReleases(ctx context.Context, projectID int64, page int) ([]models.Release, int, error) {
	return nil, 0, nil
}

func (f *fakeSource) ListIssues(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.Issue, int, error) {
	return nil, 0, nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testProject() models.Project {
	return models.Project{ID: 1, PathWithNS: "g/p", DefaultBranch: "main"}
}

func TestCollectIncremental_AdvancesWatermarks(t *testing.T) {
	src := &fakeSource{
		mrs: []models.MergeRequest{
			{ProjectID: 1, MRID: 10, IID: 1, SourceBranch: "f", CreatedAt: base, UpdatedAt: base.Add(2 * time.Hour)},
		},
		commits: []models.Commit{
			{ProjectID: 1, SHA: "c1", CommittedAt: base, UpdatedAt: base},
		},
		pipelines: []models.Pipeline{
			{ProjectID: 1, PipelineID: 5, SHA: "c1", Ref: "main", Status: "success", CreatedAt: base, UpdatedAt: base.Add(time.Hour)},
		},
		jobs: map[int64][]models.Job{5: {{ProjectID: 1, JobID: 50, PipelineID: 5, Stage: "build"}}},
	}
	store := storage.NewMemory()
	c := New(src, store, fastRetry(), time.Hour, testLogger())

	res, err := c.CollectIncremental(context.Background(), testProject())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts[models.EntityMergeRequest])
	assert.Equal(t, 1, res.Counts[models.EntityCommit])
	assert.Equal(t, 1, res.Counts[models.EntityPipeline])
	assert.Equal(t, 1, res.Counts[models.EntityJob])

	wm, err := store.GetWatermark(context.Background(), 1, models.EntityMergeRequest)
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Hour), wm.LastSeenUpdatedAt)

	wm, err = store.GetWatermark(context.Background(), 1, models.EntityPipeline)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), wm.LastSeenUpdatedAt)

	// Jobs share the pipeline high mark.
	wm, err = store.GetWatermark(context.Background(), 1, models.EntityJob)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), wm.LastSeenUpdatedAt)

	snap, err := store.GetSnapshot(context.Background(), 1, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snap.MergeRequests, 1)
	assert.Equal(t, 2, snap.MergeRequests[0].FilesChanged)
}

func TestCollectIncremental_OverlapWindow(t *testing.T) {
	src := &fakeSource{}
	store := storage.NewMemory()
	wmAt := base.Add(48 * time.Hour)
	require.NoError(t, store.SetWatermark(context.Background(), models.Watermark{
		ProjectID: 1, Entity: models.EntityMergeRequest, LastSeenUpdatedAt: wmAt,
	}))

	c := New(src, store, fastRetry(), time.Hour, testLogger())
	_, err := c.CollectIncremental(context.Background(), testProject())
	require.NoError(t, err)

	assert.Equal(t, wmAt.Add(-time.Hour), src.mrUpdatedAfter,
		"window must start one overlap before the stored watermark")
	assert.True(t, src.pipelineUpdatedAfter.IsZero(),
		"entity types without a watermark start unbounded")
}

func TestCollectBackfill_ResetsStaleWatermarks(t *testing.T) {
	src := &fakeSource{
		mrs: []models.MergeRequest{
			{ProjectID: 1, MRID: 10, IID: 1, CreatedAt: base, UpdatedAt: base.Add(time.Hour)},
		},
	}
	store := storage.NewMemory()
	// A watermark far in the future would starve incremental passes; backfill
	// must rebuild it from what it actually observed.
	require.NoError(t, store.SetWatermark(context.Background(), models.Watermark{
		ProjectID: 1, Entity: models.EntityMergeRequest, LastSeenUpdatedAt: base.Add(10000 * time.Hour),
	}))
	require.NoError(t, store.SetWatermark(context.Background(), models.Watermark{
		ProjectID: 1, Entity: models.EntityRelease, LastSeenUpdatedAt: base.Add(10000 * time.Hour),
	}))

	c := New(src, store, fastRetry(), time.Hour, testLogger())
	_, err := c.CollectBackfill(context.Background(), testProject(), 90)
	require.NoError(t, err)

	wm, err := store.GetWatermark(context.Background(), 1, models.EntityMergeRequest)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), wm.LastSeenUpdatedAt)

	// Entities the pass saw nothing for stay unset after the reset.
	_, err = store.GetWatermark(context.Background(), 1, models.EntityRelease)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCollect_FailureLeavesWatermarksUntouched(t *testing.T) {
	src := &fakeSource{
		mrs: []models.MergeRequest{
			{ProjectID: 1, MRID: 10, IID: 1, CreatedAt: base, UpdatedAt: base.Add(time.Hour)},
		},
		errOn:     "pipelines",
		err:       errors.New("boom: status 404"),
		errBudget: -1,
	}
	store := storage.NewMemory()
	c := New(src, store, fastRetry(), time.Hour, testLogger())

	_, err := c.CollectIncremental(context.Background(), testProject())
	require.Error(t, err)

	for _, entity := range models.AllEntityTypes {
		_, err := store.GetWatermark(context.Background(), 1, entity)
		assert.ErrorIs(t, err, storage.ErrNotFound,
			"no watermark may advance when any entity type failed: %s", entity)
	}
}

func TestCollect_RetriesRateLimitThenSucceeds(t *testing.T) {
	src := &fakeSource{
		commits:   []models.Commit{{ProjectID: 1, SHA: "c1", UpdatedAt: base}},
		errOn:     "commits",
		err:       &gitlab.RateLimitError{StatusCode: 503},
		errBudget: 1,
	}
	store := storage.NewMemory()
	c := New(src, store, fastRetry(), time.Hour, testLogger())

	res, err := c.CollectIncremental(context.Background(), testProject())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts[models.EntityCommit])
	assert.Equal(t, 1, res.RateLimitHits)
}

func TestCollect_HardErrorIsNotRetried(t *testing.T) {
	src := &fakeSource{
		errOn:     "commits",
		err:       errors.New("status 401"),
		errBudget: -1,
	}
	store := storage.NewMemory()
	c := New(src, store, fastRetry(), time.Hour, testLogger())

	_, err := c.CollectIncremental(context.Background(), testProject())
	require.Error(t, err)
	// errBudget only decrements on calls; -1 start means unlimited, so probe
	// the call count instead: one list attempt, no retries.
	assert.Equal(t, -2, src.errBudget)
}

func TestCollect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{}
	c := New(src, storage.NewMemory(), fastRetry(), time.Hour, testLogger())
	_, err := c.CollectIncremental(ctx, testProject())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApplyNotes(t *testing.T) {
	mr := &models.MergeRequest{AuthorID: "alice", CreatedAt: base}
	notes := []gitlab.Note{
		{System: true, Body: "marked this merge request as draft", Author: "alice", CreatedAt: base},
		{Body: "self comment", Author: "alice", CreatedAt: base.Add(time.Hour)},
		{System: true, Body: "marked this merge request as ready", Author: "alice", CreatedAt: base.Add(2 * time.Hour)},
		{Body: "looks wrong here", Author: "bob", CreatedAt: base.Add(3 * time.Hour)},
		{Body: "better now", Author: "carol", CreatedAt: base.Add(5 * time.Hour)},
	}

	applyNotes(mr, notes)

	require.NotNil(t, mr.ReadyAt)
	assert.Equal(t, base.Add(2*time.Hour), *mr.ReadyAt)
	require.NotNil(t, mr.FirstReviewAt)
	assert.Equal(t, base.Add(3*time.Hour), *mr.FirstReviewAt, "author's own comment is not a review")
	assert.Len(t, mr.ReviewTimes, 2)
}

func TestRetryPolicy_HonorsRetryAfter(t *testing.T) {
	calls := 0
	start := time.Now()
	err := fastRetry().Do(context.Background(), testLogger(), "op", func() error {
		calls++
		if calls == 1 {
			return &gitlab.RateLimitError{StatusCode: 429, RetryAfter: 20 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetry().Do(context.Background(), testLogger(), "op", func() error {
		calls++
		return &gitlab.RateLimitError{StatusCode: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	var rle *gitlab.RateLimitError
	assert.ErrorAs(t, err, &rle)
}
