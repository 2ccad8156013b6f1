package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Both implementations must satisfy the same upsert and watermark semantics,
// so every test runs against each.
func eachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "devpulse.db"), logger)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})
}

func TestStore_CommitUpsertIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.SaveProject(ctx, models.Project{ID: 1, PathWithNS: "g/p"}))

		c := models.Commit{ProjectID: 1, SHA: "abc", Message: "one", CommittedAt: base, UpdatedAt: base}
		require.NoError(t, store.SaveCommits(ctx, []models.Commit{c}))
		require.NoError(t, store.SaveCommits(ctx, []models.Commit{c}))

		snap, err := store.GetSnapshot(ctx, 1, time.Time{})
		require.NoError(t, err)
		assert.Len(t, snap.Commits, 1)
	})
}

func TestStore_StaleRowNeverOverwritesNewer(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.SaveProject(ctx, models.Project{ID: 1}))

		newer := models.MergeRequest{
			ProjectID: 1, MRID: 7, IID: 7, State: "merged",
			CreatedAt: base, UpdatedAt: base.Add(2 * time.Hour),
		}
		stale := models.MergeRequest{
			ProjectID: 1, MRID: 7, IID: 7, State: "opened",
			CreatedAt: base, UpdatedAt: base,
		}
		require.NoError(t, store.SaveMergeRequests(ctx, []models.MergeRequest{newer}))
		require.NoError(t, store.SaveMergeRequests(ctx, []models.MergeRequest{stale}))

		snap, err := store.GetSnapshot(ctx, 1, time.Time{})
		require.NoError(t, err)
		require.Len(t, snap.MergeRequests, 1)
		assert.Equal(t, "merged", snap.MergeRequests[0].State, "a replayed overlap row must not win")
	})
}

func TestStore_MergeRequestRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.SaveProject(ctx, models.Project{ID: 1}))

		review := base.Add(time.Hour)
		mr := models.MergeRequest{
			ProjectID: 1, MRID: 9, IID: 9, AuthorID: "alice",
			SourceBranch: "f", CreatedAt: base, UpdatedAt: base,
			FirstReviewAt: &review,
			ReviewTimes:   []time.Time{review},
			CommitSHAs:    []string{"a", "b"},
		}
		require.NoError(t, store.SaveMergeRequests(ctx, []models.MergeRequest{mr}))

		snap, err := store.GetSnapshot(ctx, 1, time.Time{})
		require.NoError(t, err)
		require.Len(t, snap.MergeRequests, 1)
		got := snap.MergeRequests[0]
		assert.Equal(t, []string{"a", "b"}, got.CommitSHAs)
		require.Len(t, got.ReviewTimes, 1)
		assert.True(t, got.ReviewTimes[0].Equal(review))
	})
}

func TestStore_WatermarkLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		_, err := store.GetWatermark(ctx, 1, models.EntityCommit)
		assert.ErrorIs(t, err, ErrNotFound)

		wm := models.Watermark{
			ProjectID: 1, Entity: models.EntityCommit,
			LastSeenUpdatedAt: base, LastRunAt: base,
		}
		require.NoError(t, store.SetWatermark(ctx, wm))

		got, err := store.GetWatermark(ctx, 1, models.EntityCommit)
		require.NoError(t, err)
		assert.True(t, got.LastSeenUpdatedAt.Equal(base))

		wm.LastSeenUpdatedAt = base.Add(time.Hour)
		require.NoError(t, store.SetWatermark(ctx, wm))
		got, err = store.GetWatermark(ctx, 1, models.EntityCommit)
		require.NoError(t, err)
		assert.True(t, got.LastSeenUpdatedAt.Equal(base.Add(time.Hour)))

		require.NoError(t, store.ResetWatermarks(ctx, 1))
		_, err = store.GetWatermark(ctx, 1, models.EntityCommit)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_SnapshotWindowBound(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.SaveProject(ctx, models.Project{ID: 1}))
		require.NoError(t, store.SaveCommits(ctx, []models.Commit{
			{ProjectID: 1, SHA: "old", CommittedAt: base, UpdatedAt: base},
			{ProjectID: 1, SHA: "new", CommittedAt: base, UpdatedAt: base.Add(48 * time.Hour)},
		}))

		snap, err := store.GetSnapshot(ctx, 1, base.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, snap.Commits, 1)
		assert.Equal(t, "new", snap.Commits[0].SHA)
	})
}

func TestStore_FactsRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		_, err := store.GetFacts(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)

		cycle := 12.5
		facts := models.Facts{
			ProjectID: 1,
			MergeRequests: []models.FactMergeRequest{
				{ProjectID: 1, MRID: 3, CycleTimeHours: &cycle, Size: models.SizeS},
			},
			Excluded: 1,
		}
		require.NoError(t, store.SaveFacts(ctx, facts))

		got, err := store.GetFacts(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got.MergeRequests, 1)
		require.NotNil(t, got.MergeRequests[0].CycleTimeHours)
		assert.Equal(t, 12.5, *got.MergeRequests[0].CycleTimeHours)
		assert.Equal(t, 1, got.Excluded)
	})
}

func TestStore_RunSummaryKeepsLatest(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		_, err := store.GetLastRunSummary(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.SaveRunSummary(ctx, base, []byte(`{"mode":"backfill"}`)))
		require.NoError(t, store.SaveRunSummary(ctx, base.Add(time.Hour), []byte(`{"mode":"incremental"}`)))

		got, err := store.GetLastRunSummary(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"mode":"incremental"}`, string(got))
	})
}

func TestStore_AggregatePersistence(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		agg := aggregate.ProjectAggregate{ProjectID: 1, WindowDays: 14, From: base.AddDate(0, 0, -14), To: base}
		require.NoError(t, store.SaveProjectAggregate(ctx, agg))
		// Replaying the same window key must not error.
		require.NoError(t, store.SaveProjectAggregate(ctx, agg))

		require.NoError(t, store.SaveDeveloperAggregates(ctx, []aggregate.DeveloperAggregate{
			{ProjectID: 1, AuthorID: "alice", WindowDays: 14, To: base},
		}))
	})
}
