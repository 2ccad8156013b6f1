package reducer

import (
	"testing"
	"time"

	"github.com/devpulse/devpulse-go/internal/inference"
	"github.com/devpulse/devpulse-go/internal/linker"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/devpulse/devpulse-go/internal/rules"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d0 = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }

func fp(f float64) *float64 { return &f }

func newReducer() *Reducer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(logger)
}

func reduceSnapshot(t *testing.T, snap models.Snapshot) models.Facts {
	t.Helper()
	g := linker.Link(snap)
	flags := inference.Infer(g, rules.Default())
	return newReducer().Reduce(g, flags)
}

func TestReduce_MRCycleAndReviewWait(t *testing.T) {
	// First commit D0-2h, created D0, first review D0+4h, merged D0+10h:
	// cycle 12h, review wait 4h.
	snap := models.Snapshot{
		Project: models.Project{ID: 1, DefaultBranch: "main"},
		Commits: []models.Commit{
			{ProjectID: 1, SHA: "c1", CommittedAt: d0.Add(-2 * time.Hour), Branch: "feature/x", Additions: 20, Deletions: 5},
		},
		MergeRequests: []models.MergeRequest{{
			ProjectID:     1,
			MRID:          100,
			AuthorID:      "alice",
			SourceBranch:  "feature/x",
			CreatedAt:     d0,
			FirstReviewAt: tp(d0.Add(4 * time.Hour)),
			MergedAt:      tp(d0.Add(10 * time.Hour)),
			CommitSHAs:    []string{"c1"},
			FilesChanged:  2,
		}},
	}

	facts := reduceSnapshot(t, snap)
	require.Len(t, facts.MergeRequests, 1)
	f := facts.MergeRequests[0]
	require.NotNil(t, f.CycleTimeHours)
	assert.InDelta(t, 12.0, *f.CycleTimeHours, 1e-9)
	require.NotNil(t, f.ReviewWaitHours)
	assert.InDelta(t, 4.0, *f.ReviewWaitHours, 1e-9)
	assert.Equal(t, 20, f.LinesAdded)
	assert.Equal(t, 5, f.LinesRemoved)
	assert.Equal(t, models.SizeXS, f.Size)
}

func TestReduce_MRNullReasons(t *testing.T) {
	tests := []struct {
		name          string
		mr            models.MergeRequest
		wantCycleNull models.NullReason
		wantWaitNull  models.NullReason
	}{
		{
			name: "unmerged MR",
			mr: models.MergeRequest{
				ProjectID: 1, MRID: 1, SourceBranch: "a", CreatedAt: d0, State: "opened",
			},
			wantCycleNull: models.NullReasonNotMerged,
			wantWaitNull:  models.NullReasonNoReview,
		},
		{
			name: "merged without resolvable first commit",
			mr: models.MergeRequest{
				ProjectID: 1, MRID: 2, SourceBranch: "gone", CreatedAt: d0,
				MergedAt: tp(d0.Add(time.Hour)),
			},
			wantCycleNull: models.NullReasonNoFirstCommit,
			wantWaitNull:  models.NullReasonNoReview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := reduceSnapshot(t, models.Snapshot{
				Project:       models.Project{ID: 1},
				MergeRequests: []models.MergeRequest{tt.mr},
			})
			require.Len(t, facts.MergeRequests, 1)
			f := facts.MergeRequests[0]
			assert.Nil(t, f.CycleTimeHours)
			assert.Equal(t, tt.wantCycleNull, f.CycleTimeNull)
			assert.Nil(t, f.ReviewWaitHours)
			assert.Equal(t, tt.wantWaitNull, f.ReviewWaitNull)
		})
	}
}

func TestReduce_StructuralViolationExcluded(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		MergeRequests: []models.MergeRequest{
			// merged_at before created_at is structurally invalid.
			{ProjectID: 1, MRID: 1, CreatedAt: d0, MergedAt: tp(d0.Add(-time.Hour))},
		},
		Pipelines: []models.Pipeline{
			{ProjectID: 1, PipelineID: 1, Status: "success", CreatedAt: d0, DurationSec: fp(-5)},
		},
	}

	facts := reduceSnapshot(t, snap)
	assert.Empty(t, facts.MergeRequests)
	assert.Empty(t, facts.Pipelines)
	assert.Equal(t, 2, facts.Excluded)
}

func TestReduce_ReworkAndReviewRounds(t *testing.T) {
	review1 := d0.Add(2 * time.Hour)
	review2 := d0.Add(6 * time.Hour)
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		Commits: []models.Commit{
			{ProjectID: 1, SHA: "c1", CommittedAt: d0.Add(-time.Hour), Branch: "f"},
			{ProjectID: 1, SHA: "c2", CommittedAt: d0.Add(3 * time.Hour), Branch: "f"},
			{ProjectID: 1, SHA: "c3", CommittedAt: d0.Add(7 * time.Hour), Branch: "f"},
		},
		MergeRequests: []models.MergeRequest{{
			ProjectID:     1,
			MRID:          1,
			SourceBranch:  "f",
			CreatedAt:     d0,
			FirstReviewAt: tp(review1),
			ReviewTimes:   []time.Time{review1, review2},
			MergedAt:      tp(d0.Add(10 * time.Hour)),
			CommitSHAs:    []string{"c1", "c2", "c3"},
		}},
	}

	facts := reduceSnapshot(t, snap)
	require.Len(t, facts.MergeRequests, 1)
	f := facts.MergeRequests[0]
	assert.Equal(t, 2, f.ReworkCount, "c2 and c3 land after the first review")
	assert.Equal(t, 2, f.ReviewRounds, "each review answered by a commit closes a round")
}

func TestReduce_ApprovalBypass(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		MergeRequests: []models.MergeRequest{
			{ProjectID: 1, MRID: 1, CreatedAt: d0, MergedAt: tp(d0.Add(time.Hour)),
				ApprovalsRequired: 2, ApprovalsGiven: 1},
			{ProjectID: 1, MRID: 2, CreatedAt: d0, MergedAt: tp(d0.Add(time.Hour)),
				ApprovalsRequired: 2, ApprovalsGiven: 2},
		},
	}

	facts := reduceSnapshot(t, snap)
	require.Len(t, facts.MergeRequests, 2)
	assert.True(t, facts.MergeRequests[0].ApprovalBypassed)
	assert.False(t, facts.MergeRequests[1].ApprovalBypassed)
}

func TestReduce_HygieneDayBuckets(t *testing.T) {
	day1 := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	snap := models.Snapshot{
		Project: models.Project{ID: 1, DefaultBranch: "main"},
		Commits: []models.Commit{
			{ProjectID: 1, SHA: "a", CommittedAt: day1.Add(9 * time.Hour), Branch: "main", Signed: false},
			{ProjectID: 1, SHA: "b", CommittedAt: day1.Add(10 * time.Hour), Branch: "main", Signed: true, ForcePushed: true},
			{ProjectID: 1, SHA: "c", CommittedAt: day2.Add(11 * time.Hour), Branch: "main", Signed: true},
		},
		MergeRequests: []models.MergeRequest{
			// "c" came in through an MR, so it is not a direct push.
			{ProjectID: 1, MRID: 1, CreatedAt: day1, CommitSHAs: []string{"c"}},
		},
	}

	facts := reduceSnapshot(t, snap)
	require.Len(t, facts.Hygiene, 2)

	b1 := facts.Hygiene[0]
	assert.Equal(t, day1, b1.Day)
	assert.Equal(t, 1, b1.UnsignedCommits)
	assert.Equal(t, 1, b1.ForcePushes)
	assert.Equal(t, 2, b1.DirectPushes)

	b2 := facts.Hygiene[1]
	assert.Equal(t, day2, b2.Day)
	assert.Zero(t, b2.DirectPushes)
	assert.Zero(t, b2.UnsignedCommits)
}

func TestReduce_ReleaseFacts(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		Releases: []models.Release{
			{ProjectID: 1, Tag: "v1.0.0", SHA: "r1", ReleasedAt: d0},
			{ProjectID: 1, Tag: "v1.0.1", SHA: "r2", ReleasedAt: d0.Add(24 * time.Hour)},
			{ProjectID: 1, Tag: "snapshot-build", SHA: "r3", ReleasedAt: d0.Add(8 * 24 * time.Hour)},
		},
	}

	facts := reduceSnapshot(t, snap)
	require.Len(t, facts.Releases, 3)
	assert.True(t, facts.Releases[0].IsSemver)
	assert.Equal(t, models.CadenceSlower, facts.Releases[0].Cadence, "first release has no prior gap")
	assert.Equal(t, models.CadenceDaily, facts.Releases[1].Cadence)
	assert.False(t, facts.Releases[2].IsSemver)
	assert.Equal(t, models.CadenceWeekly, facts.Releases[2].Cadence)
}

func TestReduce_PipelineFactsCarryFlagsAndQueue(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1, DefaultBranch: "main"},
		Pipelines: []models.Pipeline{
			{ProjectID: 1, PipelineID: 1, Ref: "main", SHA: "s", Status: "success", CreatedAt: d0, DurationSec: fp(120)},
		},
		Jobs: []models.Job{
			{ProjectID: 1, JobID: 1, PipelineID: 1, Stage: "build", DurationSec: fp(60), QueuedSec: fp(10)},
			{ProjectID: 1, JobID: 2, PipelineID: 1, Stage: "test", DurationSec: fp(50), QueuedSec: fp(30)},
		},
	}

	facts := reduceSnapshot(t, snap)
	require.Len(t, facts.Pipelines, 1)
	f := facts.Pipelines[0]
	assert.True(t, f.IsProd)
	require.NotNil(t, f.QueueMeanSec)
	assert.InDelta(t, 20.0, *f.QueueMeanSec, 1e-9)
	require.NotNil(t, f.MTGSeconds)
	assert.Zero(t, *f.MTGSeconds)

	require.Len(t, facts.Stages, 2)
	assert.Equal(t, "build", facts.Stages[0].Stage)
	assert.InDelta(t, 60.0, facts.Stages[0].AvgSeconds, 1e-9)
}

func TestReduce_Idempotent(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1, DefaultBranch: "main"},
		Commits: []models.Commit{
			{ProjectID: 1, SHA: "c1", CommittedAt: d0.Add(-2 * time.Hour), Branch: "f"},
		},
		MergeRequests: []models.MergeRequest{{
			ProjectID: 1, MRID: 1, SourceBranch: "f", CreatedAt: d0,
			MergedAt: tp(d0.Add(5 * time.Hour)), CommitSHAs: []string{"c1"},
		}},
		Pipelines: []models.Pipeline{
			{ProjectID: 1, PipelineID: 1, Ref: "main", Status: "failed", CreatedAt: d0},
			{ProjectID: 1, PipelineID: 2, Ref: "main", Status: "success", CreatedAt: d0.Add(time.Hour)},
		},
	}

	first := reduceSnapshot(t, snap)
	second := reduceSnapshot(t, snap)
	assert.Equal(t, first, second, "Link→Infer→Reduce must be idempotent on the same raw snapshot")
}
