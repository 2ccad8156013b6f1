package linker

import (
	"testing"
	"time"

	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(h int) time.Time { return base.Add(time.Duration(h) * time.Hour) }

func tp(t time.Time) *time.Time { return &t }

func TestLink_FirstCommitFromMRList(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1, DefaultBranch: "main"},
		Commits: []models.Commit{
			{ProjectID: 1, SHA: "c2", CommittedAt: at(2), Branch: "feature/x"},
			{ProjectID: 1, SHA: "c1", CommittedAt: at(1), Branch: "feature/x"},
		},
		MergeRequests: []models.MergeRequest{
			{ProjectID: 1, MRID: 10, SourceBranch: "feature/x", CreatedAt: at(3), CommitSHAs: []string{"c1", "c2"}},
		},
	}

	g := Link(snap)
	require.Len(t, g.MRs, 1)
	require.NotNil(t, g.MRs[0].FirstCommitAt)
	assert.Equal(t, at(1), *g.MRs[0].FirstCommitAt)
	require.Len(t, g.MRs[0].Commits, 2)
	assert.Equal(t, "c1", g.MRs[0].Commits[0].SHA)
}

func TestLink_FirstCommitFallbackToSourceBranch(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		Commits: []models.Commit{
			{ProjectID: 1, SHA: "early", CommittedAt: at(0), Branch: "feature/y"},
			{ProjectID: 1, SHA: "late", CommittedAt: at(5), Branch: "feature/y"},
			{ProjectID: 1, SHA: "other", CommittedAt: at(0), Branch: "main"},
		},
		MergeRequests: []models.MergeRequest{
			// Squash erased the commit list; createdAt at(3) excludes "late".
			{ProjectID: 1, MRID: 10, SourceBranch: "feature/y", CreatedAt: at(3)},
		},
	}

	g := Link(snap)
	require.NotNil(t, g.MRs[0].FirstCommitAt)
	assert.Equal(t, at(0), *g.MRs[0].FirstCommitAt)
}

func TestLink_FirstCommitUnresolvable(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		MergeRequests: []models.MergeRequest{
			{ProjectID: 1, MRID: 10, SourceBranch: "gone", CreatedAt: at(3)},
		},
	}

	g := Link(snap)
	assert.Nil(t, g.MRs[0].FirstCommitAt, "unresolvable history must stay null, never zero")
}

func TestLink_MergePipelineSelection(t *testing.T) {
	merged := at(10)
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		MergeRequests: []models.MergeRequest{
			{ProjectID: 1, MRID: 10, SourceBranch: "feature/z", HeadSHA: "head", MergedAt: &merged, CreatedAt: at(0)},
		},
		Pipelines: []models.Pipeline{
			{ProjectID: 1, PipelineID: 1, SHA: "head", CreatedAt: at(2)},
			{ProjectID: 1, PipelineID: 2, SHA: "head", CreatedAt: at(8)},
			// Same creation time as pipeline 2: tie breaks to higher id.
			{ProjectID: 1, PipelineID: 3, Ref: "feature/z", CreatedAt: at(8)},
			// After merge: never the merge pipeline.
			{ProjectID: 1, PipelineID: 4, SHA: "head", CreatedAt: at(12)},
		},
	}

	g := Link(snap)
	require.NotNil(t, g.MRs[0].MergePipeline)
	assert.Equal(t, int64(3), g.MRs[0].MergePipeline.PipelineID)
}

func TestLink_PipelineToMRAndRelease(t *testing.T) {
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		MergeRequests: []models.MergeRequest{
			{ProjectID: 1, MRID: 10, SourceBranch: "feature/a", HeadSHA: "sha-a", CreatedAt: at(0)},
		},
		Pipelines: []models.Pipeline{
			{ProjectID: 1, PipelineID: 1, SHA: "sha-a", Ref: "feature/a", CreatedAt: at(1)},
			{ProjectID: 1, PipelineID: 2, SHA: "rel-sha", Ref: "main", CreatedAt: at(2)},
			{ProjectID: 1, PipelineID: 3, SHA: "unrelated", Ref: "main", CreatedAt: at(3)},
		},
		Releases: []models.Release{
			{ProjectID: 1, Tag: "v1.0.0", SHA: "rel-sha", ReleasedAt: at(2)},
		},
		Jobs: []models.Job{
			{ProjectID: 1, JobID: 7, PipelineID: 1, Stage: "test"},
		},
	}

	g := Link(snap)
	require.Len(t, g.Pipelines, 3)
	require.NotNil(t, g.Pipelines[0].MR)
	assert.Equal(t, int64(10), g.Pipelines[0].MR.MRID)
	require.NotNil(t, g.Pipelines[1].Release)
	assert.Equal(t, "v1.0.0", g.Pipelines[1].Release.Tag)
	assert.Nil(t, g.Pipelines[2].MR)
	assert.Nil(t, g.Pipelines[2].Release)
	require.Len(t, g.Pipelines[0].Jobs, 1)
}

func TestLink_Deterministic(t *testing.T) {
	merged := at(9)
	snap := models.Snapshot{
		Project: models.Project{ID: 1},
		Commits: []models.Commit{
			{SHA: "b", CommittedAt: at(2), Branch: "f"},
			{SHA: "a", CommittedAt: at(1), Branch: "f"},
		},
		MergeRequests: []models.MergeRequest{
			{MRID: 2, SourceBranch: "f", CreatedAt: at(3), MergedAt: &merged, CommitSHAs: []string{"b", "a"}},
			{MRID: 1, SourceBranch: "g", CreatedAt: at(3)},
		},
		Pipelines: []models.Pipeline{
			{PipelineID: 2, Ref: "f", CreatedAt: at(4)},
			{PipelineID: 1, Ref: "g", CreatedAt: at(4)},
		},
	}

	g1 := Link(snap)

	// Shuffle input order; the graph must come out identical.
	snap.MergeRequests[0], snap.MergeRequests[1] = snap.MergeRequests[1], snap.MergeRequests[0]
	snap.Pipelines[0], snap.Pipelines[1] = snap.Pipelines[1], snap.Pipelines[0]
	snap.Commits[0], snap.Commits[1] = snap.Commits[1], snap.Commits[0]
	g2 := Link(snap)

	assert.Equal(t, g1, g2)
}
