package inference

import (
	"testing"
	"time"

	"github.com/devpulse/devpulse-go/internal/linker"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/devpulse/devpulse-go/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func graphOf(project models.Project, pipelines []models.Pipeline, releases []models.Release, commits []models.Commit) *linker.Graph {
	return linker.Link(models.Snapshot{
		Project:   project,
		Pipelines: pipelines,
		Releases:  releases,
		Commits:   commits,
	})
}

func TestInfer_ProdDetection(t *testing.T) {
	project := models.Project{ID: 1, DefaultBranch: "main"}

	tests := []struct {
		name     string
		pipeline models.Pipeline
		releases []models.Release
		wantProd bool
	}{
		{
			name:     "default branch, no environment",
			pipeline: models.Pipeline{PipelineID: 1, Ref: "main", Status: "success", CreatedAt: t0},
			wantProd: true,
		},
		{
			name:     "feature branch with staging environment",
			pipeline: models.Pipeline{PipelineID: 2, Ref: "feature/x", Environment: "staging", Status: "success", CreatedAt: t0},
			wantProd: false,
		},
		{
			name:     "feature branch with production environment",
			pipeline: models.Pipeline{PipelineID: 3, Ref: "feature/x", Environment: "production-eu", Status: "success", CreatedAt: t0},
			wantProd: true,
		},
		{
			name:     "release-tagged sha",
			pipeline: models.Pipeline{PipelineID: 4, Ref: "feature/x", SHA: "rel", Status: "success", CreatedAt: t0},
			releases: []models.Release{{ProjectID: 1, Tag: "v1.2.3", SHA: "rel", ReleasedAt: t0}},
			wantProd: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graphOf(project, []models.Pipeline{tt.pipeline}, tt.releases, nil)
			flags := Infer(g, rules.Default())
			assert.Equal(t, tt.wantProd, flags[tt.pipeline.PipelineID].IsProd)
		})
	}
}

func TestInfer_RollbackDetection(t *testing.T) {
	project := models.Project{ID: 1, DefaultBranch: "main"}
	pipelines := []models.Pipeline{
		{PipelineID: 1, Ref: "revert/broken", SHA: "a", Status: "success", CreatedAt: t0},
		{PipelineID: 2, Ref: "main", SHA: "b", Status: "success", CreatedAt: t0.Add(time.Hour)},
		{PipelineID: 3, Ref: "main", SHA: "c", Status: "success", CreatedAt: t0.Add(2 * time.Hour)},
	}
	commits := []models.Commit{
		{SHA: "b", Message: `Revert "enable new cache"`, CommittedAt: t0},
		{SHA: "c", Message: "normal change", CommittedAt: t0},
	}

	flags := Infer(graphOf(project, pipelines, nil, commits), rules.Default())
	assert.True(t, flags[1].IsRollback, "rollback ref")
	assert.True(t, flags[2].IsRollback, "revert commit message")
	assert.False(t, flags[3].IsRollback)
}

func TestInfer_FlakyCandidates(t *testing.T) {
	project := models.Project{ID: 1}

	t.Run("same sha later success", func(t *testing.T) {
		pipelines := []models.Pipeline{
			{PipelineID: 1, SHA: "a", Ref: "main", Status: "failed", CreatedAt: t0},
			{PipelineID: 2, SHA: "a", Ref: "main", Status: "success", CreatedAt: t0.Add(time.Minute)},
		}
		flags := Infer(graphOf(project, pipelines, nil, nil), rules.Default())
		assert.True(t, flags[1].IsFlakyCandidate)
		assert.False(t, flags[2].IsFlakyCandidate)
	})

	t.Run("different sha is not flaky", func(t *testing.T) {
		pipelines := []models.Pipeline{
			{PipelineID: 1, SHA: "a", Ref: "main", Status: "failed", CreatedAt: t0},
			{PipelineID: 2, SHA: "b", Ref: "main", Status: "success", CreatedAt: t0.Add(time.Minute)},
		}
		flags := Infer(graphOf(project, pipelines, nil, nil), rules.Default())
		assert.False(t, flags[1].IsFlakyCandidate)
	})
}

func TestInfer_TimeToGreen(t *testing.T) {
	project := models.Project{ID: 1}
	pipelines := []models.Pipeline{
		{PipelineID: 1, SHA: "a", Ref: "main", Status: "failed", CreatedAt: t0},
		{PipelineID: 2, SHA: "b", Ref: "main", Status: "failed", CreatedAt: t0.Add(10 * time.Minute)},
		{PipelineID: 3, SHA: "c", Ref: "main", Status: "success", CreatedAt: t0.Add(30 * time.Minute)},
		{PipelineID: 4, SHA: "d", Ref: "other", Status: "failed", CreatedAt: t0.Add(40 * time.Minute)},
	}

	flags := Infer(graphOf(project, pipelines, nil, nil), rules.Default())

	require.NotNil(t, flags[1].MTGSeconds)
	assert.Equal(t, (30 * time.Minute).Seconds(), *flags[1].MTGSeconds)
	require.NotNil(t, flags[2].MTGSeconds)
	assert.Equal(t, (20 * time.Minute).Seconds(), *flags[2].MTGSeconds)
	require.NotNil(t, flags[3].MTGSeconds)
	assert.Zero(t, *flags[3].MTGSeconds, "already green pipelines have MTG 0")
	assert.Nil(t, flags[4].MTGSeconds, "no later success on the ref stays null, not zero")
}

func TestInfer_HotfixFlag(t *testing.T) {
	project := models.Project{ID: 1}
	pipelines := []models.Pipeline{
		{PipelineID: 1, Ref: "hotfix/login", Status: "success", CreatedAt: t0},
	}
	flags := Infer(graphOf(project, pipelines, nil, nil), rules.Default())
	assert.True(t, flags[1].IsHotfix)
}
