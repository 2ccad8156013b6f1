// Package linker resolves cross-entity references (commit→MR→pipeline)
// absent explicit foreign keys in the source data. Linking is a pure
// function of the snapshot: the same raw input always yields the same
// graph, which keeps recomputation and backfill idempotent.
package linker

import (
	"sort"
	"time"

	"github.com/devpulse/devpulse-go/internal/models"
)

// LinkedMR joins one merge request with its resolved commits and merge
// pipeline. FirstCommitAt is nil when history was erased and no fallback
// exists; callers must treat cycle time as unavailable, not zero.
type LinkedMR struct {
	MR            models.MergeRequest
	Commits       []models.Commit
	FirstCommitAt *time.Time
	MergePipeline *models.Pipeline
}

// LinkedPipeline joins one pipeline with its matched MR, release, and jobs.
type LinkedPipeline struct {
	Pipeline models.Pipeline
	MR       *models.MergeRequest
	Release  *models.Release
	Jobs     []models.Job
}

// Graph is the linked view of one project window. Derived and
// recomputable; never persisted as a source of truth.
type Graph struct {
	Project   models.Project
	MRs       []LinkedMR
	Pipelines []LinkedPipeline
	Commits   []models.Commit
	Releases  []models.Release
}

// Link builds the linked graph for one project snapshot.
func Link(snap models.Snapshot) *Graph {
	g := &Graph{
		Project:  snap.Project,
		Commits:  sortedCommits(snap.Commits),
		Releases: sortedReleases(snap.Releases),
	}

	commitsBySHA := make(map[string]models.Commit, len(g.Commits))
	for _, c := range g.Commits {
		commitsBySHA[c.SHA] = c
	}
	releaseBySHA := make(map[string]models.Release, len(g.Releases))
	for _, r := range g.Releases {
		releaseBySHA[r.SHA] = r
	}
	jobsByPipeline := make(map[int64][]models.Job)
	for _, j := range snap.Jobs {
		jobsByPipeline[j.PipelineID] = append(jobsByPipeline[j.PipelineID], j)
	}
	for id := range jobsByPipeline {
		js := jobsByPipeline[id]
		sort.Slice(js, func(a, b int) bool { return js[a].JobID < js[b].JobID })
	}

	pipelines := make([]models.Pipeline, len(snap.Pipelines))
	copy(pipelines, snap.Pipelines)
	sort.Slice(pipelines, func(a, b int) bool {
		if !pipelines[a].CreatedAt.Equal(pipelines[b].CreatedAt) {
			return pipelines[a].CreatedAt.Before(pipelines[b].CreatedAt)
		}
		return pipelines[a].PipelineID < pipelines[b].PipelineID
	})

	mrs := make([]models.MergeRequest, len(snap.MergeRequests))
	copy(mrs, snap.MergeRequests)
	sort.Slice(mrs, func(a, b int) bool { return mrs[a].MRID < mrs[b].MRID })

	for _, mr := range mrs {
		linked := LinkedMR{MR: mr}
		linked.Commits = resolveMRCommits(mr, commitsBySHA)
		linked.FirstCommitAt = resolveFirstCommit(mr, linked.Commits, g.Commits)
		linked.MergePipeline = resolveMergePipeline(mr, pipelines)
		g.MRs = append(g.MRs, linked)
	}

	mrByHeadSHA := make(map[string]int, len(mrs))
	mrBySourceBranch := make(map[string]int, len(mrs))
	for i, mr := range mrs {
		if mr.HeadSHA != "" {
			if _, seen := mrByHeadSHA[mr.HeadSHA]; !seen {
				mrByHeadSHA[mr.HeadSHA] = i
			}
		}
		if mr.SourceBranch != "" {
			if _, seen := mrBySourceBranch[mr.SourceBranch]; !seen {
				mrBySourceBranch[mr.SourceBranch] = i
			}
		}
	}

	for _, p := range pipelines {
		lp := LinkedPipeline{Pipeline: p, Jobs: jobsByPipeline[p.PipelineID]}
		if i, ok := mrByHeadSHA[p.SHA]; ok {
			mr := mrs[i]
			lp.MR = &mr
		} else if i, ok := mrBySourceBranch[p.Ref]; ok {
			mr := mrs[i]
			lp.MR = &mr
		}
		if rel, ok := releaseBySHA[p.SHA]; ok {
			r := rel
			lp.Release = &r
		}
		g.Pipelines = append(g.Pipelines, lp)
	}

	return g
}

// resolveMRCommits returns the MR's commits in timestamp order, taken from
// the snapshot by the MR's recorded commit SHAs.
func resolveMRCommits(mr models.MergeRequest, bySHA map[string]models.Commit) []models.Commit {
	var out []models.Commit
	for _, sha := range mr.CommitSHAs {
		if c, ok := bySHA[sha]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CommittedAt.Equal(out[b].CommittedAt) {
			return out[a].CommittedAt.Before(out[b].CommittedAt)
		}
		return out[a].SHA < out[b].SHA
	})
	return out
}

// resolveFirstCommit picks the earliest commit of the MR. When the commit
// list is empty (squash or rebase erased history) it falls back to the
// earliest source-branch commit before the MR was opened.
func resolveFirstCommit(mr models.MergeRequest, mrCommits, all []models.Commit) *time.Time {
	if len(mrCommits) > 0 {
		t := mrCommits[0].CommittedAt
		return &t
	}
	var earliest *time.Time
	for _, c := range all {
		if c.Branch != mr.SourceBranch || !c.CommittedAt.Before(mr.CreatedAt) {
			continue
		}
		if earliest == nil || c.CommittedAt.Before(*earliest) {
			t := c.CommittedAt
			earliest = &t
		}
	}
	return earliest
}

// resolveMergePipeline picks the pipeline representing the merge: the
// latest pipeline created at or before mergedAt that matches the MR's head
// sha or source branch. Ties on creation time break to the highest id.
func resolveMergePipeline(mr models.MergeRequest, pipelines []models.Pipeline) *models.Pipeline {
	if mr.MergedAt == nil {
		return nil
	}
	var best *models.Pipeline
	for i := range pipelines {
		p := pipelines[i]
		if p.CreatedAt.After(*mr.MergedAt) {
			continue
		}
		shaMatch := mr.HeadSHA != "" && p.SHA == mr.HeadSHA
		refMatch := mr.SourceBranch != "" && p.Ref == mr.SourceBranch
		if !shaMatch && !refMatch {
			continue
		}
		if best == nil ||
			p.CreatedAt.After(best.CreatedAt) ||
			(p.CreatedAt.Equal(best.CreatedAt) && p.PipelineID > best.PipelineID) {
			cp := p
			best = &cp
		}
	}
	return best
}

func sortedCommits(in []models.Commit) []models.Commit {
	out := make([]models.Commit, len(in))
	copy(out, in)
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CommittedAt.Equal(out[b].CommittedAt) {
			return out[a].CommittedAt.Before(out[b].CommittedAt)
		}
		return out[a].SHA < out[b].SHA
	})
	return out
}

func sortedReleases(in []models.Release) []models.Release {
	out := make([]models.Release, len(in))
	copy(out, in)
	sort.Slice(out, func(a, b int) bool {
		if !out[a].ReleasedAt.Equal(out[b].ReleasedAt) {
			return out[a].ReleasedAt.Before(out[b].ReleasedAt)
		}
		return out[a].Tag < out[b].Tag
	})
	return out
}
