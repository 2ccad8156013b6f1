// Package inference applies deterministic heuristics (production
// deployment, rollback, flaky, time-to-green) to a linked project graph.
// Every function is pure: flags depend only on the graph and the rule set
// passed in. Heuristics only see the collected window, so a pipeline near
// the window boundary may be re-flagged once the next incremental pass
// extends the window.
package inference

import (
	"github.com/devpulse/devpulse-go/internal/linker"
	"github.com/devpulse/devpulse-go/internal/rules"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// PipelineFlags carries the inferred flags for one pipeline.
// MTGSeconds is nil for a failed pipeline with no later success in the
// window ("not yet green" is not "instantly green").
type PipelineFlags struct {
	IsProd           bool
	IsRollback       bool
	IsFlakyCandidate bool
	IsHotfix         bool
	MTGSeconds       *float64
}

// Flags maps pipeline id to its inferred flags.
type Flags map[int64]PipelineFlags

// Infer computes all pipeline flags for one linked graph.
func Infer(g *linker.Graph, rs *rules.RuleSet) Flags {
	effective := rs.ForProject(g.Project.PathWithNS)

	commitMsg := make(map[string]string, len(g.Commits))
	for _, c := range g.Commits {
		commitMsg[c.SHA] = c.Message
	}

	flags := make(Flags, len(g.Pipelines))
	for i, lp := range g.Pipelines {
		p := lp.Pipeline
		pf := PipelineFlags{
			IsProd:     isProd(lp, g.Project.DefaultBranch, effective),
			IsRollback: isRollback(lp, commitMsg[p.SHA], effective),
			IsHotfix:   effective.MatchesHotfix(p.Ref),
		}
		pf.IsFlakyCandidate = isFlakyCandidate(g.Pipelines, i)
		pf.MTGSeconds = timeToGreen(g.Pipelines, i)
		flags[p.PipelineID] = pf
	}
	return flags
}

// isProd applies the production-deployment rule: default-branch ref, a
// production environment marker, or a release-tagged sha. Any one
// condition suffices.
func isProd(lp linker.LinkedPipeline, defaultBranch string, rs *rules.RuleSet) bool {
	p := lp.Pipeline
	if defaultBranch != "" && p.Ref == defaultBranch {
		return true
	}
	if rs.IsProdEnvironment(p.Environment) {
		return true
	}
	return lp.Release != nil
}

func isRollback(lp linker.LinkedPipeline, commitMessage string, rs *rules.RuleSet) bool {
	if rs.MatchesRollback(lp.Pipeline.Ref) {
		return true
	}
	return commitMessage != "" && rs.MatchesRollback(commitMessage)
}

// isFlakyCandidate flags a failed pipeline whose same sha later reached
// success on the same project. Candidate only: the source system triggers
// reruns independently, so this is never a certainty.
func isFlakyCandidate(pipelines []linker.LinkedPipeline, idx int) bool {
	p := pipelines[idx].Pipeline
	if p.Status != statusFailed {
		return false
	}
	for _, later := range pipelines[idx+1:] {
		lp := later.Pipeline
		if lp.SHA == p.SHA && lp.Status == statusSuccess && lp.CreatedAt.After(p.CreatedAt) {
			return true
		}
	}
	return false
}

// timeToGreen computes MTG for one pipeline: 0 for a success, the delta to
// the next same-ref success for a failure, nil when no later success was
// observed or the status is neither success nor failed.
func timeToGreen(pipelines []linker.LinkedPipeline, idx int) *float64 {
	p := pipelines[idx].Pipeline
	switch p.Status {
	case statusSuccess:
		zero := 0.0
		return &zero
	case statusFailed:
		for _, later := range pipelines[idx+1:] {
			lp := later.Pipeline
			if lp.Ref == p.Ref && lp.Status == statusSuccess && lp.CreatedAt.After(p.CreatedAt) {
				secs := lp.CreatedAt.Sub(p.CreatedAt).Seconds()
				return &secs
			}
		}
		return nil
	default:
		return nil
	}
}
