// Package reducer turns a linked, inferred project graph into immutable
// derived fact rows. Facts are recomputable from raw state: reducing the
// same graph twice yields identical output. Missing data becomes a null
// metric with a reason; only structurally invalid input drops a row.
package reducer

import (
	"regexp"
	"sort"
	"time"

	"github.com/devpulse/devpulse-go/internal/inference"
	"github.com/devpulse/devpulse-go/internal/linker"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/sirupsen/logrus"
)

var semverRe = regexp.MustCompile(`^v?\d+\.\d+\.\d+([.-].*)?$`)

// Reducer derives facts from linked graphs.
type Reducer struct {
	logger *logrus.Logger
}

// New creates a reducer.
func New(logger *logrus.Logger) *Reducer {
	return &Reducer{logger: logger}
}

// Reduce computes all fact rows for one project window.
func (r *Reducer) Reduce(g *linker.Graph, flags inference.Flags) models.Facts {
	facts := models.Facts{ProjectID: g.Project.ID}

	for _, lm := range g.MRs {
		fact, ok := r.reduceMergeRequest(lm)
		if !ok {
			facts.Excluded++
			continue
		}
		facts.MergeRequests = append(facts.MergeRequests, fact)
	}

	for _, lp := range g.Pipelines {
		fact, ok := r.reducePipeline(lp, flags[lp.Pipeline.PipelineID])
		if !ok {
			facts.Excluded++
			continue
		}
		facts.Pipelines = append(facts.Pipelines, fact)
	}

	facts.Stages = reduceStages(g)
	facts.Hygiene = reduceHygiene(g)
	facts.Releases = reduceReleases(g)
	return facts
}

func (r *Reducer) reduceMergeRequest(lm linker.LinkedMR) (models.FactMergeRequest, bool) {
	mr := lm.MR

	// Structural invariant: timestamps must be ordered.
	if mr.MergedAt != nil && mr.MergedAt.Before(mr.CreatedAt) {
		r.logger.WithFields(logrus.Fields{
			"project_id": mr.ProjectID,
			"mr_id":      mr.MRID,
		}).Warn("merged_at precedes created_at, excluding fact row")
		return models.FactMergeRequest{}, false
	}

	fact := models.FactMergeRequest{
		ProjectID:    mr.ProjectID,
		MRID:         mr.MRID,
		AuthorID:     mr.AuthorID,
		FilesChanged: mr.FilesChanged,
		Size:         sizeBucket(mr.FilesChanged),
		MergedAt:     mr.MergedAt,
	}

	switch {
	case mr.MergedAt == nil:
		fact.CycleTimeNull = models.NullReasonNotMerged
	case lm.FirstCommitAt == nil:
		fact.CycleTimeNull = models.NullReasonNoFirstCommit
	default:
		h := mr.MergedAt.Sub(*lm.FirstCommitAt).Hours()
		fact.CycleTimeHours = &h
	}

	if mr.FirstReviewAt == nil {
		fact.ReviewWaitNull = models.NullReasonNoReview
	} else {
		h := mr.FirstReviewAt.Sub(mr.CreatedAt).Hours()
		fact.ReviewWaitHours = &h
	}

	for _, c := range lm.Commits {
		fact.LinesAdded += c.Additions
		fact.LinesRemoved += c.Deletions
		if mr.FirstReviewAt != nil && c.CommittedAt.After(*mr.FirstReviewAt) {
			fact.ReworkCount++
		}
	}

	fact.ReviewRounds = reviewRounds(lm)
	fact.ApprovalBypassed = mr.MergedAt != nil &&
		mr.ApprovalsRequired > 0 &&
		mr.ApprovalsGiven < mr.ApprovalsRequired

	return fact, true
}

// reviewRounds counts review→commit alternations between the MR becoming
// ready and its merge: each commit that answers a pending review comment
// closes one round.
func reviewRounds(lm linker.LinkedMR) int {
	mr := lm.MR
	if mr.MergedAt == nil {
		return 0
	}
	start := mr.CreatedAt
	if mr.ReadyAt != nil {
		start = *mr.ReadyAt
	}

	type event struct {
		at     time.Time
		review bool
	}
	var events []event
	for _, rt := range mr.ReviewTimes {
		if !rt.Before(start) && !rt.After(*mr.MergedAt) {
			events = append(events, event{at: rt, review: true})
		}
	}
	for _, c := range lm.Commits {
		if !c.CommittedAt.Before(start) && !c.CommittedAt.After(*mr.MergedAt) {
			events = append(events, event{at: c.CommittedAt})
		}
	}
	sort.Slice(events, func(a, b int) bool { return events[a].at.Before(events[b].at) })

	rounds := 0
	awaiting := false
	for _, e := range events {
		if e.review {
			awaiting = true
		} else if awaiting {
			rounds++
			awaiting = false
		}
	}
	return rounds
}

func (r *Reducer) reducePipeline(lp linker.LinkedPipeline, pf inference.PipelineFlags) (models.FactPipeline, bool) {
	p := lp.Pipeline

	if p.DurationSec != nil && *p.DurationSec < 0 {
		r.logger.WithFields(logrus.Fields{
			"project_id":  p.ProjectID,
			"pipeline_id": p.PipelineID,
		}).Warn("negative pipeline duration, excluding fact row")
		return models.FactPipeline{}, false
	}

	fact := models.FactPipeline{
		ProjectID:        p.ProjectID,
		PipelineID:       p.PipelineID,
		Ref:              p.Ref,
		Status:           p.Status,
		IsProd:           pf.IsProd,
		IsRollback:       pf.IsRollback,
		IsFlakyCandidate: pf.IsFlakyCandidate,
		IsHotfix:         pf.IsHotfix,
		MTGSeconds:       pf.MTGSeconds,
		DurationSec:      p.DurationSec,
		QueueMeanSec:     queueMean(lp.Jobs),
		CreatedAt:        p.CreatedAt,
	}
	if fact.MTGSeconds == nil {
		if p.Status == "failed" {
			fact.MTGNull = models.NullReasonNotYetGreen
		} else {
			fact.MTGNull = models.NullReasonNotFinished
		}
	}
	return fact, true
}

func queueMean(jobs []models.Job) *float64 {
	var sum float64
	var n int
	for _, j := range jobs {
		if j.QueuedSec != nil {
			sum += *j.QueuedSec
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

// reduceStages averages job durations per CI stage across the window.
func reduceStages(g *linker.Graph) []models.FactStageDuration {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, lp := range g.Pipelines {
		for _, j := range lp.Jobs {
			if j.DurationSec == nil || *j.DurationSec < 0 {
				continue
			}
			sums[j.Stage] += *j.DurationSec
			counts[j.Stage]++
		}
	}

	stages := make([]string, 0, len(sums))
	for s := range sums {
		stages = append(stages, s)
	}
	sort.Strings(stages)

	out := make([]models.FactStageDuration, 0, len(stages))
	for _, s := range stages {
		out = append(out, models.FactStageDuration{
			ProjectID:  g.Project.ID,
			Stage:      s,
			JobCount:   counts[s],
			AvgSeconds: sums[s] / float64(counts[s]),
		})
	}
	return out
}

// reduceHygiene re-derives each day bucket in full from that day's raw
// commits. Replace, not increment: recomputation stays idempotent.
func reduceHygiene(g *linker.Graph) []models.FactGitHygiene {
	inMR := map[string]bool{}
	for _, lm := range g.MRs {
		for _, sha := range lm.MR.CommitSHAs {
			inMR[sha] = true
		}
	}

	buckets := map[time.Time]*models.FactGitHygiene{}
	for _, c := range g.Commits {
		day := c.CommittedAt.UTC().Truncate(24 * time.Hour)
		b := buckets[day]
		if b == nil {
			b = &models.FactGitHygiene{ProjectID: g.Project.ID, Day: day}
			buckets[day] = b
		}
		if !c.Signed {
			b.UnsignedCommits++
		}
		if c.ForcePushed {
			b.ForcePushes++
		}
		// A default-branch commit no merged MR accounts for is a direct push.
		if c.DirectPush || (c.Branch == g.Project.DefaultBranch && c.Branch != "" && !inMR[c.SHA]) {
			b.DirectPushes++
		}
	}

	days := make([]time.Time, 0, len(buckets))
	for d := range buckets {
		days = append(days, d)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })

	out := make([]models.FactGitHygiene, 0, len(days))
	for _, d := range days {
		out = append(out, *buckets[d])
	}
	return out
}

// reduceReleases derives semver validity and a cadence bucket from the gap
// to the previous release. The first release in a window has no prior
// evidence and buckets as slower.
func reduceReleases(g *linker.Graph) []models.FactRelease {
	out := make([]models.FactRelease, 0, len(g.Releases))
	for i, rel := range g.Releases {
		fact := models.FactRelease{
			ProjectID:  rel.ProjectID,
			Tag:        rel.Tag,
			IsSemver:   semverRe.MatchString(rel.Tag),
			Cadence:    models.CadenceSlower,
			ReleasedAt: rel.ReleasedAt,
		}
		if i > 0 {
			fact.Cadence = cadenceBucket(rel.ReleasedAt.Sub(g.Releases[i-1].ReleasedAt))
		}
		out = append(out, fact)
	}
	return out
}

func cadenceBucket(gap time.Duration) models.CadenceBucket {
	switch {
	case gap <= 36*time.Hour:
		return models.CadenceDaily
	case gap <= 9*24*time.Hour:
		return models.CadenceWeekly
	case gap <= 35*24*time.Hour:
		return models.CadenceMonthly
	default:
		return models.CadenceSlower
	}
}

func sizeBucket(filesChanged int) models.SizeBucket {
	switch {
	case filesChanged <= 0:
		return models.SizeUnknown
	case filesChanged <= 3:
		return models.SizeXS
	case filesChanged <= 10:
		return models.SizeS
	case filesChanged <= 25:
		return models.SizeM
	case filesChanged <= 50:
		return models.SizeL
	default:
		return models.SizeXL
	}
}
