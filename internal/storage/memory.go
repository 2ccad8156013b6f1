package storage

import (
	"context"
	"sync"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/models"
)

type wmKey struct {
	projectID int64
	entity    models.EntityType
}

type commitKey struct {
	projectID int64
	sha       string
}

type releaseKey struct {
	projectID int64
	tag       string
}

// Memory is an in-process Store for tests and dry runs. It applies the same
// updated_at guard the SQL stores do, so replay semantics match production.
type Memory struct {
	mu sync.RWMutex

	projects   map[int64]models.Project
	commits    map[commitKey]models.Commit
	mrs        map[int64]models.MergeRequest
	pipelines  map[int64]models.Pipeline
	jobs       map[int64]models.Job
	releases   map[releaseKey]models.Release
	issues     map[int64]models.Issue
	watermarks map[wmKey]models.Watermark
	facts      map[int64]models.Facts
	projAggs   map[int64]aggregate.ProjectAggregate
	devAggs    map[int64][]aggregate.DeveloperAggregate
	lastRun    []byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects:   map[int64]models.Project{},
		commits:    map[commitKey]models.Commit{},
		mrs:        map[int64]models.MergeRequest{},
		pipelines:  map[int64]models.Pipeline{},
		jobs:       map[int64]models.Job{},
		releases:   map[releaseKey]models.Release{},
		issues:     map[int64]models.Issue{},
		watermarks: map[wmKey]models.Watermark{},
		facts:      map[int64]models.Facts{},
		projAggs:   map[int64]aggregate.ProjectAggregate{},
		devAggs:    map[int64][]aggregate.DeveloperAggregate{},
	}
}

func (m *Memory) SaveProject(_ context.Context, p models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *Memory) SaveCommits(_ context.Context, commits []models.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range commits {
		k := commitKey{c.ProjectID, c.SHA}
		if old, ok := m.commits[k]; ok && old.UpdatedAt.After(c.UpdatedAt) {
			continue
		}
		m.commits[k] = c
	}
	return nil
}

func (m *Memory) SaveMergeRequests(_ context.Context, mrs []models.MergeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mr := range mrs {
		if old, ok := m.mrs[mr.MRID]; ok && old.UpdatedAt.After(mr.UpdatedAt) {
			continue
		}
		m.mrs[mr.MRID] = mr
	}
	return nil
}

func (m *Memory) SavePipelines(_ context.Context, pipelines []models.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pipelines {
		if old, ok := m.pipelines[p.PipelineID]; ok && old.UpdatedAt.After(p.UpdatedAt) {
			continue
		}
		m.pipelines[p.PipelineID] = p
	}
	return nil
}

func (m *Memory) SaveJobs(_ context.Context, jobs []models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		if old, ok := m.jobs[j.JobID]; ok && old.UpdatedAt.After(j.UpdatedAt) {
			continue
		}
		m.jobs[j.JobID] = j
	}
	return nil
}

func (m *Memory) SaveReleases(_ context.Context, releases []models.Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range releases {
		k := releaseKey{r.ProjectID, r.Tag}
		if old, ok := m.releases[k]; ok && old.UpdatedAt.After(r.UpdatedAt) {
			continue
		}
		m.releases[k] = r
	}
	return nil
}

func (m *Memory) SaveIssues(_ context.Context, issues []models.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, is := range issues {
		if old, ok := m.issues[is.IssueID]; ok && old.UpdatedAt.After(is.UpdatedAt) {
			continue
		}
		m.issues[is.IssueID] = is
	}
	return nil
}

func (m *Memory) GetProjects(_ context.Context) ([]models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) GetSnapshot(_ context.Context, projectID int64, since time.Time) (models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := models.Snapshot{Project: m.projects[projectID]}
	for _, c := range m.commits {
		if c.ProjectID == projectID && !c.UpdatedAt.Before(since) {
			snap.Commits = append(snap.Commits, c)
		}
	}
	for _, mr := range m.mrs {
		if mr.ProjectID == projectID && !mr.UpdatedAt.Before(since) {
			snap.MergeRequests = append(snap.MergeRequests, mr)
		}
	}
	for _, p := range m.pipelines {
		if p.ProjectID == projectID && !p.UpdatedAt.Before(since) {
			snap.Pipelines = append(snap.Pipelines, p)
		}
	}
	for _, j := range m.jobs {
		if j.ProjectID == projectID && !j.UpdatedAt.Before(since) {
			snap.Jobs = append(snap.Jobs, j)
		}
	}
	for _, r := range m.releases {
		if r.ProjectID == projectID && !r.UpdatedAt.Before(since) {
			snap.Releases = append(snap.Releases, r)
		}
	}
	for _, is := range m.issues {
		if is.ProjectID == projectID && !is.UpdatedAt.Before(since) {
			snap.Issues = append(snap.Issues, is)
		}
	}
	return snap, nil
}

func (m *Memory) GetWatermark(_ context.Context, projectID int64, entity models.EntityType) (models.Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wm, ok := m.watermarks[wmKey{projectID, entity}]
	if !ok {
		return models.Watermark{}, ErrNotFound
	}
	return wm, nil
}

func (m *Memory) SetWatermark(_ context.Context, wm models.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[wmKey{wm.ProjectID, wm.Entity}] = wm
	return nil
}

func (m *Memory) ResetWatermarks(_ context.Context, projectID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.watermarks {
		if k.projectID == projectID {
			delete(m.watermarks, k)
		}
	}
	return nil
}

func (m *Memory) SaveFacts(_ context.Context, facts models.Facts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[facts.ProjectID] = facts
	return nil
}

func (m *Memory) GetFacts(_ context.Context, projectID int64) (models.Facts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	facts, ok := m.facts[projectID]
	if !ok {
		return models.Facts{}, ErrNotFound
	}
	return facts, nil
}

func (m *Memory) SaveProjectAggregate(_ context.Context, agg aggregate.ProjectAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projAggs[agg.ProjectID] = agg
	return nil
}

func (m *Memory) SaveDeveloperAggregates(_ context.Context, aggs []aggregate.DeveloperAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range aggs {
		m.devAggs[a.ProjectID] = append(m.devAggs[a.ProjectID], a)
	}
	return nil
}

func (m *Memory) SaveRunSummary(_ context.Context, _ time.Time, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun = append([]byte(nil), payload...)
	return nil
}

func (m *Memory) GetLastRunSummary(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastRun == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.lastRun...), nil
}

func (m *Memory) Close() error { return nil }
