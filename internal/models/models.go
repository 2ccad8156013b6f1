package models

import (
	"time"
)

// EntityType identifies a collectable raw entity class. Watermarks are
// tracked per (project, entity type).
type EntityType string

const (
	EntityCommit       EntityType = "commit"
	EntityMergeRequest EntityType = "merge_request"
	EntityPipeline     EntityType = "pipeline"
	EntityJob          EntityType = "job"
	EntityRelease      EntityType = "release"
	EntityIssue        EntityType = "issue"
)

// AllEntityTypes lists every entity type in collection order.
var AllEntityTypes = []EntityType{
	EntityCommit,
	EntityMergeRequest,
	EntityPipeline,
	EntityJob,
	EntityRelease,
	EntityIssue,
}

// Project represents a GitLab project
type Project struct {
	ID            int64     `json:"id" db:"id"`
	PathWithNS    string    `json:"path_with_namespace" db:"path_with_ns"`
	DefaultBranch string    `json:"default_branch" db:"default_branch"`
	Group         string    `json:"group" db:"group_path"`
	LastActivity  time.Time `json:"last_activity_at" db:"last_activity"`
}

// Commit represents a git commit as reported by the source platform
type Commit struct {
	ProjectID   int64     `json:"project_id" db:"project_id"`
	SHA         string    `json:"sha" db:"sha"`
	AuthorID    string    `json:"author_id" db:"author_id"`
	AuthorEmail string    `json:"author_email" db:"author_email"`
	Message     string    `json:"message" db:"message"`
	CommittedAt time.Time `json:"committed_at" db:"committed_at"`
	Additions   int       `json:"additions" db:"additions"`
	Deletions   int       `json:"deletions" db:"deletions"`
	Signed      bool      `json:"signed" db:"signed"`
	Branch      string    `json:"branch" db:"branch"`
	ForcePushed bool      `json:"force_pushed" db:"force_pushed"`
	DirectPush  bool      `json:"direct_push" db:"direct_push"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MergeRequest represents a GitLab merge request
type MergeRequest struct {
	ProjectID         int64      `json:"project_id" db:"project_id"`
	MRID              int64      `json:"mr_id" db:"mr_id"`
	IID               int64      `json:"mr_iid" db:"mr_iid"`
	Title             string     `json:"title" db:"title"`
	AuthorID          string     `json:"author_id" db:"author_id"`
	State             string     `json:"state" db:"state"`
	SourceBranch      string     `json:"source_branch" db:"source_branch"`
	TargetBranch      string     `json:"target_branch" db:"target_branch"`
	HeadSHA           string     `json:"head_sha" db:"head_sha"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	MergedAt          *time.Time `json:"merged_at" db:"merged_at"`
	ClosedAt          *time.Time `json:"closed_at" db:"closed_at"`
	ReadyAt           *time.Time `json:"ready_at" db:"ready_at"`
	FirstReviewAt     *time.Time `json:"first_review_at" db:"first_review_at"`
	ReviewTimes       []time.Time `json:"review_times" db:"-"`
	ApprovalsRequired int        `json:"approvals_required" db:"approvals_required"`
	ApprovalsGiven    int        `json:"approvals_given" db:"approvals_given"`
	FilesChanged      int        `json:"files_changed" db:"files_changed"`
	CommitSHAs        []string   `json:"commit_shas" db:"-"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Pipeline represents a CI pipeline run
type Pipeline struct {
	ProjectID   int64      `json:"project_id" db:"project_id"`
	PipelineID  int64      `json:"pipeline_id" db:"pipeline_id"`
	SHA         string     `json:"sha" db:"sha"`
	Ref         string     `json:"ref" db:"ref"`
	Status      string     `json:"status" db:"status"`
	Environment string     `json:"environment" db:"environment"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at" db:"finished_at"`
	DurationSec *float64   `json:"duration_sec" db:"duration_sec"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Job represents a single CI job inside a pipeline
type Job struct {
	ProjectID   int64      `json:"project_id" db:"project_id"`
	JobID       int64      `json:"job_id" db:"job_id"`
	PipelineID  int64      `json:"pipeline_id" db:"pipeline_id"`
	Stage       string     `json:"stage" db:"stage"`
	Status      string     `json:"status" db:"status"`
	DurationSec *float64   `json:"duration_sec" db:"duration_sec"`
	QueuedSec   *float64   `json:"queued_sec" db:"queued_sec"`
	Retried     bool       `json:"retried" db:"retried"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time `json:"finished_at" db:"finished_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Release represents a tagged release
type Release struct {
	ProjectID  int64     `json:"project_id" db:"project_id"`
	Tag        string    `json:"tag" db:"tag"`
	SHA        string    `json:"sha" db:"sha"`
	ReleasedAt time.Time `json:"released_at" db:"released_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Issue represents a tracker issue, ingested and joined by reference only
type Issue struct {
	ProjectID     int64      `json:"project_id" db:"project_id"`
	IssueID       int64      `json:"issue_id" db:"issue_id"`
	AuthorID      string     `json:"author_id" db:"author_id"`
	State         string     `json:"state" db:"state"`
	Labels        []string   `json:"labels" db:"-"`
	ReopenedCount int        `json:"reopened_count" db:"reopened_count"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ClosedAt      *time.Time `json:"closed_at" db:"closed_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Watermark tracks the last-seen update timestamp for one (project, entity
// type) pair. The collector is the only writer.
type Watermark struct {
	ProjectID         int64      `json:"project_id" db:"project_id"`
	Entity            EntityType `json:"entity" db:"entity"`
	LastSeenUpdatedAt time.Time  `json:"last_seen_updated_at" db:"last_seen_updated_at"`
	LastRunAt         time.Time  `json:"last_run_at" db:"last_run_at"`
}

// Snapshot is the raw window handed to the linker: everything collected for
// one project in one pass.
type Snapshot struct {
	Project       Project
	Commits       []Commit
	MergeRequests []MergeRequest
	Pipelines     []Pipeline
	Jobs          []Job
	Releases      []Release
	Issues        []Issue
}
