package models

import "time"

// NullReason explains why a derived metric is null instead of a number.
// Missing data never raises an error; it is surfaced as a tagged null.
type NullReason string

const (
	NullReasonNoFirstCommit  NullReason = "no_first_commit"
	NullReasonNotMerged      NullReason = "not_merged"
	NullReasonNoReview       NullReason = "no_review"
	NullReasonNotYetGreen    NullReason = "not_yet_green"
	NullReasonNotFinished    NullReason = "not_finished"
	NullReasonNoDuration     NullReason = "no_duration"
	NullReasonEmptyWindow    NullReason = "empty_window"
	NullReasonZeroDenominator NullReason = "zero_denominator"
)

// SizeBucket classifies an MR by files changed: xs (<=3), s (4-10),
// m (11-25), l (26-50), xl (>50).
type SizeBucket string

const (
	SizeXS      SizeBucket = "xs"
	SizeS       SizeBucket = "s"
	SizeM       SizeBucket = "m"
	SizeL       SizeBucket = "l"
	SizeXL      SizeBucket = "xl"
	SizeUnknown SizeBucket = "unknown"
)

// FactMergeRequest is the per-MR derived fact row. Recomputable from raw
// state; null metrics carry a reason.
type FactMergeRequest struct {
	ProjectID       int64       `json:"project_id" db:"project_id"`
	MRID            int64       `json:"mr_id" db:"mr_id"`
	AuthorID        string      `json:"author_id" db:"author_id"`
	CycleTimeHours  *float64    `json:"cycle_time_hours" db:"cycle_time_hours"`
	CycleTimeNull   NullReason  `json:"cycle_time_null,omitempty" db:"cycle_time_null"`
	ReviewWaitHours *float64    `json:"review_wait_hours" db:"review_wait_hours"`
	ReviewWaitNull  NullReason  `json:"review_wait_null,omitempty" db:"review_wait_null"`
	ReworkCount     int         `json:"rework_count" db:"rework_count"`
	ReviewRounds    int         `json:"review_rounds" db:"review_rounds"`
	LinesAdded      int         `json:"lines_added" db:"lines_added"`
	LinesRemoved    int         `json:"lines_removed" db:"lines_removed"`
	FilesChanged    int         `json:"files_changed" db:"files_changed"`
	Size            SizeBucket  `json:"size_bucket" db:"size_bucket"`
	ApprovalBypassed bool       `json:"approval_bypassed" db:"approval_bypassed"`
	MergedAt        *time.Time  `json:"merged_at" db:"merged_at"`
}

// FactPipeline is the per-pipeline derived fact row.
type FactPipeline struct {
	ProjectID        int64      `json:"project_id" db:"project_id"`
	PipelineID       int64      `json:"pipeline_id" db:"pipeline_id"`
	Ref              string     `json:"ref" db:"ref"`
	Status           string     `json:"status" db:"status"`
	MTGSeconds       *float64   `json:"mtg_seconds" db:"mtg_seconds"`
	MTGNull          NullReason `json:"mtg_null,omitempty" db:"mtg_null"`
	IsProd           bool       `json:"is_prod" db:"is_prod"`
	IsRollback       bool       `json:"is_rollback" db:"is_rollback"`
	IsFlakyCandidate bool       `json:"is_flaky_candidate" db:"is_flaky_candidate"`
	IsHotfix         bool       `json:"is_hotfix" db:"is_hotfix"`
	DurationSec      *float64   `json:"duration_sec" db:"duration_sec"`
	QueueMeanSec     *float64   `json:"queue_mean_sec" db:"queue_mean_sec"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// FactStageDuration aggregates job durations per CI stage within a project
// window. Derived alongside pipeline facts.
type FactStageDuration struct {
	ProjectID  int64   `json:"project_id" db:"project_id"`
	Stage      string  `json:"stage" db:"stage"`
	JobCount   int     `json:"job_count" db:"job_count"`
	AvgSeconds float64 `json:"avg_seconds" db:"avg_seconds"`
}

// FactGitHygiene is a daily, additive bucket of hygiene counters. A day
// bucket is re-derived in full from that day's raw commits each run.
type FactGitHygiene struct {
	ProjectID       int64     `json:"project_id" db:"project_id"`
	Day             time.Time `json:"day" db:"day"`
	DirectPushes    int       `json:"direct_pushes" db:"direct_pushes"`
	ForcePushes     int       `json:"force_pushes" db:"force_pushes"`
	UnsignedCommits int       `json:"unsigned_commits" db:"unsigned_commits"`
}

// CadenceBucket classifies release frequency.
type CadenceBucket string

const (
	CadenceDaily   CadenceBucket = "daily"
	CadenceWeekly  CadenceBucket = "weekly"
	CadenceMonthly CadenceBucket = "monthly"
	CadenceSlower  CadenceBucket = "slower"
)

// FactRelease is the per-release derived fact row.
type FactRelease struct {
	ProjectID  int64         `json:"project_id" db:"project_id"`
	Tag        string        `json:"tag" db:"tag"`
	IsSemver   bool          `json:"is_semver" db:"is_semver"`
	Cadence    CadenceBucket `json:"cadence_bucket" db:"cadence_bucket"`
	ReleasedAt time.Time     `json:"released_at" db:"released_at"`
}

// Facts bundles everything the reducer produced for one project window.
type Facts struct {
	ProjectID     int64
	MergeRequests []FactMergeRequest
	Pipelines     []FactPipeline
	Stages        []FactStageDuration
	Hygiene       []FactGitHygiene
	Releases      []FactRelease
	// Rows dropped for structural violations, counted for the run summary.
	Excluded int
}
