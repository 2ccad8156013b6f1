package gitlab

import "time"

// Wire DTOs for the GitLab v4 REST API. Only the fields the engine reads
// are mapped; everything else is dropped at the boundary.

type wireProject struct {
	ID                int64     `json:"id"`
	PathWithNamespace string    `json:"path_with_namespace"`
	DefaultBranch     string    `json:"default_branch"`
	Namespace         wireNS    `json:"namespace"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

type wireNS struct {
	FullPath string `json:"full_path"`
}

type wireUser struct {
	Username string `json:"username"`
}

type wireMergeRequest struct {
	ID           int64      `json:"id"`
	IID          int64      `json:"iid"`
	ProjectID    int64      `json:"project_id"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	Author       wireUser   `json:"author"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	SHA          string     `json:"sha"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	MergedAt     *time.Time `json:"merged_at"`
	ClosedAt     *time.Time `json:"closed_at"`
}

type wireApprovals struct {
	ApprovalsRequired int `json:"approvals_required"`
	ApprovedBy        []struct {
		User wireUser `json:"user"`
	} `json:"approved_by"`
}

type wireNote struct {
	System    bool      `json:"system"`
	Body      string    `json:"body"`
	Author    wireUser  `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type wireCommit struct {
	ID             string    `json:"id"`
	AuthorName     string    `json:"author_name"`
	AuthorEmail    string    `json:"author_email"`
	Message        string    `json:"message"`
	CommittedDate  time.Time `json:"committed_date"`
	Stats          wireStats `json:"stats"`
	Gpg            *wireGpg  `json:"signature,omitempty"`
}

type wireStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

type wireGpg struct {
	VerificationStatus string `json:"verification_status"`
}

type wireChanges struct {
	Changes []struct {
		NewPath string `json:"new_path"`
	} `json:"changes"`
}

type wirePipeline struct {
	ID         int64      `json:"id"`
	ProjectID  int64      `json:"project_id"`
	SHA        string     `json:"sha"`
	Ref        string     `json:"ref"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Duration   *float64   `json:"duration"`
}

type wireEnvironment struct {
	Name string `json:"name"`
}

type wirePipelineDetail struct {
	wirePipeline
	Environment *wireEnvironment `json:"environment"`
}

type wireJob struct {
	ID             int64      `json:"id"`
	Stage          string     `json:"stage"`
	Status         string     `json:"status"`
	Duration       *float64   `json:"duration"`
	QueuedDuration *float64   `json:"queued_duration"`
	Retried        bool       `json:"retried"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	Pipeline       struct {
		ID int64 `json:"id"`
	} `json:"pipeline"`
}

type wireRelease struct {
	TagName    string    `json:"tag_name"`
	ReleasedAt time.Time `json:"released_at"`
	Commit     struct {
		ID string `json:"id"`
	} `json:"commit"`
}

type wireIssue struct {
	ID        int64      `json:"id"`
	IID       int64      `json:"iid"`
	Author    wireUser   `json:"author"`
	State     string     `json:"state"`
	Labels    []string   `json:"labels"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}
