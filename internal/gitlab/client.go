package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const perPage = 100

// Note is a merge request note (comment). System notes carry state
// transitions; human notes from non-authors count as review activity.
type Note struct {
	System    bool
	Body      string
	Author    string
	CreatedAt time.Time
}

// Client talks to a GitLab v4 REST API with request pacing. Retrying is the
// caller's job; the client only classifies failures.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient creates a GitLab API client. rateLimit is requests per second.
func NewClient(baseURL, token string, rateLimit int, logger *logrus.Logger) *Client {
	if rateLimit <= 0 {
		rateLimit = 5
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		logger:  logger,
	}
}

// getJSON performs one GET and decodes the body into v. It returns the
// X-Next-Page value (0 when the last page was served). 429 and 5xx become
// *RateLimitError so the collector can retry; anything else 4xx is hard.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, v any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gitlab request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		return 0, &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("gitlab %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}

	next := 0
	if np := resp.Header.Get("X-Next-Page"); np != "" {
		next, _ = strconv.Atoi(np)
	}
	return next, nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func pageParams(page int) url.Values {
	p := url.Values{}
	p.Set("per_page", strconv.Itoa(perPage))
	if page > 0 {
		p.Set("page", strconv.Itoa(page))
	}
	return p
}

// ListGroupProjects lists projects in a group, subgroups included.
func (c *Client) ListGroupProjects(ctx context.Context, group string, page int) ([]models.Project, int, error) {
	params := pageParams(page)
	params.Set("include_subgroups", "true")
	params.Set("order_by", "last_activity_at")
	params.Set("sort", "desc")

	var raw []wireProject
	next, err := c.getJSON(ctx, "/api/v4/groups/"+url.PathEscape(group)+"/projects", params, &raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Project, 0, len(raw))
	for _, p := range raw {
		out = append(out, models.Project{
			ID:            p.ID,
			PathWithNS:    p.PathWithNamespace,
			DefaultBranch: p.DefaultBranch,
			Group:         p.Namespace.FullPath,
			LastActivity:  p.LastActivityAt,
		})
	}
	return out, next, nil
}

// ListMembershipProjects lists projects the token holder is a member of.
func (c *Client) ListMembershipProjects(ctx context.Context, page int) ([]models.Project, int, error) {
	params := pageParams(page)
	params.Set("membership", "true")
	params.Set("order_by", "last_activity_at")
	params.Set("sort", "desc")

	var raw []wireProject
	next, err := c.getJSON(ctx, "/api/v4/projects", params, &raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Project, 0, len(raw))
	for _, p := range raw {
		out = append(out, models.Project{
			ID:            p.ID,
			PathWithNS:    p.PathWithNamespace,
			DefaultBranch: p.DefaultBranch,
			Group:         p.Namespace.FullPath,
			LastActivity:  p.LastActivityAt,
		})
	}
	return out, next, nil
}

// ListMergeRequests lists MRs updated after the given instant.
func (c *Client) ListMergeRequests(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.MergeRequest, int, error) {
	params := pageParams(page)
	params.Set("scope", "all")
	params.Set("order_by", "updated_at")
	params.Set("sort", "asc")
	if !updatedAfter.IsZero() {
		params.Set("updated_after", updatedAfter.UTC().Format(time.RFC3339))
	}

	var raw []wireMergeRequest
	next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/merge_requests", projectID), params, &raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.MergeRequest, 0, len(raw))
	for _, mr := range raw {
		out = append(out, models.MergeRequest{
			ProjectID:    projectID,
			MRID:         mr.ID,
			IID:          mr.IID,
			Title:        mr.Title,
			AuthorID:     mr.Author.Username,
			State:        mr.State,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
			HeadSHA:      mr.SHA,
			CreatedAt:    mr.CreatedAt,
			MergedAt:     mr.MergedAt,
			ClosedAt:     mr.ClosedAt,
			UpdatedAt:    mr.UpdatedAt,
		})
	}
	return out, next, nil
}

// GetMRApprovals fetches the approval state for one MR.
func (c *Client) GetMRApprovals(ctx context.Context, projectID, iid int64) (required, given int, err error) {
	var raw wireApprovals
	_, err = c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/approvals", projectID, iid), nil, &raw)
	if err != nil {
		return 0, 0, err
	}
	return raw.ApprovalsRequired, len(raw.ApprovedBy), nil
}

// ListMRNotes fetches all notes for one MR, oldest first.
func (c *Client) ListMRNotes(ctx context.Context, projectID, iid int64) ([]Note, error) {
	var out []Note
	page := 1
	for {
		params := pageParams(page)
		params.Set("sort", "asc")
		var raw []wireNote
		next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/notes", projectID, iid), params, &raw)
		if err != nil {
			return nil, err
		}
		for _, n := range raw {
			out = append(out, Note{
				System:    n.System,
				Body:      n.Body,
				Author:    n.Author.Username,
				CreatedAt: n.CreatedAt,
			})
		}
		if next == 0 {
			return out, nil
		}
		page = next
	}
}

// ListMRCommits fetches the commit list of one MR.
func (c *Client) ListMRCommits(ctx context.Context, projectID, iid int64) ([]models.Commit, error) {
	var out []models.Commit
	page := 1
	for {
		var raw []wireCommit
		next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/commits", projectID, iid), pageParams(page), &raw)
		if err != nil {
			return nil, err
		}
		for _, cm := range raw {
			out = append(out, commitFromWire(projectID, cm, ""))
		}
		if next == 0 {
			return out, nil
		}
		page = next
	}
}

// GetMRChangeCount returns the number of files touched by one MR.
func (c *Client) GetMRChangeCount(ctx context.Context, projectID, iid int64) (int, error) {
	var raw wireChanges
	_, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/merge_requests/%d/changes", projectID, iid), nil, &raw)
	if err != nil {
		return 0, err
	}
	return len(raw.Changes), nil
}

// ListCommits lists repository commits on a ref within [since, until].
func (c *Client) ListCommits(ctx context.Context, projectID int64, ref string, since, until time.Time, page int) ([]models.Commit, int, error) {
	params := pageParams(page)
	params.Set("with_stats", "true")
	if ref != "" {
		params.Set("ref_name", ref)
	}
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		params.Set("until", until.UTC().Format(time.RFC3339))
	}

	var raw []wireCommit
	next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/repository/commits", projectID), params, &raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Commit, 0, len(raw))
	for _, cm := range raw {
		out = append(out, commitFromWire(projectID, cm, ref))
	}
	return out, next, nil
}

// ListPipelines lists pipelines updated after the given instant.
func (c *Client) ListPipelines(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.Pipeline, int, error) {
	params := pageParams(page)
	params.Set("order_by", "updated_at")
	params.Set("sort", "asc")
	if !updatedAfter.IsZero() {
		params.Set("updated_after", updatedAfter.UTC().Format(time.RFC3339))
	}

	var raw []wirePipeline
	next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/pipelines", projectID), params, &raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Pipeline, 0, len(raw))
	for _, p := range raw {
		out = append(out, models.Pipeline{
			ProjectID:   projectID,
			PipelineID:  p.ID,
			SHA:         p.SHA,
			Ref:         p.Ref,
			Status:      strings.ToLower(p.Status),
			CreatedAt:   p.CreatedAt,
			StartedAt:   p.StartedAt,
			FinishedAt:  p.FinishedAt,
			DurationSec: p.Duration,
			UpdatedAt:   p.UpdatedAt,
		})
	}
	return out, next, nil
}

// GetPipeline fetches full pipeline detail, including the environment name
// when the pipeline deployed one.
func (c *Client) GetPipeline(ctx context.Context, projectID, pipelineID int64) (models.Pipeline, error) {
	var raw wirePipelineDetail
	_, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/pipelines/%d", projectID, pipelineID), nil, &raw)
	if err != nil {
		return models.Pipeline{}, err
	}
	p := models.Pipeline{
		ProjectID:   projectID,
		PipelineID:  raw.ID,
		SHA:         raw.SHA,
		Ref:         raw.Ref,
		Status:      strings.ToLower(raw.Status),
		CreatedAt:   raw.CreatedAt,
		StartedAt:   raw.StartedAt,
		FinishedAt:  raw.FinishedAt,
		DurationSec: raw.Duration,
		UpdatedAt:   raw.UpdatedAt,
	}
	if raw.Environment != nil {
		p.Environment = raw.Environment.Name
	}
	return p, nil
}

// ListPipelineJobs fetches all jobs of one pipeline.
func (c *Client) ListPipelineJobs(ctx context.Context, projectID, pipelineID int64) ([]models.Job, error) {
	var out []models.Job
	page := 1
	for {
		var raw []wireJob
		next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/pipelines/%d/jobs", projectID, pipelineID), pageParams(page), &raw)
		if err != nil {
			return nil, err
		}
		for _, j := range raw {
			out = append(out, models.Job{
				ProjectID:   projectID,
				JobID:       j.ID,
				PipelineID:  pipelineID,
				Stage:       j.Stage,
				Status:      strings.ToLower(j.Status),
				DurationSec: j.Duration,
				QueuedSec:   queuedSeconds(j),
				Retried:     j.Retried,
				CreatedAt:   j.CreatedAt,
				StartedAt:   j.StartedAt,
				FinishedAt:  j.FinishedAt,
				UpdatedAt:   j.CreatedAt,
			})
		}
		if next == 0 {
			return out, nil
		}
		page = next
	}
}

// ListReleases lists project releases.
func (c *Client) ListReleases(ctx context.Context, projectID int64, page int) ([]models.Release, int, error) {
	var raw []wireRelease
	next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/releases", projectID), pageParams(page), &raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Release, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.Release{
			ProjectID:  projectID,
			Tag:        r.TagName,
			SHA:        r.Commit.ID,
			ReleasedAt: r.ReleasedAt,
			UpdatedAt:  r.ReleasedAt,
		})
	}
	return out, next, nil
}

// ListIssues lists issues updated after the given instant.
func (c *Client) ListIssues(ctx context.Context, projectID int64, updatedAfter time.Time, page int) ([]models.Issue, int, error) {
	params := pageParams(page)
	params.Set("scope", "all")
	params.Set("order_by", "updated_at")
	params.Set("sort", "asc")
	if !updatedAfter.IsZero() {
		params.Set("updated_after", updatedAfter.UTC().Format(time.RFC3339))
	}

	var raw []wireIssue
	next, err := c.getJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/issues", projectID), params, &raw)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Issue, 0, len(raw))
	for _, is := range raw {
		out = append(out, models.Issue{
			ProjectID: projectID,
			IssueID:   is.ID,
			AuthorID:  is.Author.Username,
			State:     is.State,
			Labels:    is.Labels,
			CreatedAt: is.CreatedAt,
			ClosedAt:  is.ClosedAt,
			UpdatedAt: is.UpdatedAt,
		})
	}
	return out, next, nil
}

func commitFromWire(projectID int64, cm wireCommit, branch string) models.Commit {
	return models.Commit{
		ProjectID:   projectID,
		SHA:         cm.ID,
		AuthorID:    cm.AuthorName,
		AuthorEmail: cm.AuthorEmail,
		Message:     cm.Message,
		CommittedAt: cm.CommittedDate,
		Additions:   cm.Stats.Additions,
		Deletions:   cm.Stats.Deletions,
		Signed:      cm.Gpg != nil && cm.Gpg.VerificationStatus == "verified",
		Branch:      branch,
		UpdatedAt:   cm.CommittedDate,
	}
}

// queuedSeconds prefers the API-reported queued_duration and falls back to
// started_at - created_at when absent.
func queuedSeconds(j wireJob) *float64 {
	if j.QueuedDuration != nil {
		return j.QueuedDuration
	}
	if j.StartedAt != nil && !j.CreatedAt.IsZero() {
		s := j.StartedAt.Sub(j.CreatedAt).Seconds()
		if s >= 0 {
			return &s
		}
	}
	return nil
}
