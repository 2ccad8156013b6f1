package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store on PostgreSQL via sqlx with the pgx driver.
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore connects and configures the pool.
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id BIGINT PRIMARY KEY,
	path_with_ns TEXT NOT NULL,
	default_branch TEXT NOT NULL DEFAULT '',
	group_path TEXT NOT NULL DEFAULT '',
	last_activity TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS commits (
	project_id BIGINT NOT NULL,
	sha TEXT NOT NULL,
	author_id TEXT NOT NULL DEFAULT '',
	author_email TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	committed_at TIMESTAMPTZ NOT NULL,
	additions INT NOT NULL DEFAULT 0,
	deletions INT NOT NULL DEFAULT 0,
	signed BOOLEAN NOT NULL DEFAULT FALSE,
	branch TEXT NOT NULL DEFAULT '',
	force_pushed BOOLEAN NOT NULL DEFAULT FALSE,
	direct_push BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (project_id, sha)
);

CREATE TABLE IF NOT EXISTS merge_requests (
	project_id BIGINT NOT NULL,
	mr_id BIGINT PRIMARY KEY,
	mr_iid BIGINT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	author_id TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	source_branch TEXT NOT NULL DEFAULT '',
	target_branch TEXT NOT NULL DEFAULT '',
	head_sha TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	merged_at TIMESTAMPTZ,
	closed_at TIMESTAMPTZ,
	ready_at TIMESTAMPTZ,
	first_review_at TIMESTAMPTZ,
	review_times JSONB NOT NULL DEFAULT '[]',
	approvals_required INT NOT NULL DEFAULT 0,
	approvals_given INT NOT NULL DEFAULT 0,
	files_changed INT NOT NULL DEFAULT 0,
	commit_shas JSONB NOT NULL DEFAULT '[]',
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipelines (
	project_id BIGINT NOT NULL,
	pipeline_id BIGINT PRIMARY KEY,
	sha TEXT NOT NULL DEFAULT '',
	ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	environment TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	duration_sec DOUBLE PRECISION,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	project_id BIGINT NOT NULL,
	job_id BIGINT PRIMARY KEY,
	pipeline_id BIGINT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	duration_sec DOUBLE PRECISION,
	queued_sec DOUBLE PRECISION,
	retried BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS releases (
	project_id BIGINT NOT NULL,
	tag TEXT NOT NULL,
	sha TEXT NOT NULL DEFAULT '',
	released_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (project_id, tag)
);

CREATE TABLE IF NOT EXISTS issues (
	project_id BIGINT NOT NULL,
	issue_id BIGINT PRIMARY KEY,
	author_id TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	labels JSONB NOT NULL DEFAULT '[]',
	reopened_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS watermarks (
	project_id BIGINT NOT NULL,
	entity TEXT NOT NULL,
	last_seen_updated_at TIMESTAMPTZ NOT NULL,
	last_run_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (project_id, entity)
);

CREATE TABLE IF NOT EXISTS facts (
	project_id BIGINT PRIMARY KEY,
	payload JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_aggregates (
	project_id BIGINT NOT NULL,
	window_days INT NOT NULL,
	window_to TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (project_id, window_days, window_to)
);

CREATE TABLE IF NOT EXISTS runs (
	id BIGSERIAL PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS developer_aggregates (
	project_id BIGINT NOT NULL,
	author_id TEXT NOT NULL,
	window_days INT NOT NULL,
	window_to TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	PRIMARY KEY (project_id, author_id, window_days, window_to)
);
`

func (s *PostgresStore) SaveProject(ctx context.Context, p models.Project) error {
	query := `
		INSERT INTO projects (id, path_with_ns, default_branch, group_path, last_activity)
		VALUES (:id, :path_with_ns, :default_branch, :group_path, :last_activity)
		ON CONFLICT (id) DO UPDATE SET
			path_with_ns = EXCLUDED.path_with_ns,
			default_branch = EXCLUDED.default_branch,
			group_path = EXCLUDED.group_path,
			last_activity = EXCLUDED.last_activity
	`
	if _, err := s.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCommits(ctx context.Context, commits []models.Commit) error {
	if len(commits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO commits (project_id, sha, author_id, author_email, message,
			committed_at, additions, deletions, signed, branch, force_pushed,
			direct_push, updated_at)
		VALUES (:project_id, :sha, :author_id, :author_email, :message,
			:committed_at, :additions, :deletions, :signed, :branch, :force_pushed,
			:direct_push, :updated_at)
		ON CONFLICT (project_id, sha) DO UPDATE SET
			additions = EXCLUDED.additions,
			deletions = EXCLUDED.deletions,
			signed = EXCLUDED.signed,
			branch = EXCLUDED.branch,
			force_pushed = EXCLUDED.force_pushed,
			direct_push = EXCLUDED.direct_push,
			updated_at = EXCLUDED.updated_at
		WHERE commits.updated_at <= EXCLUDED.updated_at
	`
	for _, c := range commits {
		if _, err := tx.NamedExecContext(ctx, query, c); err != nil {
			return fmt.Errorf("save commit %s: %w", c.SHA, err)
		}
	}
	return tx.Commit()
}

type mrRow struct {
	models.MergeRequest
	ReviewTimesJSON string `db:"review_times"`
	CommitSHAsJSON  string `db:"commit_shas"`
}

func toMRRow(mr models.MergeRequest) (mrRow, error) {
	reviews, err := json.Marshal(mr.ReviewTimes)
	if err != nil {
		return mrRow{}, err
	}
	shas, err := json.Marshal(mr.CommitSHAs)
	if err != nil {
		return mrRow{}, err
	}
	return mrRow{MergeRequest: mr, ReviewTimesJSON: string(reviews), CommitSHAsJSON: string(shas)}, nil
}

func (r mrRow) toModel() (models.MergeRequest, error) {
	mr := r.MergeRequest
	mr.ReviewTimes = nil
	mr.CommitSHAs = nil
	if r.ReviewTimesJSON != "" {
		if err := json.Unmarshal([]byte(r.ReviewTimesJSON), &mr.ReviewTimes); err != nil {
			return mr, err
		}
	}
	if r.CommitSHAsJSON != "" {
		if err := json.Unmarshal([]byte(r.CommitSHAsJSON), &mr.CommitSHAs); err != nil {
			return mr, err
		}
	}
	return mr, nil
}

func (s *PostgresStore) SaveMergeRequests(ctx context.Context, mrs []models.MergeRequest) error {
	if len(mrs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO merge_requests (project_id, mr_id, mr_iid, title, author_id,
			state, source_branch, target_branch, head_sha, created_at, merged_at,
			closed_at, ready_at, first_review_at, review_times, approvals_required,
			approvals_given, files_changed, commit_shas, updated_at)
		VALUES (:project_id, :mr_id, :mr_iid, :title, :author_id,
			:state, :source_branch, :target_branch, :head_sha, :created_at, :merged_at,
			:closed_at, :ready_at, :first_review_at, :review_times, :approvals_required,
			:approvals_given, :files_changed, :commit_shas, :updated_at)
		ON CONFLICT (mr_id) DO UPDATE SET
			title = EXCLUDED.title,
			state = EXCLUDED.state,
			head_sha = EXCLUDED.head_sha,
			merged_at = EXCLUDED.merged_at,
			closed_at = EXCLUDED.closed_at,
			ready_at = EXCLUDED.ready_at,
			first_review_at = EXCLUDED.first_review_at,
			review_times = EXCLUDED.review_times,
			approvals_required = EXCLUDED.approvals_required,
			approvals_given = EXCLUDED.approvals_given,
			files_changed = EXCLUDED.files_changed,
			commit_shas = EXCLUDED.commit_shas,
			updated_at = EXCLUDED.updated_at
		WHERE merge_requests.updated_at <= EXCLUDED.updated_at
	`
	for _, mr := range mrs {
		row, err := toMRRow(mr)
		if err != nil {
			return fmt.Errorf("encode merge request %d: %w", mr.MRID, err)
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("save merge request %d: %w", mr.MRID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) SavePipelines(ctx context.Context, pipelines []models.Pipeline) error {
	if len(pipelines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO pipelines (project_id, pipeline_id, sha, ref, status,
			environment, created_at, started_at, finished_at, duration_sec, updated_at)
		VALUES (:project_id, :pipeline_id, :sha, :ref, :status,
			:environment, :created_at, :started_at, :finished_at, :duration_sec, :updated_at)
		ON CONFLICT (pipeline_id) DO UPDATE SET
			status = EXCLUDED.status,
			environment = EXCLUDED.environment,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			duration_sec = EXCLUDED.duration_sec,
			updated_at = EXCLUDED.updated_at
		WHERE pipelines.updated_at <= EXCLUDED.updated_at
	`
	for _, p := range pipelines {
		if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
			return fmt.Errorf("save pipeline %d: %w", p.PipelineID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) SaveJobs(ctx context.Context, jobs []models.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO jobs (project_id, job_id, pipeline_id, stage, status,
			duration_sec, queued_sec, retried, created_at, started_at, finished_at, updated_at)
		VALUES (:project_id, :job_id, :pipeline_id, :stage, :status,
			:duration_sec, :queued_sec, :retried, :created_at, :started_at, :finished_at, :updated_at)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			duration_sec = EXCLUDED.duration_sec,
			queued_sec = EXCLUDED.queued_sec,
			retried = EXCLUDED.retried,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = EXCLUDED.updated_at
		WHERE jobs.updated_at <= EXCLUDED.updated_at
	`
	for _, j := range jobs {
		if _, err := tx.NamedExecContext(ctx, query, j); err != nil {
			return fmt.Errorf("save job %d: %w", j.JobID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) SaveReleases(ctx context.Context, releases []models.Release) error {
	if len(releases) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO releases (project_id, tag, sha, released_at, updated_at)
		VALUES (:project_id, :tag, :sha, :released_at, :updated_at)
		ON CONFLICT (project_id, tag) DO UPDATE SET
			sha = EXCLUDED.sha,
			released_at = EXCLUDED.released_at,
			updated_at = EXCLUDED.updated_at
		WHERE releases.updated_at <= EXCLUDED.updated_at
	`
	for _, r := range releases {
		if _, err := tx.NamedExecContext(ctx, query, r); err != nil {
			return fmt.Errorf("save release %s: %w", r.Tag, err)
		}
	}
	return tx.Commit()
}

type issueRow struct {
	models.Issue
	LabelsJSON string `db:"labels"`
}

func (s *PostgresStore) SaveIssues(ctx context.Context, issues []models.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO issues (project_id, issue_id, author_id, state, labels,
			reopened_count, created_at, closed_at, updated_at)
		VALUES (:project_id, :issue_id, :author_id, :state, :labels,
			:reopened_count, :created_at, :closed_at, :updated_at)
		ON CONFLICT (issue_id) DO UPDATE SET
			state = EXCLUDED.state,
			labels = EXCLUDED.labels,
			reopened_count = EXCLUDED.reopened_count,
			closed_at = EXCLUDED.closed_at,
			updated_at = EXCLUDED.updated_at
		WHERE issues.updated_at <= EXCLUDED.updated_at
	`
	for _, is := range issues {
		labels, err := json.Marshal(is.Labels)
		if err != nil {
			return fmt.Errorf("encode issue %d labels: %w", is.IssueID, err)
		}
		row := issueRow{Issue: is, LabelsJSON: string(labels)}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("save issue %d: %w", is.IssueID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM projects ORDER BY id`); err != nil {
		return nil, fmt.Errorf("get projects: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, projectID int64, since time.Time) (models.Snapshot, error) {
	var snap models.Snapshot

	err := s.db.GetContext(ctx, &snap.Project, `SELECT * FROM projects WHERE id = $1`, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return snap, ErrNotFound
		}
		return snap, fmt.Errorf("get project: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Commits,
		`SELECT * FROM commits WHERE project_id = $1 AND updated_at >= $2`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get commits: %w", err)
	}

	var mrRows []mrRow
	err = s.db.SelectContext(ctx, &mrRows,
		`SELECT * FROM merge_requests WHERE project_id = $1 AND updated_at >= $2`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get merge requests: %w", err)
	}
	for _, row := range mrRows {
		mr, err := row.toModel()
		if err != nil {
			return snap, fmt.Errorf("decode merge request %d: %w", row.MRID, err)
		}
		snap.MergeRequests = append(snap.MergeRequests, mr)
	}

	err = s.db.SelectContext(ctx, &snap.Pipelines,
		`SELECT * FROM pipelines WHERE project_id = $1 AND updated_at >= $2`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get pipelines: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Jobs,
		`SELECT * FROM jobs WHERE project_id = $1 AND updated_at >= $2`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get jobs: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Releases,
		`SELECT * FROM releases WHERE project_id = $1 AND updated_at >= $2`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get releases: %w", err)
	}

	var issueRows []issueRow
	err = s.db.SelectContext(ctx, &issueRows,
		`SELECT * FROM issues WHERE project_id = $1 AND updated_at >= $2`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get issues: %w", err)
	}
	for _, row := range issueRows {
		is := row.Issue
		is.Labels = nil
		if row.LabelsJSON != "" {
			if err := json.Unmarshal([]byte(row.LabelsJSON), &is.Labels); err != nil {
				return snap, fmt.Errorf("decode issue %d labels: %w", row.IssueID, err)
			}
		}
		snap.Issues = append(snap.Issues, is)
	}

	return snap, nil
}

func (s *PostgresStore) GetWatermark(ctx context.Context, projectID int64, entity models.EntityType) (models.Watermark, error) {
	var wm models.Watermark
	err := s.db.GetContext(ctx, &wm,
		`SELECT * FROM watermarks WHERE project_id = $1 AND entity = $2`, projectID, entity)
	if err != nil {
		if err == sql.ErrNoRows {
			return wm, ErrNotFound
		}
		return wm, fmt.Errorf("get watermark: %w", err)
	}
	return wm, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, wm models.Watermark) error {
	query := `
		INSERT INTO watermarks (project_id, entity, last_seen_updated_at, last_run_at)
		VALUES (:project_id, :entity, :last_seen_updated_at, :last_run_at)
		ON CONFLICT (project_id, entity) DO UPDATE SET
			last_seen_updated_at = EXCLUDED.last_seen_updated_at,
			last_run_at = EXCLUDED.last_run_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, wm); err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetWatermarks(ctx context.Context, projectID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watermarks WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("reset watermarks: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveFacts(ctx context.Context, facts models.Facts) error {
	payload, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	query := `
		INSERT INTO facts (project_id, payload, computed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (project_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			computed_at = EXCLUDED.computed_at
	`
	if _, err := s.db.ExecContext(ctx, query, facts.ProjectID, payload); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFacts(ctx context.Context, projectID int64) (models.Facts, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM facts WHERE project_id = $1`, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Facts{}, ErrNotFound
		}
		return models.Facts{}, fmt.Errorf("get facts: %w", err)
	}
	var facts models.Facts
	if err := json.Unmarshal(payload, &facts); err != nil {
		return models.Facts{}, fmt.Errorf("decode facts: %w", err)
	}
	return facts, nil
}

func (s *PostgresStore) SaveProjectAggregate(ctx context.Context, agg aggregate.ProjectAggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode project aggregate: %w", err)
	}
	query := `
		INSERT INTO project_aggregates (project_id, window_days, window_to, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, window_days, window_to) DO UPDATE SET
			payload = EXCLUDED.payload
	`
	if _, err := s.db.ExecContext(ctx, query, agg.ProjectID, agg.WindowDays, agg.To, payload); err != nil {
		return fmt.Errorf("save project aggregate: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveDeveloperAggregates(ctx context.Context, aggs []aggregate.DeveloperAggregate) error {
	if len(aggs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO developer_aggregates (project_id, author_id, window_days, window_to, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, author_id, window_days, window_to) DO UPDATE SET
			payload = EXCLUDED.payload
	`
	for _, a := range aggs {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode developer aggregate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, a.ProjectID, a.AuthorID, a.WindowDays, a.To, payload); err != nil {
			return fmt.Errorf("save developer aggregate %s: %w", a.AuthorID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) SaveRunSummary(ctx context.Context, startedAt time.Time, payload []byte) error {
	query := `INSERT INTO runs (started_at, payload) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, startedAt, payload); err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLastRunSummary(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get last run summary: %w", err)
	}
	return payload, nil
}
