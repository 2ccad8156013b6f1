package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devpulse/devpulse-go/internal/aggregate"
	"github.com/devpulse/devpulse-go/internal/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements Store on SQLite (for local/development use).
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (and creates) a SQLite database at path.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY,
		path_with_ns TEXT NOT NULL,
		default_branch TEXT NOT NULL DEFAULT '',
		group_path TEXT NOT NULL DEFAULT '',
		last_activity TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS commits (
		project_id INTEGER NOT NULL,
		sha TEXT NOT NULL,
		author_id TEXT NOT NULL DEFAULT '',
		author_email TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		committed_at TIMESTAMP NOT NULL,
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		signed BOOLEAN NOT NULL DEFAULT 0,
		branch TEXT NOT NULL DEFAULT '',
		force_pushed BOOLEAN NOT NULL DEFAULT 0,
		direct_push BOOLEAN NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, sha)
	);

	CREATE TABLE IF NOT EXISTS merge_requests (
		project_id INTEGER NOT NULL,
		mr_id INTEGER PRIMARY KEY,
		mr_iid INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		source_branch TEXT NOT NULL DEFAULT '',
		target_branch TEXT NOT NULL DEFAULT '',
		head_sha TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		merged_at TIMESTAMP,
		closed_at TIMESTAMP,
		ready_at TIMESTAMP,
		first_review_at TIMESTAMP,
		review_times TEXT NOT NULL DEFAULT '[]',
		approvals_required INTEGER NOT NULL DEFAULT 0,
		approvals_given INTEGER NOT NULL DEFAULT 0,
		files_changed INTEGER NOT NULL DEFAULT 0,
		commit_shas TEXT NOT NULL DEFAULT '[]',
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pipelines (
		project_id INTEGER NOT NULL,
		pipeline_id INTEGER PRIMARY KEY,
		sha TEXT NOT NULL DEFAULT '',
		ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		duration_sec REAL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		project_id INTEGER NOT NULL,
		job_id INTEGER PRIMARY KEY,
		pipeline_id INTEGER NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		duration_sec REAL,
		queued_sec REAL,
		retried BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS releases (
		project_id INTEGER NOT NULL,
		tag TEXT NOT NULL,
		sha TEXT NOT NULL DEFAULT '',
		released_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, tag)
	);

	CREATE TABLE IF NOT EXISTS issues (
		project_id INTEGER NOT NULL,
		issue_id INTEGER PRIMARY KEY,
		author_id TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		labels TEXT NOT NULL DEFAULT '[]',
		reopened_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS watermarks (
		project_id INTEGER NOT NULL,
		entity TEXT NOT NULL,
		last_seen_updated_at TIMESTAMP NOT NULL,
		last_run_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, entity)
	);

	CREATE TABLE IF NOT EXISTS facts (
		project_id INTEGER PRIMARY KEY,
		payload TEXT NOT NULL,
		computed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_aggregates (
		project_id INTEGER NOT NULL,
		window_days INTEGER NOT NULL,
		window_to TIMESTAMP NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (project_id, window_days, window_to)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TIMESTAMP NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS developer_aggregates (
		project_id INTEGER NOT NULL,
		author_id TEXT NOT NULL,
		window_days INTEGER NOT NULL,
		window_to TIMESTAMP NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (project_id, author_id, window_days, window_to)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveProject(ctx context.Context, p models.Project) error {
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

func (s *SQLiteStore) SaveCommits(ctx context.Context, commits []models.Commit) error {
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

func (s *SQLiteStore) SaveMergeRequests(ctx context.Context, mrs []models.MergeRequest) error {
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

func (s *SQLiteStore) SavePipelines(ctx context.Context, pipelines []models.Pipeline) error {
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

func (s *SQLiteStore) SaveJobs(ctx context.Context, jobs []models.Job) error {
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

func (s *SQLiteStore) SaveReleases(ctx context.Context, releases []models.Release) error {
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

func (s *SQLiteStore) SaveIssues(ctx context.Context, issues []models.Issue) error {
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

func (s *SQLiteStore) GetProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM projects ORDER BY id`); err != nil {
		return nil, fmt.Errorf("get projects: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, projectID int64, since time.Time) (models.Snapshot, error) {
	var snap models.Snapshot

	err := s.db.GetContext(ctx, &snap.Project, `SELECT * FROM projects WHERE id = ?`, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return snap, ErrNotFound
		}
		return snap, fmt.Errorf("get project: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Commits,
		`SELECT * FROM commits WHERE project_id = ? AND updated_at >= ?`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get commits: %w", err)
	}

	var mrRows []mrRow
	err = s.db.SelectContext(ctx, &mrRows,
		`SELECT * FROM merge_requests WHERE project_id = ? AND updated_at >= ?`, projectID, since)
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
		`SELECT * FROM pipelines WHERE project_id = ? AND updated_at >= ?`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get pipelines: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Jobs,
		`SELECT * FROM jobs WHERE project_id = ? AND updated_at >= ?`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get jobs: %w", err)
	}

	err = s.db.SelectContext(ctx, &snap.Releases,
		`SELECT * FROM releases WHERE project_id = ? AND updated_at >= ?`, projectID, since)
	if err != nil {
		return snap, fmt.Errorf("get releases: %w", err)
	}

	var issueRows []issueRow
	err = s.db.SelectContext(ctx, &issueRows,
		`SELECT * FROM issues WHERE project_id = ? AND updated_at >= ?`, projectID, since)
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

func (s *SQLiteStore) GetWatermark(ctx context.Context, projectID int64, entity models.EntityType) (models.Watermark, error) {
	var wm models.Watermark
	err := s.db.GetContext(ctx, &wm,
		`SELECT * FROM watermarks WHERE project_id = ? AND entity = ?`, projectID, entity)
	if err != nil {
		if err == sql.ErrNoRows {
			return wm, ErrNotFound
		}
		return wm, fmt.Errorf("get watermark: %w", err)
	}
	return wm, nil
}

func (s *SQLiteStore) SetWatermark(ctx context.Context, wm models.Watermark) error {
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

func (s *SQLiteStore) ResetWatermarks(ctx context.Context, projectID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watermarks WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("reset watermarks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveFacts(ctx context.Context, facts models.Facts) error {
	payload, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	query := `
		INSERT INTO facts (project_id, payload, computed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			computed_at = EXCLUDED.computed_at
	`
	if _, err := s.db.ExecContext(ctx, query, facts.ProjectID, string(payload), time.Now().UTC()); err != nil {
		return fmt.Errorf("save facts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetFacts(ctx context.Context, projectID int64) (models.Facts, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, `SELECT payload FROM facts WHERE project_id = ?`, projectID)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.Facts{}, ErrNotFound
		}
		return models.Facts{}, fmt.Errorf("get facts: %w", err)
	}
	var facts models.Facts
	if err := json.Unmarshal([]byte(payload), &facts); err != nil {
		return models.Facts{}, fmt.Errorf("decode facts: %w", err)
	}
	return facts, nil
}

func (s *SQLiteStore) SaveProjectAggregate(ctx context.Context, agg aggregate.ProjectAggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode project aggregate: %w", err)
	}
	query := `
		INSERT INTO project_aggregates (project_id, window_days, window_to, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project_id, window_days, window_to) DO UPDATE SET
			payload = EXCLUDED.payload
	`
	if _, err := s.db.ExecContext(ctx, query, agg.ProjectID, agg.WindowDays, agg.To, string(payload)); err != nil {
		return fmt.Errorf("save project aggregate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveDeveloperAggregates(ctx context.Context, aggs []aggregate.DeveloperAggregate) error {
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
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (project_id, author_id, window_days, window_to) DO UPDATE SET
			payload = EXCLUDED.payload
	`
	for _, a := range aggs {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode developer aggregate: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, a.ProjectID, a.AuthorID, a.WindowDays, a.To, string(payload)); err != nil {
			return fmt.Errorf("save developer aggregate %s: %w", a.AuthorID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, startedAt time.Time, payload []byte) error {
	query := `INSERT INTO runs (started_at, payload) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, startedAt, string(payload)); err != nil {
		return fmt.Errorf("save run summary: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLastRunSummary(ctx context.Context) ([]byte, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get last run summary: %w", err)
	}
	return []byte(payload), nil
}
