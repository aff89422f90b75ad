package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const (
	jobColumns = `id::text, type, status, target_url, created_at, started_at, completed_at,
	products_processed, products_updated, error_message, metadata`

	insertJobSQL = `
INSERT INTO crawl_jobs (id, type, status, target_url, created_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6)`

	selectJobForUpdateSQL = `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1 FOR UPDATE`
	selectJobSQL          = `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE id = $1`
	selectRunningJobSQL   = `SELECT ` + jobColumns + ` FROM crawl_jobs WHERE status = 'running' LIMIT 1`
	selectOtherRunningSQL = `SELECT id::text FROM crawl_jobs WHERE status = 'running' AND id <> $1 LIMIT 1`
	selectRecentJobsSQL   = `SELECT ` + jobColumns + ` FROM crawl_jobs ORDER BY created_at DESC LIMIT $1`

	updateJobSQL = `
UPDATE crawl_jobs SET
	status = $2,
	started_at = $3,
	completed_at = $4,
	products_processed = $5,
	products_updated = $6,
	error_message = $7
WHERE id = $1`

	uniqueViolation = "23505"
)

// JobStore persists crawl jobs in Postgres. The partial unique index on
// running jobs backs up the single-running rule across processes.
type JobStore struct {
	db    DB
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewJobStore constructs a store from an existing pool or pgxmock.
func NewJobStore(db DB, ids crawler.IDGenerator, clock crawler.Clock) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{db: db, ids: ids, clock: clock}, nil
}

// CreateJob inserts a pending job.
func (s *JobStore) CreateJob(
	ctx context.Context,
	jobType crawler.JobType,
	targetURL string,
	metadata map[string]any,
) (crawler.Job, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("new job id: %w", err)
	}
	meta := metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("marshal job metadata: %w", err)
	}
	job := crawler.Job{
		ID:        id,
		Type:      jobType,
		Status:    crawler.JobStatusPending,
		TargetURL: targetURL,
		CreatedAt: s.clock.Now(),
		Metadata:  metadata,
	}
	if _, err := s.db.Exec(ctx, insertJobSQL,
		job.ID, string(job.Type), string(job.Status), job.TargetURL, job.CreatedAt, metaJSON,
	); err != nil {
		return crawler.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// UpdateJob applies update under a row lock.
func (s *JobStore) UpdateJob(ctx context.Context, id string, update crawler.JobUpdate) (crawler.Job, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("begin job update: %w", err)
	}
	defer rollback(ctx, tx)

	job, err := scanJob(tx.QueryRow(ctx, selectJobForUpdateSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("lock job %s: %w", id, err)
	}

	if update.Status != nil && *update.Status == crawler.JobStatusRunning && job.Status != crawler.JobStatusRunning {
		var otherID string
		switch err := tx.QueryRow(ctx, selectOtherRunningSQL, id).Scan(&otherID); {
		case err == nil:
			return crawler.Job{}, &crawler.AlreadyRunningError{JobID: otherID}
		case !errors.Is(err, pgx.ErrNoRows):
			return crawler.Job{}, fmt.Errorf("check running jobs: %w", err)
		}
	}

	next, err := job.Apply(update, s.clock.Now())
	if err != nil {
		return crawler.Job{}, err
	}
	if _, err := tx.Exec(ctx, updateJobSQL,
		next.ID,
		string(next.Status),
		next.StartedAt,
		next.CompletedAt,
		next.ProductsProcessed,
		next.ProductsUpdated,
		next.ErrorMessage,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return crawler.Job{}, fmt.Errorf("update job %s: %w", id, crawler.ErrCrawlInProgress)
		}
		return crawler.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.Job{}, fmt.Errorf("commit job update %s: %w", id, err)
	}
	return next, nil
}

// GetRunningJob returns the running job, or nil when none is running.
func (s *JobStore) GetRunningJob(ctx context.Context) (*crawler.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, selectRunningJobSQL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get running job: %w", err)
	}
	return &job, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id string) (crawler.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, selectJobSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// RecentJobs returns up to limit jobs, newest first.
func (s *JobStore) RecentJobs(ctx context.Context, limit int) ([]crawler.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, selectRecentJobsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []crawler.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job      crawler.Job
		jobType  string
		status   string
		metadata []byte
	)
	if err := row.Scan(
		&job.ID,
		&jobType,
		&status,
		&job.TargetURL,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ProductsProcessed,
		&job.ProductsUpdated,
		&job.ErrorMessage,
		&metadata,
	); err != nil {
		return crawler.Job{}, err
	}
	job.Type = crawler.JobType(jobType)
	job.Status = crawler.JobStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return crawler.Job{}, fmt.Errorf("decode job metadata: %w", err)
		}
		if len(job.Metadata) == 0 {
			job.Metadata = nil
		}
	}
	return job, nil
}

var _ crawler.JobStore = (*JobStore)(nil)
