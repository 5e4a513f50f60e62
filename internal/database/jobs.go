package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ErrJobNotFound is returned when a job id is unknown.
var ErrJobNotFound = errors.New("job not found")

// Job is a persisted scrape request and its progress.
type Job struct {
	ID            string     `json:"id"`
	Mode          string     `json:"mode"`
	ShopURL       string     `json:"shop_url,omitempty"`
	ProductURLs   []string   `json:"product_urls,omitempty"`
	MaxPages      int        `json:"max_pages"`
	Status        string     `json:"status"`
	Message       string     `json:"message,omitempty"`
	ProductsFound int        `json:"products_found"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// CreateJob inserts a new pending job.
func (db *DB) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO scrape_jobs (id, mode, shop_url, product_urls, max_pages, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.Exec(ctx, query,
		job.ID, job.Mode, job.ShopURL, job.ProductURLs, job.MaxPages, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob loads a job by id.
func (db *DB) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT id, mode, shop_url, product_urls, max_pages, status, message,
		       products_found, error, created_at, started_at, completed_at
		FROM scrape_jobs
		WHERE id = $1
	`

	job := &Job{}
	err := db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Mode, &job.ShopURL, &job.ProductURLs, &job.MaxPages,
		&job.Status, &job.Message, &job.ProductsFound, &job.Error,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	query := `
		SELECT id, mode, shop_url, product_urls, max_pages, status, message,
		       products_found, error, created_at, started_at, completed_at
		FROM scrape_jobs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job := &Job{}
		if err := rows.Scan(
			&job.ID, &job.Mode, &job.ShopURL, &job.ProductURLs, &job.MaxPages,
			&job.Status, &job.Message, &job.ProductsFound, &job.Error,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextPendingJob claims the oldest pending job and marks it running.
// Returns nil when no job is waiting.
func (db *DB) NextPendingJob(ctx context.Context) (*Job, error) {
	var job *Job
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		query := `
			SELECT id, mode, shop_url, product_urls, max_pages
			FROM scrape_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`

		claimed := &Job{}
		err := tx.QueryRow(ctx, query).Scan(
			&claimed.ID, &claimed.Mode, &claimed.ShopURL, &claimed.ProductURLs, &claimed.MaxPages)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE scrape_jobs SET status = 'running', started_at = NOW() WHERE id = $1`,
			claimed.ID)
		if err != nil {
			return fmt.Errorf("failed to mark job running: %w", err)
		}

		claimed.Status = JobRunning
		job = claimed
		return nil
	})
	return job, err
}

// CompleteJob marks a job finished. A non-nil jobErr records a failure.
func (db *DB) CompleteJob(ctx context.Context, jobID string, productsFound int, jobErr error) error {
	status := JobCompleted
	errMsg := ""
	if jobErr != nil {
		status = JobFailed
		errMsg = jobErr.Error()
	}

	query := `
		UPDATE scrape_jobs
		SET status = $2, products_found = $3, error = $4, completed_at = NOW()
		WHERE id = $1
	`

	_, err := db.Exec(ctx, query, jobID, status, productsFound, errMsg)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// UpdateJobProgress stores the latest progress message for a job.
func (db *DB) UpdateJobProgress(ctx context.Context, jobID, message string) error {
	_, err := db.Exec(ctx,
		`UPDATE scrape_jobs SET message = $2 WHERE id = $1`, jobID, message)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}
