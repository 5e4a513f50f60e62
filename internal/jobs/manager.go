package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promtools/promscraper/internal/database"
	"github.com/promtools/promscraper/internal/models"
	"github.com/promtools/promscraper/internal/scraper"
)

// Manager persists scrape requests and works through them in the
// background, one at a time.
type Manager struct {
	db       *database.DB
	scraper  *scraper.Service
	logger   *slog.Logger
	interval time.Duration
}

// NewManager creates a job manager.
func NewManager(db *database.DB, svc *scraper.Service, logger *slog.Logger) *Manager {
	return &Manager{
		db:       db,
		scraper:  svc,
		logger:   logger.With("component", "jobs"),
		interval: 2 * time.Second,
	}
}

// CreateJob validates and persists a new pending scrape job.
func (m *Manager) CreateJob(ctx context.Context, filters models.SearchFilters) (*database.Job, error) {
	job := &database.Job{
		ID:          uuid.New().String(),
		Mode:        filters.Mode,
		ShopURL:     filters.ShopURL,
		ProductURLs: filters.ProductURLs,
		MaxPages:    filters.MaxPages,
		Status:      database.JobPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.db.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "mode", job.Mode)
	return job, nil
}

// GetJob loads a job by id.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*database.Job, error) {
	return m.db.GetJob(ctx, jobID)
}

// ListJobs returns the most recent jobs.
func (m *Manager) ListJobs(ctx context.Context, limit int) ([]*database.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	return m.db.ListJobs(ctx, limit)
}

// JobProducts loads the products a job has collected so far.
func (m *Manager) JobProducts(ctx context.Context, jobID string) ([]*models.Product, error) {
	if _, err := m.db.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return m.db.GetJobProducts(ctx, jobID)
}

// StartWorker polls for pending jobs until ctx is cancelled.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case <-ticker.C:
			m.processNextJob(ctx)
		}
	}
}

// processNextJob claims and runs the oldest pending job, if any.
func (m *Manager) processNextJob(ctx context.Context) {
	job, err := m.db.NextPendingJob(ctx)
	if err != nil {
		m.logger.Error("failed to claim job", "error", err)
		return
	}
	if job == nil {
		return
	}

	m.logger.Info("processing job", "id", job.ID, "mode", job.Mode)

	found, err := m.runJob(ctx, job)
	if err != nil {
		m.logger.Error("job failed", "id", job.ID, "error", err)
	} else {
		m.logger.Info("job completed", "id", job.ID, "products", found)
	}

	if dbErr := m.db.CompleteJob(ctx, job.ID, found, err); dbErr != nil {
		m.logger.Error("failed to finalize job", "id", job.ID, "error", dbErr)
	}
}

func (m *Manager) runJob(ctx context.Context, job *database.Job) (int, error) {
	filters := models.SearchFilters{
		Mode:        job.Mode,
		ShopURL:     job.ShopURL,
		ProductURLs: job.ProductURLs,
		MaxPages:    job.MaxPages,
	}

	onProgress := func(message string) {
		if err := m.db.UpdateJobProgress(ctx, job.ID, message); err != nil {
			m.logger.Warn("failed to record progress", "id", job.ID, "error", err)
		}
	}

	result, err := m.scraper.Search(ctx, filters, onProgress)
	if err != nil {
		return 0, err
	}

	if err := m.db.SaveProducts(ctx, job.ID, result.Products); err != nil {
		return 0, err
	}

	return len(result.Products), nil
}
