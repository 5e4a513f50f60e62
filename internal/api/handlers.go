package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/promtools/promscraper/internal/database"
	"github.com/promtools/promscraper/internal/export"
	"github.com/promtools/promscraper/internal/jobs"
	"github.com/promtools/promscraper/internal/models"
	"github.com/promtools/promscraper/internal/scraper"
)

type Handlers struct {
	jobs     *jobs.Manager
	exporter *export.Exporter
	logger   *slog.Logger
	validate *validator.Validate
}

func NewHandlers(jobs *jobs.Manager, exporter *export.Exporter, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:     jobs,
		exporter: exporter,
		logger:   logger,
		validate: validator.New(),
	}
}

// CreateJobRequest describes a new scrape request.
type CreateJobRequest struct {
	Mode        string   `json:"mode"`
	ShopURL     string   `json:"shop_url"`
	ProductURLs []string `json:"product_urls"`
	MaxPages    int      `json:"max_pages"`
}

// CreateJob accepts a scrape request and queues it for the worker.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	filters := models.SearchFilters{
		Mode:        req.Mode,
		ShopURL:     req.ShopURL,
		ProductURLs: req.ProductURLs,
		MaxPages:    req.MaxPages,
	}
	if err := h.validate.Struct(filters); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), filters)
	if err != nil {
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, job)
}

// GetJob returns a job's current state.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, database.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get job", "id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs returns recent jobs, newest first.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobList, err := h.jobs.ListJobs(r.Context(), 20)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobList == nil {
		jobList = []*database.Job{}
	}

	h.respondJSON(w, http.StatusOK, jobList)
}

// GetJobProducts returns everything a job has scraped so far.
func (h *Handlers) GetJobProducts(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	products, err := h.jobs.JobProducts(r.Context(), jobID)
	if errors.Is(err, database.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get products", "id", jobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get products")
		return
	}
	if products == nil {
		products = []*models.Product{}
	}

	h.respondJSON(w, http.StatusOK, products)
}

// ExportRequest selects what to export and how.
type ExportRequest struct {
	JobID      string   `json:"job_id"`
	ProductIDs []string `json:"product_ids"`
	Format     string   `json:"format"`
}

// ExportProducts serializes a job's products as a download. When
// ProductIDs is non-empty, only the selected products go out.
func (h *Handlers) ExportProducts(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JobID == "" {
		h.respondError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	format := export.Format(req.Format)
	if format != export.FormatCSV && format != export.FormatXML {
		h.respondError(w, http.StatusBadRequest, "format must be csv or xml")
		return
	}

	products, err := h.jobs.JobProducts(r.Context(), req.JobID)
	if errors.Is(err, database.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load products for export", "id", req.JobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load products")
		return
	}

	if len(req.ProductIDs) > 0 {
		wanted := make(map[string]bool, len(req.ProductIDs))
		for _, id := range req.ProductIDs {
			wanted[id] = true
		}
		selected := products[:0]
		for _, p := range products {
			if wanted[p.ID] {
				selected = append(selected, p)
			}
		}
		products = selected
	}

	data, err := h.exporter.Export(r.Context(), products, format, nil)
	switch {
	case errors.Is(err, export.ErrExportNotAllowed):
		h.respondError(w, http.StatusForbidden, "demo export already used")
		return
	case errors.Is(err, export.ErrNothingToExport):
		h.respondError(w, http.StatusNotFound, "nothing found to export")
		return
	case err != nil:
		h.logger.Error("export failed", "id", req.JobID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "export failed")
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == export.FormatXML {
		contentType = "application/xml; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=prom_export_%s.%s", req.JobID, format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ScrapeRequest runs a synchronous one-off scrape without touching the
// job queue.
type ScrapeRequest struct {
	Mode        string   `json:"mode"`
	ShopURL     string   `json:"shop_url"`
	ProductURLs []string `json:"product_urls"`
	MaxPages    int      `json:"max_pages"`
}

// Scrape performs a blocking scrape and returns the products directly.
func (h *Handlers) Scrape(svc *scraper.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		result, err := svc.Search(r.Context(), models.SearchFilters{
			Mode:        req.Mode,
			ShopURL:     req.ShopURL,
			ProductURLs: req.ProductURLs,
			MaxPages:    req.MaxPages,
		}, nil)
		switch {
		case errors.Is(err, scraper.ErrNoInput), errors.Is(err, scraper.ErrInvalidFilters):
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			h.logger.Error("scrape failed", "error", err)
			h.respondError(w, http.StatusBadGateway, "failed to retrieve pages")
			return
		}

		h.respondJSON(w, http.StatusOK, result)
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
