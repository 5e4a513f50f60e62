package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/promtools/promscraper/internal/models"
	"github.com/promtools/promscraper/internal/ratelimit"
)

var (
	// ErrNoInput means the request carried nothing to scrape.
	ErrNoInput = errors.New("no category URL or product URLs provided")
	// ErrInvalidFilters means the request failed validation.
	ErrInvalidFilters = errors.New("invalid search filters")
)

// Fetcher retrieves the raw HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string) (string, error)
}

// Progress receives human-readable status updates during a scrape.
type Progress func(message string)

// Options tune the crawling behavior of a Service.
type Options struct {
	// PageDelay is the pause between category pages.
	PageDelay time.Duration
	// BatchSize is how many product pages are fetched concurrently.
	BatchSize int
}

// Service scrapes products and categories from the marketplace.
type Service struct {
	fetcher   Fetcher
	logger    *slog.Logger
	validate  *validator.Validate
	limiter   ratelimit.RateLimiter
	batchSize int
}

// NewService creates a scraping service around the given fetcher.
func NewService(fetcher Fetcher, logger *slog.Logger, opts Options) *Service {
	if opts.PageDelay <= 0 {
		opts.PageDelay = 1500 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	return &Service{
		fetcher:   fetcher,
		logger:    logger.With("component", "scraper"),
		validate:  validator.New(),
		limiter:   ratelimit.NewSimpleRateLimiter(opts.PageDelay, opts.PageDelay),
		batchSize: opts.BatchSize,
	}
}

// Search runs a scrape described by filters and reports progress through
// onProgress. onProgress may be nil.
func (s *Service) Search(ctx context.Context, filters models.SearchFilters, onProgress Progress) (*models.ParseResult, error) {
	if onProgress == nil {
		onProgress = func(string) {}
	}

	if err := s.validate.Struct(filters); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilters, err)
	}

	switch filters.Mode {
	case models.ModeProducts:
		urls := make([]string, 0, len(filters.ProductURLs))
		for _, u := range filters.ProductURLs {
			if trimmed := strings.TrimSpace(u); trimmed != "" {
				urls = append(urls, trimmed)
			}
		}
		if len(urls) == 0 {
			return nil, ErrNoInput
		}
		return s.ScrapeProducts(ctx, urls, onProgress), nil

	case models.ModeCategory:
		shopURL := strings.TrimSpace(filters.ShopURL)
		if shopURL == "" {
			return nil, ErrNoInput
		}
		maxPages := filters.MaxPages
		if maxPages < 1 {
			maxPages = 1
		}
		return s.CrawlCategory(ctx, shopURL, maxPages, onProgress)
	}

	return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidFilters, filters.Mode)
}
