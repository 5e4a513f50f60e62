package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/promtools/promscraper/internal/models"
)

// Format selects the output encoding of an export.
type Format string

const (
	FormatCSV Format = "csv"
	FormatXML Format = "xml"
)

var (
	// ErrNothingToExport is returned for an empty product selection.
	ErrNothingToExport = errors.New("no products to export")
	// ErrUnknownFormat is returned for an unsupported format.
	ErrUnknownFormat = errors.New("unknown export format")
)

// ProductScraper re-fetches a single product page for hydration.
type ProductScraper interface {
	ScrapeProduct(ctx context.Context, productURL string) *models.Product
}

// Progress receives human-readable status updates during an export.
type Progress func(message string)

// Options tune an Exporter.
type Options struct {
	// BatchSize is how many products hydrate concurrently.
	BatchSize int
	// DemoLimit truncates the selection to its first N items when > 0.
	DemoLimit int
	// ShopName appears in the YML shop header.
	ShopName string
	// ShopURL appears in the YML shop header.
	ShopURL string
	// Now supplies the catalog timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Exporter serializes scraped products into marketplace import files,
// hydrating list-view records on the way out.
type Exporter struct {
	scraper   ProductScraper
	gate      UsageGate
	logger    *slog.Logger
	batchSize int
	demoLimit int
	shopName  string
	shopURL   string
	now       func() time.Time
}

// New creates an Exporter. gate may be a NopGate for unrestricted use.
func New(scraper ProductScraper, gate UsageGate, logger *slog.Logger, opts Options) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.ShopName == "" {
		opts.ShopName = "Exported Data"
	}
	if opts.ShopURL == "" {
		opts.ShopURL = "https://prom.ua"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Exporter{
		scraper:   scraper,
		gate:      gate,
		logger:    logger.With("component", "export"),
		batchSize: opts.BatchSize,
		demoLimit: opts.DemoLimit,
		shopName:  opts.ShopName,
		shopURL:   opts.ShopURL,
		now:       opts.Now,
	}
}

// Export hydrates the selection and serializes it in the given format.
// The gate is consulted before any work happens. onProgress may be nil.
func (e *Exporter) Export(ctx context.Context, products []*models.Product, format Format, onProgress Progress) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	if len(products) == 0 {
		return nil, ErrNothingToExport
	}

	if err := e.gate.TryConsume(ctx); err != nil {
		return nil, err
	}

	if e.demoLimit > 0 && len(products) > e.demoLimit {
		e.logger.Info("demo limit applied", "selected", len(products), "kept", e.demoLimit)
		products = products[:e.demoLimit]
	}

	e.hydrate(ctx, products, onProgress)

	switch format {
	case FormatCSV:
		return e.writeCSV(products), nil
	case FormatXML:
		return e.writeYML(products), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// hydrate re-scrapes every record that only carries list-view data, in
// concurrent batches. A failed hydration keeps the partial record but
// marks it loaded so it is never retried.
func (e *Exporter) hydrate(ctx context.Context, products []*models.Product, onProgress Progress) {
	var pending []*models.Product
	for _, p := range products {
		if !p.DetailsLoaded {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		return
	}

	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(p *models.Product) {
				defer wg.Done()
				if full := e.scraper.ScrapeProduct(ctx, p.Link); full != nil {
					p.Merge(full)
				} else {
					e.logger.Warn("hydration failed, keeping list-view data", "link", p.Link)
				}
				p.DetailsLoaded = true
			}(pending[i])
		}
		wg.Wait()

		onProgress(fmt.Sprintf("Loaded details for %d of %d products", end, len(pending)))
	}
}
