package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/promtools/promscraper/internal/config"
	"github.com/promtools/promscraper/internal/export"
	"github.com/promtools/promscraper/internal/fetcher"
	"github.com/promtools/promscraper/internal/models"
	"github.com/promtools/promscraper/internal/scraper"
	"github.com/promtools/promscraper/internal/storage"
)

func main() {
	var (
		mode     = flag.String("mode", "category", "Mode: category or products")
		shopURL  = flag.String("url", "", "Category or shop URL (for category mode)")
		products = flag.String("products", "", "Comma-separated product URLs (for products mode)")
		maxPages = flag.Int("pages", 0, "Maximum category pages to crawl (default CRAWLER_MAX_PAGES)")
		format   = flag.String("format", "csv", "Output format: csv or xml")
		output   = flag.String("out", "", "Output file (default prom_export_<date>.<format>)")
		snapshot = flag.String("snapshot", "", "JSON snapshot file to merge results into and export from")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *maxPages < 1 {
		*maxPages = cfg.Crawler.MaxPages
	}

	filters := models.SearchFilters{
		Mode:     *mode,
		ShopURL:  *shopURL,
		MaxPages: *maxPages,
	}
	if *products != "" {
		for _, u := range strings.Split(*products, ",") {
			if trimmed := strings.TrimSpace(u); trimmed != "" {
				filters.ProductURLs = append(filters.ProductURLs, trimmed)
			}
		}
	}

	outFormat := export.Format(*format)
	if outFormat != export.FormatCSV && outFormat != export.FormatXML {
		fmt.Fprintf(os.Stderr, "unknown format %q, use csv or xml\n", *format)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	pageFetcher := fetcher.New(fetcher.Options{
		Relays:       cfg.Fetcher.Relays,
		Timeout:      cfg.Fetcher.Timeout,
		MinBodyBytes: cfg.Fetcher.MinBodyBytes,
	}, logger)

	svc := scraper.NewService(pageFetcher, logger, scraper.Options{
		PageDelay: cfg.Crawler.PageDelay,
		BatchSize: cfg.Crawler.BatchSize,
	})

	onProgress := func(message string) {
		logger.Info(message)
	}

	result, err := svc.Search(ctx, filters, onProgress)
	if err != nil {
		logger.Error("scrape failed", "error", err)
		os.Exit(1)
	}
	logger.Info("scrape finished", "products", len(result.Products))

	selection := result.Products
	if *snapshot != "" {
		store, err := storage.Open(*snapshot)
		if err != nil {
			logger.Error("failed to open snapshot", "file", *snapshot, "error", err)
			os.Exit(1)
		}
		if err := store.Merge(result.Products); err != nil {
			logger.Error("failed to save snapshot", "file", *snapshot, "error", err)
			os.Exit(1)
		}
		selection = store.Products()
		logger.Info("snapshot updated", "file", *snapshot, "total", store.Len())
	}
	if len(selection) == 0 {
		logger.Warn("nothing found")
		os.Exit(0)
	}

	exporter := export.New(svc, export.NopGate{}, logger, export.Options{
		BatchSize: cfg.Crawler.BatchSize,
	})

	data, err := exporter.Export(ctx, selection, outFormat, onProgress)
	if err != nil {
		logger.Error("export failed", "error", err)
		os.Exit(1)
	}

	outPath := *output
	if outPath == "" {
		outPath = fmt.Sprintf("prom_export_%s.%s", time.Now().Format("2006-01-02"), outFormat)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		logger.Error("failed to write output", "file", outPath, "error", err)
		os.Exit(1)
	}

	logger.Info("export written", "file", outPath, "bytes", len(data))
}
