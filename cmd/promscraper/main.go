package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/promtools/promscraper/internal/api"
	"github.com/promtools/promscraper/internal/config"
	"github.com/promtools/promscraper/internal/database"
	"github.com/promtools/promscraper/internal/export"
	"github.com/promtools/promscraper/internal/fetcher"
	"github.com/promtools/promscraper/internal/jobs"
	"github.com/promtools/promscraper/internal/scraper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare database schema", "error", err)
		os.Exit(1)
	}

	pageFetcher := fetcher.New(fetcher.Options{
		Relays:       cfg.Fetcher.Relays,
		Timeout:      cfg.Fetcher.Timeout,
		MinBodyBytes: cfg.Fetcher.MinBodyBytes,
	}, logger)

	scraperService := scraper.NewService(pageFetcher, logger, scraper.Options{
		PageDelay: cfg.Crawler.PageDelay,
		BatchSize: cfg.Crawler.BatchSize,
	})

	// The demo gate lives in Redis so a restart cannot reset it.
	var gate export.UsageGate = export.NopGate{}
	if cfg.Export.DemoMode {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		gate = export.NewRedisGate(redisClient, "promscraper:demo_export_used")
	}

	demoLimit := 0
	if cfg.Export.DemoMode {
		demoLimit = cfg.Export.DemoLimit
	}
	exporter := export.New(scraperService, gate, logger, export.Options{
		BatchSize: cfg.Crawler.BatchSize,
		DemoLimit: demoLimit,
	})

	jobManager := jobs.NewManager(db, scraperService, logger)
	go jobManager.StartWorker(ctx)

	handlers := api.NewHandlers(jobManager, exporter, logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		health := map[string]interface{}{"status": "ok"}
		status := http.StatusOK
		if err := db.Ping(r.Context()); err != nil {
			health["status"] = "error"
			health["message"] = "database unreachable"
			status = http.StatusServiceUnavailable
		}

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", handlers.CreateJob)
		r.Get("/jobs", handlers.ListJobs)
		r.Get("/jobs/{jobID}", handlers.GetJob)
		r.Get("/jobs/{jobID}/products", handlers.GetJobProducts)

		r.Post("/scrape", handlers.Scrape(scraperService))
		r.Post("/export", handlers.ExportProducts)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "addr", server.Addr, "demo_mode", cfg.Export.DemoMode)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
