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

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/ezalhq/radar/internal/config"
	"github.com/ezalhq/radar/internal/differ"
	"github.com/ezalhq/radar/internal/engine"
	"github.com/ezalhq/radar/internal/fetcher"
	"github.com/ezalhq/radar/internal/parser"
	"github.com/ezalhq/radar/internal/profile"
	"github.com/ezalhq/radar/internal/registry"
	"github.com/ezalhq/radar/internal/scheduler"
	"github.com/ezalhq/radar/internal/storage"
)

type Server struct {
	engine        *engine.Engine
	worker        *scheduler.Worker
	defaultTenant string
}

func main() {
	// .env is for local development; absence is normal in deployment.
	_ = godotenv.Load()

	slog.Info("Starting Radar discovery server...")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, cfg.ProjectID)
	if err != nil {
		slog.Error("Critical error initializing Firestore client", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	profiles, err := profile.LoadRegistry()
	if err != nil {
		slog.Error("Critical error loading parser profiles", "error", err)
		os.Exit(1)
	}

	reg := registry.New(store, registry.DefaultPlanLimits(), profiles)
	diff := differ.New(store, store, differ.DefaultSeverityTable())
	proc := engine.NewPipelineProcessor(parser.NewEngine(profiles), diff)
	f := fetcher.New(fetcher.Options{
		UserAgent:     cfg.UserAgent,
		FetchTimeout:  cfg.FetchTimeout,
		RobotsTimeout: cfg.RobotsTimeout,
		RobotsTTL:     cfg.RobotsCacheTTL,
		PerOriginRPS:  cfg.PerOriginRPS,
	})
	disc := fetcher.NewDiscoverer(f, store, store, reg, proc)
	sched := scheduler.New(reg, store, cfg.SchedulerBatchLimit)
	worker := scheduler.NewWorker(sched, disc, cfg.WorkerConcurrency)

	srv := &Server{
		engine:        engine.New(reg, disc, sched, diff),
		worker:        worker,
		defaultTenant: cfg.DefaultTenant,
	}

	// Periodic sweep queues due sources; the worker loop below drains them.
	c := cron.New()
	if _, err := c.AddFunc(cfg.SweepSchedule, func() {
		res := srv.engine.RunScheduler(ctx, cfg.DefaultTenant)
		if !res.Success {
			slog.Error("Scheduled sweep failed", "error", res.Error)
		}
	}); err != nil {
		slog.Error("Critical error registering sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	go worker.Run(ctx, cfg.DefaultTenant, 30*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/run-scheduler", srv.RunSchedulerHandler)
	mux.HandleFunc("/discover", srv.DiscoverHandler)
	mux.HandleFunc("/insights", srv.InsightsHandler)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, shutting down gracefully...", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening on port", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

func (s *Server) tenant(r *http.Request) string {
	if t := r.URL.Query().Get("tenant"); t != "" {
		return t
	}
	return s.defaultTenant
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// RunSchedulerHandler sweeps due sources into queued jobs, then drains the
// queue asynchronously so the HTTP response is not held open for fetches.
func (s *Server) RunSchedulerHandler(w http.ResponseWriter, r *http.Request) {
	tenant := s.tenant(r)
	res := s.engine.RunScheduler(r.Context(), tenant)
	if res.Success && res.Queued > 0 {
		go func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("Panic draining job queue", "panic", p)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
			defer cancel()
			if _, err := s.worker.DrainOnce(ctx, tenant); err != nil {
				slog.Error("Failed to drain job queue", "tenant", tenant, "error", err)
			}
		}()
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

// DiscoverHandler runs one immediate discovery for the source named in the
// query string, bypassing the scheduler.
func (s *Server) DiscoverHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source")
	if sourceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source query parameter is required"})
		return
	}
	res := s.engine.DiscoverNow(r.Context(), s.tenant(r), sourceID)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

// InsightsHandler lists recent insights, optionally filtered by competitor.
func (s *Server) InsightsHandler(w http.ResponseWriter, r *http.Request) {
	res := s.engine.GetInsights(r.Context(), s.tenant(r), differ.InsightFilter{
		CompetitorID: r.URL.Query().Get("competitor"),
		Limit:        100,
	})
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}
