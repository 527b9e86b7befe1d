package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "test-project")
	t.Setenv("PORT", "9090")
	t.Setenv("RADAR_FETCH_TIMEOUT", "30s")
	t.Setenv("RADAR_WORKER_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ProjectID != "test-project" {
		t.Errorf("Expected test-project, got %s", cfg.ProjectID)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected 9090, got %s", cfg.Port)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Errorf("Expected 30s fetch timeout, got %s", cfg.FetchTimeout)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.WorkerConcurrency)
	}
	if cfg.RobotsCacheTTL != time.Hour {
		t.Errorf("Expected default 1h robots TTL, got %s", cfg.RobotsCacheTTL)
	}
	if cfg.SchedulerBatchLimit != 20 {
		t.Errorf("Expected default batch limit 20, got %d", cfg.SchedulerBatchLimit)
	}
	if cfg.UserAgent == "" {
		t.Error("Expected a default user agent")
	}
	if cfg.DefaultTenant != "default" {
		t.Errorf("Expected default tenant, got %s", cfg.DefaultTenant)
	}
}

func TestLoad_MissingProjectID(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error when GOOGLE_CLOUD_PROJECT is unset")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "test-project")
	t.Setenv("RADAR_FETCH_TIMEOUT", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for invalid duration")
	}
}

func TestLoad_InvalidWorkerCount(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "test-project")
	t.Setenv("RADAR_WORKER_CONCURRENCY", "-2")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for non-positive worker count")
	}
}
