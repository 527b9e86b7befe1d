package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ProjectID           string
	Port                string
	UserAgent           string
	FetchTimeout        time.Duration
	RobotsTimeout       time.Duration
	RobotsCacheTTL      time.Duration
	PerOriginRPS        float64
	SchedulerBatchLimit int
	WorkerConcurrency   int
	SweepSchedule       string
	DefaultTenant       string
}

func Load() (*Config, error) {
	projectID := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required but not set")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		slog.Info("Defaulting to port", "port", port)
	}

	userAgent := os.Getenv("RADAR_USER_AGENT")
	if userAgent == "" {
		userAgent = "EzalRadarBot/1.0 (+https://ezalhq.com/radar)"
	}

	fetchTimeout, err := durationEnv("RADAR_FETCH_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	robotsTimeout, err := durationEnv("RADAR_ROBOTS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	robotsCacheTTL, err := durationEnv("RADAR_ROBOTS_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, err
	}

	perOriginRPS := 1.0
	if v := os.Getenv("RADAR_PER_ORIGIN_RPS"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid RADAR_PER_ORIGIN_RPS %q", v)
		}
		perOriginRPS = parsed
	}

	batchLimit := 20
	if v := os.Getenv("RADAR_SCHEDULER_BATCH_LIMIT"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid RADAR_SCHEDULER_BATCH_LIMIT %q", v)
		}
		batchLimit = parsed
	}

	workers := 5
	if v := os.Getenv("RADAR_WORKER_CONCURRENCY"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid RADAR_WORKER_CONCURRENCY %q", v)
		}
		workers = parsed
	}

	sweepSchedule := os.Getenv("RADAR_SWEEP_SCHEDULE")
	if sweepSchedule == "" {
		sweepSchedule = "*/5 * * * *"
	}

	defaultTenant := os.Getenv("RADAR_DEFAULT_TENANT")
	if defaultTenant == "" {
		defaultTenant = "default"
	}

	return &Config{
		ProjectID:           projectID,
		Port:                port,
		UserAgent:           userAgent,
		FetchTimeout:        fetchTimeout,
		RobotsTimeout:       robotsTimeout,
		RobotsCacheTTL:      robotsCacheTTL,
		PerOriginRPS:        perOriginRPS,
		SchedulerBatchLimit: batchLimit,
		WorkerConcurrency:   workers,
		SweepSchedule:       sweepSchedule,
		DefaultTenant:       defaultTenant,
	}, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
