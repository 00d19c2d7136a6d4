// Package config loads the watcher configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults tuned against the target site; see the matching env var names.
const (
	defaultBaseURL   = "https://www.bazaraki.com"
	defaultSearchURL = "https://www.bazaraki.com/car-motorbikes-boats-and-parts/cars-trucks-and-vans/"

	defaultDelayMinSeconds = 2
	defaultDelayMaxSeconds = 5

	// Stop scanning after this many consecutive unchanged Basic ads.
	defaultMaxConsecutiveUnchanged = 10
	// Hard pagination ceiling (20 pages * ~60 ads = ~1200 ads).
	defaultMaxPages = 20

	defaultFollowFailureThreshold = 5
	defaultRescanMaxPages         = 100

	defaultCycleSchedule  = "@every 10m"
	defaultSweepSchedule  = "@every 1h"
	defaultRescanSchedule = "@daily"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Config holds all runtime settings. Read once at process start.
type Config struct {
	BaseURL   string
	SearchURL string

	DelayMin time.Duration
	DelayMax time.Duration

	MaxConsecutiveUnchanged int
	MaxPages                int
	FollowFailureThreshold  int
	RescanMaxPages          int

	UserAgents []string

	// PRICE_CHANGED is always persisted; whether it also notifies is a toggle.
	NotifyPriceChanges bool

	DatabasePath string
	WebhookURL   string
	Port         string

	CycleSchedule  string
	SweepSchedule  string
	RescanSchedule string

	HTTPTimeout time.Duration
}

// Load reads configuration from a .env file (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:                 getEnv("BASE_URL", defaultBaseURL),
		SearchURL:               getEnv("SEARCH_URL", defaultSearchURL),
		DelayMin:                time.Duration(getIntEnv("REQUEST_DELAY_MIN", defaultDelayMinSeconds)) * time.Second,
		DelayMax:                time.Duration(getIntEnv("REQUEST_DELAY_MAX", defaultDelayMaxSeconds)) * time.Second,
		MaxConsecutiveUnchanged: getIntEnv("MAX_CONSECUTIVE_UNCHANGED", defaultMaxConsecutiveUnchanged),
		MaxPages:                getIntEnv("MAX_PAGES_LIMIT", defaultMaxPages),
		FollowFailureThreshold:  getIntEnv("FOLLOW_FAILURE_THRESHOLD", defaultFollowFailureThreshold),
		RescanMaxPages:          getIntEnv("RESCAN_MAX_PAGES", defaultRescanMaxPages),
		UserAgents:              getSliceEnv("USER_AGENTS", defaultUserAgents),
		NotifyPriceChanges:      getBoolEnv("NOTIFY_PRICE_CHANGES", false),
		DatabasePath:            getEnv("DATABASE_PATH", "watcher.db"),
		WebhookURL:              getEnv("WEBHOOK_URL", ""),
		Port:                    getEnv("PORT", "8080"),
		CycleSchedule:           getEnv("CYCLE_SCHEDULE", defaultCycleSchedule),
		SweepSchedule:           getEnv("SWEEP_SCHEDULE", defaultSweepSchedule),
		RescanSchedule:          getEnv("RESCAN_SCHEDULE", defaultRescanSchedule),
		HTTPTimeout:             time.Duration(getIntEnv("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" || c.SearchURL == "" {
		return fmt.Errorf("BASE_URL and SEARCH_URL must be set")
	}
	if !strings.HasPrefix(c.SearchURL, c.BaseURL) {
		return fmt.Errorf("SEARCH_URL %q must live under BASE_URL %q", c.SearchURL, c.BaseURL)
	}
	if c.DelayMin <= 0 || c.DelayMax < c.DelayMin {
		return fmt.Errorf("request delay range %v..%v is not sane", c.DelayMin, c.DelayMax)
	}
	if c.MaxConsecutiveUnchanged <= 0 {
		return fmt.Errorf("MAX_CONSECUTIVE_UNCHANGED must be positive, got %d", c.MaxConsecutiveUnchanged)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("MAX_PAGES_LIMIT must be positive, got %d", c.MaxPages)
	}
	if c.FollowFailureThreshold <= 0 {
		return fmt.Errorf("FOLLOW_FAILURE_THRESHOLD must be positive, got %d", c.FollowFailureThreshold)
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("at least one user agent is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH must be set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getSliceEnv(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
