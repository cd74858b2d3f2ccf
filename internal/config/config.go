// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/capdeploy/internal/ledger"
	"github.com/ashureev/capdeploy/internal/plan"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level
	Planner     PlannerConfig
	Lifecycle   LifecycleConfig
	Events      EventsConfig
}

// PlannerConfig controls how plans are built.
type PlannerConfig struct {
	CatalogPath    string
	MaxAllocations int
	Weights        []decimal.Decimal
	RankTimeout    time.Duration
	SeedBalances   ledger.Balances
}

// LifecycleConfig controls how long proposals may wait for confirmation.
type LifecycleConfig struct {
	PlanTTL       time.Duration
	SweepInterval time.Duration
}

// EventsConfig controls where lifecycle events are published.
type EventsConfig struct {
	NATSURL        string
	SubjectPrefix  string
	MetricsEnabled bool
}

const (
	defaultSeedBalances = "USDC=1000000,USDT=250000,ETH=100,SOL=2500"
	defaultWeights      = "50,30,20"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	seed, err := ledger.ParseBalances(getEnv("SEED_BALANCES", defaultSeedBalances))
	if err != nil {
		return nil, fmt.Errorf("invalid SEED_BALANCES: %w", err)
	}
	weights, err := ParseWeights(getEnv("WEIGHT_SCHEDULE", defaultWeights))
	if err != nil {
		return nil, fmt.Errorf("invalid WEIGHT_SCHEDULE: %w", err)
	}
	level, err := ParseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/capdeploy.db"),
		LogLevel:    level,
		Planner: PlannerConfig{
			CatalogPath:    getEnv("CATALOG_PATH", "./configs/catalog.yaml"),
			MaxAllocations: getEnvInt("MAX_ALLOCATIONS", plan.DefaultMaxAllocations),
			Weights:        weights,
			RankTimeout:    getEnvDuration("RANK_TIMEOUT", 2*time.Second),
			SeedBalances:   seed,
		},
		Lifecycle: LifecycleConfig{
			PlanTTL:       getEnvDuration("PLAN_TTL", 15*time.Minute),
			SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		},
		Events: EventsConfig{
			NATSURL:        getEnv("NATS_URL", ""),
			SubjectPrefix:  getEnv("NATS_SUBJECT_PREFIX", "capdeploy"),
			MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Planner.CatalogPath == "" {
		return fmt.Errorf("CATALOG_PATH cannot be empty")
	}
	if c.Planner.MaxAllocations < 1 || c.Planner.MaxAllocations > plan.MaxAllocationsLimit {
		return fmt.Errorf("MAX_ALLOCATIONS must be between 1 and %d", plan.MaxAllocationsLimit)
	}
	if len(c.Planner.Weights) == 0 {
		return fmt.Errorf("WEIGHT_SCHEDULE cannot be empty")
	}
	if c.Planner.RankTimeout <= 0 {
		return fmt.Errorf("RANK_TIMEOUT must be > 0")
	}
	if c.Lifecycle.PlanTTL <= 0 {
		return fmt.Errorf("PLAN_TTL must be > 0")
	}
	if c.Lifecycle.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		return fmt.Errorf("NATS_SUBJECT_PREFIX cannot be empty when NATS_URL is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ParseWeights parses a descending weight schedule such as "50,30,20".
func ParseWeights(s string) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		w, err := decimal.NewFromString(part)
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", part, err)
		}
		if !w.IsPositive() {
			return nil, fmt.Errorf("weight %q must be positive", part)
		}
		if n := len(out); n > 0 && w.GreaterThan(out[n-1]) {
			return nil, fmt.Errorf("weights must not increase: %s after %s", w, out[n-1])
		}
		out = append(out, w)
	}
	return out, nil
}

// ParseLogLevel maps debug, info, warn and error onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
