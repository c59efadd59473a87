// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process exits.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the lottery service.
type Config struct {
	Port        string
	GRPCPort    string
	DatabaseURL string
	RedisURL    string // optional; run events are not published when empty

	RunTimeout time.Duration // RUNNING runs older than this are reaped
	ReaperSpec string        // cron spec, e.g. "@every 1m"

	RateLimitRPS   float64 // run-lottery requests per second per caller
	RateLimitBurst int

	Archive ArchiveConfig
}

// ArchiveConfig points at the S3-compatible bucket completed reports are
// copied to. Archiving is off when Endpoint is empty.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether an archive endpoint is configured.
func (a ArchiveConfig) Enabled() bool { return a.Endpoint != "" }

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	timeout := 2 * time.Minute
	if s := os.Getenv("LOTTERY_RUN_TIMEOUT"); s != "" {
		v, err := time.ParseDuration(s)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("LOTTERY_RUN_TIMEOUT must be a positive duration, got %q", s)
		}
		timeout = v
	}

	rps := 2.0
	if s := os.Getenv("LOTTERY_RATE_LIMIT_RPS"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("LOTTERY_RATE_LIMIT_RPS must be a positive number, got %q", s)
		}
		rps = v
	}

	burst := 4
	if s := os.Getenv("LOTTERY_RATE_LIMIT_BURST"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("LOTTERY_RATE_LIMIT_BURST must be a positive integer, got %q", s)
		}
		burst = v
	}

	useSSL := false
	if s := os.Getenv("ARCHIVE_USE_SSL"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("ARCHIVE_USE_SSL must be a boolean, got %q", s)
		}
		useSSL = v
	}

	archive := ArchiveConfig{
		Endpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
		AccessKey: os.Getenv("ARCHIVE_ACCESS_KEY"),
		SecretKey: os.Getenv("ARCHIVE_SECRET_KEY"),
		Bucket:    getenv("ARCHIVE_BUCKET", "lottery-audit"),
		UseSSL:    useSSL,
	}
	if archive.Enabled() && (archive.AccessKey == "" || archive.SecretKey == "") {
		return nil, fmt.Errorf("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when ARCHIVE_ENDPOINT is set")
	}

	return &Config{
		Port:           getenv("LOTTERY_PORT", "8083"),
		GRPCPort:       getenv("LOTTERY_GRPC_PORT", "9093"),
		DatabaseURL:    dbURL,
		RedisURL:       os.Getenv("REDIS_URL"),
		RunTimeout:     timeout,
		ReaperSpec:     getenv("LOTTERY_REAPER_SPEC", "@every 1m"),
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
		Archive:        archive,
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
