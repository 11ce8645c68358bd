package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the portal's runtime configuration.
type Config struct {
	Addr     string
	GRPCAddr string

	BackendURL     string
	BackendTimeout time.Duration
	BackendRPS     float64
	ServiceToken   string

	AuthSecret          string
	RequireSignedTokens bool
	PGDSN               string
	RedisURL            string

	RefreshSchedule string
	RatePerSec      float64
	RateBurst       int
	PageSize        int
	CORSOrigins     []string
	TrustedProxies  []string
}

// Load reads an optional .env file and then the PORTAL_* environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:            getEnv("PORTAL_ADDR", ":8080"),
		GRPCAddr:        getEnv("PORTAL_GRPC_ADDR", ":9090"),
		BackendURL:      strings.TrimRight(getEnv("PORTAL_BACKEND_URL", "http://localhost:8081"), "/"),
		BackendTimeout:  getEnvDuration("PORTAL_BACKEND_TIMEOUT", 15*time.Second),
		BackendRPS:      getEnvFloat("PORTAL_BACKEND_RPS", 20),
		ServiceToken:    getEnv("PORTAL_SERVICE_TOKEN", ""),
		AuthSecret:      getEnv("PORTAL_AUTH_SECRET", ""),
		PGDSN:           getEnv("PORTAL_PG_DSN", ""),
		RedisURL:        getEnv("PORTAL_REDIS_URL", ""),
		RefreshSchedule: getEnv("PORTAL_REFRESH_SCHEDULE", "@every 5m"),
		RatePerSec:      getEnvFloat("PORTAL_RATE_PER_SEC", 10),
		RateBurst:       getEnvInt("PORTAL_RATE_BURST", 20),
		PageSize:        getEnvInt("PORTAL_PAGE_SIZE", 50),
		CORSOrigins:     getEnvList("PORTAL_CORS_ORIGINS"),
		TrustedProxies:  getEnvList("PORTAL_TRUSTED_PROXIES"),
	}
	cfg.RequireSignedTokens = getEnvBool("PORTAL_REQUIRE_SIGNED_TOKENS", false)
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.BackendURL == "" {
		return errors.New("config: PORTAL_BACKEND_URL is required")
	}
	if c.RequireSignedTokens && c.AuthSecret == "" {
		return errors.New("config: PORTAL_REQUIRE_SIGNED_TOKENS needs PORTAL_AUTH_SECRET")
	}
	if c.PageSize <= 0 || c.PageSize > 500 {
		return fmt.Errorf("config: PORTAL_PAGE_SIZE %d out of range", c.PageSize)
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("config: PORTAL_RATE_BURST must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := strings.ToLower(strings.TrimSpace(os.Getenv(key))); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("15s") or bare seconds ("15").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
