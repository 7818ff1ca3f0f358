// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/fraudwatch/internal/risk"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Scoring
	ThresholdHigh     int
	ThresholdMedium   int
	VelocityWindow    time.Duration
	VelocityMax       int
	HighRiskLocations []string
	Timezone          string
	// HistorySource picks the velocity history: "tracker" (in-process
	// sliding windows) or "store" (counts stored transactions).
	HistorySource string

	// Seed data applied at startup
	SeedFile string
	Seed     *Seed

	// Security
	AdminSecret string
	// RateLimitRPM overrides the public API limit (100 per 15 minutes)
	// with a per-minute budget when positive.
	RateLimitRPM int
	CORSOrigins  []string

	// Observability
	OTLPEndpoint string
}

// Seed is the startup data set loaded from SEED_FILE.
type Seed struct {
	Blacklist struct {
		Users       []string `yaml:"users"`
		IPs         []string `yaml:"ips"`
		Instruments []string `yaml:"instruments"`
		Merchants   []string `yaml:"merchants"`
	} `yaml:"blacklist"`
	FlaggedIPs []FlaggedIP `yaml:"flaggedIps"`
	// HighRiskLocations overrides HIGH_RISK_LOCATIONS when non-empty.
	HighRiskLocations []string `yaml:"highRiskLocations"`
}

// FlaggedIP is an address flagged before the first transaction arrives.
type FlaggedIP struct {
	Address string `yaml:"address"`
	Reason  string `yaml:"reason"`
}

const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultRateLimit = 0
	DefaultTimezone  = "Local"

	HistoryTracker = "tracker"
	HistoryStore   = "store"
)

// DefaultSeed returns the entries every fresh instance starts with.
func DefaultSeed() *Seed {
	s := &Seed{}
	s.Blacklist.Users = []string{"fraud@example.com"}
	s.Blacklist.IPs = []string{"192.168.1.100"}
	return s
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		ThresholdHigh:     getEnvInt("FRAUD_THRESHOLD_HIGH", risk.DefaultHighThreshold),
		ThresholdMedium:   getEnvInt("FRAUD_THRESHOLD_MEDIUM", risk.DefaultMediumThreshold),
		VelocityWindow:    time.Duration(getEnvInt("VELOCITY_WINDOW_MS", int(risk.DefaultVelocityWindow/time.Millisecond))) * time.Millisecond,
		VelocityMax:       getEnvInt("VELOCITY_MAX_TRANSACTIONS", risk.DefaultVelocityMax),
		HighRiskLocations: getEnvList("HIGH_RISK_LOCATIONS", risk.DefaultHighRiskLocations),
		Timezone:          getEnv("TIMEZONE", DefaultTimezone),
		HistorySource:     getEnv("HISTORY_SOURCE", HistoryTracker),
		SeedFile:          os.Getenv("SEED_FILE"),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:      getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
		CORSOrigins:       getEnvList("CORS_ORIGINS", []string{"*"}),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.SeedFile != "" {
		seed, err := LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		cfg.Seed = seed
	} else {
		cfg.Seed = DefaultSeed()
	}
	if len(cfg.Seed.HighRiskLocations) > 0 {
		cfg.HighRiskLocations = cfg.Seed.HighRiskLocations
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadSeed parses a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.ThresholdHigh < 0 || c.ThresholdHigh > risk.MaxScore {
		return fmt.Errorf("FRAUD_THRESHOLD_HIGH must be between 0 and %d", risk.MaxScore)
	}
	if c.ThresholdMedium < 0 || c.ThresholdMedium > risk.MaxScore {
		return fmt.Errorf("FRAUD_THRESHOLD_MEDIUM must be between 0 and %d", risk.MaxScore)
	}
	if c.ThresholdHigh < c.ThresholdMedium {
		return fmt.Errorf("FRAUD_THRESHOLD_HIGH must be >= FRAUD_THRESHOLD_MEDIUM")
	}
	if c.ThresholdHigh == 0 && c.ThresholdMedium == 0 {
		return fmt.Errorf("FRAUD_THRESHOLD_HIGH and FRAUD_THRESHOLD_MEDIUM cannot both be 0")
	}
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("VELOCITY_WINDOW_MS must be positive")
	}
	if c.VelocityMax <= 0 {
		return fmt.Errorf("VELOCITY_MAX_TRANSACTIONS must be positive")
	}
	switch c.HistorySource {
	case "", HistoryTracker, HistoryStore:
	default:
		return fmt.Errorf("HISTORY_SOURCE must be %q or %q", HistoryTracker, HistoryStore)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Risk builds the scoring engine configuration.
func (c *Config) Risk() risk.Config {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return risk.Config{
		HighThreshold:     c.ThresholdHigh,
		MediumThreshold:   c.ThresholdMedium,
		VelocityWindow:    c.VelocityWindow,
		VelocityMax:       c.VelocityMax,
		HighRiskLocations: c.HighRiskLocations,
		Location:          loc,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
