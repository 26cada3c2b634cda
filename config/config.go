package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every configurable value for rankwatch.
type Config struct {
	// External services
	GoogleAPIKey  string // PageSpeed Insights key; optional, raises quota
	OpenAIAPIKey  string // empty disables GEO checks (rows are recorded as stubs)
	OpenAIModel   string
	OpenAIBaseURL string
	IndexNowKey   string
	HTTPTimeout   time.Duration // per provider call

	// Collection
	Strategy       string // mobile|desktop
	PSIConcurrency int    // 0 = one worker per URL
	TargetsPath    string // file read by the scheduled run
	ServerLabel    string // stored on every snapshot

	// Persistence and retention
	DBPath           string
	KeepDays         int
	ScheduleInterval time.Duration

	// Server
	ListenAddr string
	APIKey     string // empty leaves the API open
	LogLevel   string // debug|info|warn|error

	// Export
	SFTPHost       string // host:port
	SFTPUser       string
	SFTPKeyPath    string
	SFTPKnownHosts string // empty skips host key verification
	SFTPRemoteDir  string
}

// envNames maps config keys to the environment variables operators set.
var envNames = map[string]string{
	"GoogleAPIKey":     "GOOGLE_API_KEY",
	"OpenAIAPIKey":     "OPENAI_API_KEY",
	"OpenAIModel":      "OPENAI_MODEL",
	"OpenAIBaseURL":    "OPENAI_BASE_URL",
	"IndexNowKey":      "INDEXNOW_KEY",
	"HTTPTimeout":      "HTTP_TIMEOUT",
	"Strategy":         "PSI_STRATEGY",
	"PSIConcurrency":   "PSI_CONCURRENCY",
	"TargetsPath":      "SNAPSHOT_TARGETS",
	"ServerLabel":      "SNAPSHOT_SERVER",
	"DBPath":           "SNAPSHOT_DB",
	"KeepDays":         "SNAPSHOT_KEEP_DAYS",
	"ScheduleInterval": "SNAPSHOT_INTERVAL",
	"ListenAddr":       "LISTEN_ADDR",
	"APIKey":           "SNAPSHOT_API_KEY",
	"LogLevel":         "LOG_LEVEL",
	"SFTPHost":         "SFTP_HOST",
	"SFTPUser":         "SFTP_USER",
	"SFTPKeyPath":      "SFTP_KEY_PATH",
	"SFTPKnownHosts":   "SFTP_KNOWN_HOSTS",
	"SFTPRemoteDir":    "SFTP_REMOTE_DIR",
}

// Load reads configuration from (in decreasing priority):
//  1. environment variables (e.g. SNAPSHOT_DB, OPENAI_API_KEY)
//  2. a .env file in the working directory, if present
//  3. a yaml file (./configs/config.yaml) if it exists
//
// Command-line flags are applied on top by main.
func Load() (*Config, error) {
	// .env never overrides variables already set in the process.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("OpenAIModel", "gpt-4o-mini")
	v.SetDefault("OpenAIBaseURL", "https://api.openai.com")
	v.SetDefault("HTTPTimeout", 30*time.Second)
	v.SetDefault("Strategy", "mobile")
	v.SetDefault("PSIConcurrency", 4)
	v.SetDefault("TargetsPath", "./data/targets.yaml")
	v.SetDefault("ServerLabel", "local")
	v.SetDefault("DBPath", "./data/snapshots.db")
	v.SetDefault("KeepDays", 90)
	v.SetDefault("ScheduleInterval", 24*time.Hour)
	v.SetDefault("ListenAddr", ":8000")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("SFTPRemoteDir", ".")

	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot default away.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DBPath must not be empty")
	}
	if c.PSIConcurrency < 0 {
		return fmt.Errorf("PSIConcurrency must be >= 0, got %d", c.PSIConcurrency)
	}
	if c.KeepDays < 0 {
		return fmt.Errorf("KeepDays must be >= 0, got %d", c.KeepDays)
	}
	if !ValidStrategy(c.Strategy) {
		return fmt.Errorf("Strategy must be mobile or desktop, got %q", c.Strategy)
	}
	if c.ScheduleInterval <= 0 {
		return fmt.Errorf("ScheduleInterval must be positive, got %s", c.ScheduleInterval)
	}
	return nil
}

// ValidStrategy reports whether s is a PageSpeed strategy.
func ValidStrategy(s string) bool {
	switch strings.ToLower(s) {
	case "mobile", "desktop":
		return true
	}
	return false
}
