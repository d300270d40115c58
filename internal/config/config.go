// Package config loads herald's YAML configuration and applies defaults
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/herald/internal/news"
	"github.com/deusflow/herald/internal/paths"
)

// State store backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetries       = 2
	defaultRetryDelay    = time.Second
	defaultConcurrency   = 4
	defaultCacheTTL      = 10 * time.Minute
	defaultUserAgent     = "herald/1.0 (+https://github.com/deusflow/herald)"
	defaultRetentionDays = 90
	defaultGeminiModel   = "gemini-1.5-flash"
	defaultGeminiBudget  = 3
	defaultMonitorAddr   = ":8080"
)

// Config is the whole herald configuration.
type Config struct {
	Feeds      []Feed     `yaml:"feeds"`
	Keywords   Keywords   `yaml:"keywords"`
	Scoring    Scoring    `yaml:"scoring"`
	Fetch      Fetch      `yaml:"fetch"`
	State      State      `yaml:"state"`
	Notify     Notify     `yaml:"notify"`
	Gemini     Gemini     `yaml:"gemini"`
	Log        Log        `yaml:"log"`
	Monitoring Monitoring `yaml:"monitoring"`
}

// Feed is one RSS/Atom source.
type Feed struct {
	Name   string  `yaml:"name"`
	URL    string  `yaml:"url"`
	Weight float64 `yaml:"weight"`
}

// Scoring controls ranking and selection.
type Scoring struct {
	// MaxItems is nil when unset; Load replaces that with news.DefaultMaxItems.
	MaxItems        *int    `yaml:"max_items"`
	TitleSimilarity float64 `yaml:"title_similarity"`
	KeepUnmatched   bool    `yaml:"keep_unmatched"`
	FeedWeights     bool    `yaml:"feed_weights"`
}

// Fetch controls the feed transport.
type Fetch struct {
	Timeout     time.Duration `yaml:"timeout"`
	Retries     *int          `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Concurrency int           `yaml:"concurrency"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	UserAgent   string        `yaml:"user_agent"`
}

// State selects where seen URLs live.
type State struct {
	Backend       string `yaml:"backend"`
	DSN           string `yaml:"dsn"`
	Path          string `yaml:"path"`
	RetentionDays *int   `yaml:"retention_days"`
}

// Notify holds optional Telegram delivery settings.
type Notify struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// Gemini holds optional overview settings.
type Gemini struct {
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	MaxRequests int    `yaml:"max_requests"`
}

// Log configures the logger.
type Log struct {
	Level string `yaml:"level"`
}

// Monitoring configures the HTTP monitoring server.
type Monitoring struct {
	Addr string `yaml:"addr"`
}

// ErrInvalid marks a configuration that cannot be used.
var ErrInvalid = errors.New("config: invalid")

// Load reads the YAML file at path (HERALD_CONFIG or the XDG default when
// path is empty), applies environment overrides and defaults. A missing
// file is not an error: defaults are used. Unreadable YAML is.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnvOrDefault("HERALD_CONFIG", paths.ConfigFile())
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", path)
		data = nil
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return cfg, cfg.Validate()
}

// Parse decodes YAML and applies defaults without consulting the
// environment.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// LoadDotEnv loads .env files from the working directory and the config
// directory. Variables already set in the environment win.
func LoadDotEnv() {
	for _, p := range []string{".env", filepath.Join(paths.ConfigDir(), ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("cannot load env file", "path", p, "error", err)
		}
	}
}

func decode(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Notify.TelegramToken = getEnvOrDefault("TELEGRAM_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.Gemini.APIKey = getEnvOrDefault("GEMINI_API_KEY", c.Gemini.APIKey)
	c.State.Backend = getEnvOrDefault("HERALD_STATE_BACKEND", c.State.Backend)

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.State.DSN = dsn
		if c.State.Backend == "" {
			c.State.Backend = BackendPostgres
		}
	}

	if v := os.Getenv("HERALD_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scoring.MaxItems = &n
		}
	}

	if port := os.Getenv("MONITORING_PORT"); port != "" {
		c.Monitoring.Addr = ":" + port
	}

	if os.Getenv("DEBUG") == "true" {
		c.Log.Level = "debug"
	}
}

func (c *Config) applyDefaults() {
	feeds := c.Feeds[:0]
	for _, f := range c.Feeds {
		f.URL = strings.TrimSpace(f.URL)
		if f.URL == "" {
			slog.Warn("skipping feed without url", "name", f.Name)
			continue
		}
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			f.Name = f.URL
		}
		if f.Weight <= 0 {
			f.Weight = 1
		}
		feeds = append(feeds, f)
	}
	c.Feeds = feeds

	if c.Scoring.MaxItems == nil {
		n := news.DefaultMaxItems
		c.Scoring.MaxItems = &n
	}
	if c.Scoring.TitleSimilarity <= 0 {
		c.Scoring.TitleSimilarity = news.DefaultTitleSimilarity
	}
	if c.Scoring.TitleSimilarity > 1 {
		c.Scoring.TitleSimilarity = 1
	}

	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = defaultTimeout
	}
	if c.Fetch.Retries == nil || *c.Fetch.Retries < 0 {
		n := defaultRetries
		c.Fetch.Retries = &n
	}
	if c.Fetch.RetryDelay <= 0 {
		c.Fetch.RetryDelay = defaultRetryDelay
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = defaultConcurrency
	}
	if c.Fetch.CacheTTL < 0 {
		c.Fetch.CacheTTL = 0
	} else if c.Fetch.CacheTTL == 0 {
		c.Fetch.CacheTTL = defaultCacheTTL
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultUserAgent
	}

	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.State.Backend == "" {
		c.State.Backend = BackendFile
	}
	if c.State.Path == "" {
		switch c.State.Backend {
		case BackendFile:
			c.State.Path = paths.SeenFile()
		case BackendSQLite:
			c.State.Path = paths.SeenDB()
		}
	}
	if c.State.RetentionDays == nil || *c.State.RetentionDays < 0 {
		n := defaultRetentionDays
		c.State.RetentionDays = &n
	}

	if c.Gemini.Model == "" {
		c.Gemini.Model = defaultGeminiModel
	}
	if c.Gemini.MaxRequests <= 0 {
		c.Gemini.MaxRequests = defaultGeminiBudget
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Monitoring.Addr == "" {
		c.Monitoring.Addr = defaultMonitorAddr
	}
}

// Validate rejects settings no default can repair.
func (c *Config) Validate() error {
	switch c.State.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.State.DSN == "" {
			return fmt.Errorf("%w: state.dsn (or DATABASE_URL) is required for postgres", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown state backend %q", ErrInvalid, c.State.Backend)
	}
	return nil
}

// MaxItems returns the configured digest cap.
func (c *Config) MaxItems() int {
	if c.Scoring.MaxItems == nil {
		return news.DefaultMaxItems
	}
	return *c.Scoring.MaxItems
}

// RetryCount returns how many times a failed feed request is retried.
func (f Fetch) RetryCount() int {
	if f.Retries == nil {
		return defaultRetries
	}
	return *f.Retries
}

// Retention returns how long seen URLs are remembered; 0 means forever.
func (s State) Retention() time.Duration {
	if s.RetentionDays == nil {
		return defaultRetentionDays * 24 * time.Hour
	}
	return time.Duration(*s.RetentionDays) * 24 * time.Hour
}

// Topics returns the keyword configuration for the scorer.
func (c *Config) Topics() news.Topics {
	return news.Topics(c.Keywords)
}

// SourceWeights maps feed names to weights when feed weighting is enabled.
func (c *Config) SourceWeights() map[string]float64 {
	if !c.Scoring.FeedWeights {
		return nil
	}
	weights := make(map[string]float64, len(c.Feeds))
	for _, f := range c.Feeds {
		weights[f.Name] = f.Weight
	}
	return weights
}

// TelegramEnabled reports whether digests should be posted to Telegram.
func (c *Config) TelegramEnabled() bool {
	return c.Notify.TelegramToken != "" && c.Notify.TelegramChatID != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
