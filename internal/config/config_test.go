package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
feeds:
  - name: Hacker News
    url: https://news.ycombinator.com/rss
    weight: 1.5
  - url: https://lobste.rs/rss
  - name: broken
keywords:
  rust: [rust, cargo]
  ai:
    weight: 2
    keywords: [llm, "machine learning"]
  go: golang
scoring:
  max_items: 5
  title_similarity: 0.9
  feed_weights: true
fetch:
  timeout: 3s
  retries: 0
  cache_ttl: 1m
state:
  backend: SQLite
  retention_days: 30
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_TOKEN", "TELEGRAM_CHAT_ID", "GEMINI_API_KEY", "DATABASE_URL",
		"HERALD_MAX_ITEMS", "HERALD_STATE_BACKEND", "MONITORING_PORT", "DEBUG", "HERALD_CONFIG",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
}

func TestParseSample(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(cfg.Feeds) != 2 {
		t.Fatalf("feeds = %d, want 2 (feed without url skipped)", len(cfg.Feeds))
	}
	if cfg.Feeds[1].Name != "https://lobste.rs/rss" || cfg.Feeds[1].Weight != 1 {
		t.Fatalf("unnamed feed defaults not applied: %+v", cfg.Feeds[1])
	}

	topics := cfg.Topics()
	if len(topics) != 3 {
		t.Fatalf("topics = %d, want 3", len(topics))
	}
	wantOrder := []string{"rust", "ai", "go"}
	for i, name := range wantOrder {
		if topics[i].Name != name {
			t.Fatalf("topic %d = %q, want %q (YAML order)", i, topics[i].Name, name)
		}
	}
	if topics[1].Weight != 2 || len(topics[1].Keywords) != 2 {
		t.Fatalf("weighted topic parsed wrong: %+v", topics[1])
	}
	if topics[2].Weight != 1 || len(topics[2].Keywords) != 1 || topics[2].Keywords[0] != "golang" {
		t.Fatalf("scalar topic parsed wrong: %+v", topics[2])
	}

	if cfg.MaxItems() != 5 {
		t.Fatalf("MaxItems = %d, want 5", cfg.MaxItems())
	}
	if cfg.Scoring.TitleSimilarity != 0.9 {
		t.Fatalf("TitleSimilarity = %v", cfg.Scoring.TitleSimilarity)
	}
	if cfg.Fetch.Timeout != 3*time.Second || cfg.Fetch.CacheTTL != time.Minute {
		t.Fatalf("durations parsed wrong: %+v", cfg.Fetch)
	}
	if cfg.Fetch.RetryCount() != 0 {
		t.Fatalf("explicit retries: 0 must be kept, got %d", cfg.Fetch.RetryCount())
	}
	if cfg.State.Backend != BackendSQLite || cfg.State.Path == "" {
		t.Fatalf("state parsed wrong: %+v", cfg.State)
	}
	if cfg.State.Retention() != 30*24*time.Hour {
		t.Fatalf("Retention = %v", cfg.State.Retention())
	}

	weights := cfg.SourceWeights()
	if weights["Hacker News"] != 1.5 {
		t.Fatalf("SourceWeights = %v", weights)
	}
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MaxItems() != 10 {
		t.Fatalf("MaxItems = %d, want 10", cfg.MaxItems())
	}
	if cfg.Fetch.RetryCount() != 2 {
		t.Fatalf("Retries = %d, want 2", cfg.Fetch.RetryCount())
	}
	if cfg.Fetch.Timeout != 10*time.Second || cfg.Fetch.Concurrency != 4 {
		t.Fatalf("fetch defaults wrong: %+v", cfg.Fetch)
	}
	if cfg.State.Backend != BackendFile {
		t.Fatalf("backend = %q, want file", cfg.State.Backend)
	}
	if len(cfg.Topics()) != 0 {
		t.Fatal("no keywords section should mean no topics")
	}
	if cfg.SourceWeights() != nil {
		t.Fatal("feed weights are off by default")
	}
	if cfg.TelegramEnabled() {
		t.Fatal("telegram must be disabled without credentials")
	}
}

func TestParseMaxItemsZero(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("scoring:\n  max_items: 0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MaxItems() != 0 {
		t.Fatalf("MaxItems = %d, want explicit 0", cfg.MaxItems())
	}
}

func TestParseInvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("feeds: [unclosed")); err == nil {
		t.Fatal("expected a parse error")
	}
	if _, err := Parse([]byte("keywords: [a, b]")); err == nil {
		t.Fatal("expected keywords sequence to be rejected")
	}
}

func TestValidateBackend(t *testing.T) {
	clearEnv(t)
	if _, err := Parse([]byte("state:\n  backend: redis\n")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("unknown backend: err = %v, want ErrInvalid", err)
	}
	if _, err := Parse([]byte("state:\n  backend: postgres\n")); !errors.Is(err, ErrInvalid) {
		t.Fatalf("postgres without dsn: err = %v, want ErrInvalid", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxItems() != 10 {
		t.Fatalf("MaxItems = %d, want default", cfg.MaxItems())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HERALD_CONFIG", path)
	t.Setenv("TELEGRAM_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("HERALD_MAX_ITEMS", "3")
	t.Setenv("MONITORING_PORT", "9090")
	t.Setenv("DEBUG", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxItems() != 3 {
		t.Fatalf("MaxItems = %d, want env override 3", cfg.MaxItems())
	}
	if !cfg.TelegramEnabled() {
		t.Fatal("telegram should be enabled from env")
	}
	if cfg.Monitoring.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Monitoring.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Level = %q", cfg.Log.Level)
	}
}

func TestLoadDatabaseURLSelectsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/herald")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Backend != BackendPostgres || cfg.State.DSN == "" {
		t.Fatalf("state = %+v, want postgres with dsn", cfg.State)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "herald"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "herald", ".env"), []byte("GEMINI_API_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("GEMINI_API_KEY")

	LoadDotEnv()
	t.Cleanup(func() { os.Unsetenv("GEMINI_API_KEY") })

	if got := os.Getenv("GEMINI_API_KEY"); got != "from-file" {
		t.Fatalf("GEMINI_API_KEY = %q, want from-file", got)
	}
}

func TestZeroValueAccessors(t *testing.T) {
	if got := (Fetch{}).RetryCount(); got != 2 {
		t.Fatalf("RetryCount = %d, want 2", got)
	}
	if got := (State{}).Retention(); got != 90*24*time.Hour {
		t.Fatalf("Retention = %v, want 90 days", got)
	}
	zero := 0
	if got := (State{RetentionDays: &zero}).Retention(); got != 0 {
		t.Fatalf("Retention = %v, want 0 (forever)", got)
	}
}
