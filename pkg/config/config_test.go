package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("expected 24h TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxSize != 50 {
		t.Errorf("expected max size 50, got %d", cfg.Cache.MaxSize)
	}
	if cfg.Matcher.Timeout != 600*time.Millisecond {
		t.Errorf("expected 600ms timeout, got %v", cfg.Matcher.Timeout)
	}
	if cfg.Monitor.HistoryDays != 30 {
		t.Errorf("expected 30 history days, got %d", cfg.Monitor.HistoryDays)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_COMPARATOR_KEY", "cmp-secret")

	content := `
listen: ":9090"
db_path: "test.db"
log:
  level: debug
  format: console
gallery:
  path: employees.json
  entries:
    - id: alice
      source: https://example.com/alice.jpg
cache:
  backend: badger
  ttl: 12h
  max_size: 20
matcher:
  threshold: 0.9
  max_parallel: 2
  timeout: 800ms
comparator:
  url: http://localhost:7000/match
  api_key: ${TEST_COMPARATOR_KEY}
attendance:
  remote_url: http://localhost:3000/api
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Comparator.APIKey != "cmp-secret" {
		t.Errorf("env var not expanded: got %s", cfg.Comparator.APIKey)
	}
	if cfg.Cache.Backend != "badger" || cfg.Cache.TTL != 12*time.Hour || cfg.Cache.MaxSize != 20 {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Matcher.Threshold != 0.9 || cfg.Matcher.MaxParallel != 2 || cfg.Matcher.Timeout != 800*time.Millisecond {
		t.Errorf("unexpected matcher config: %+v", cfg.Matcher)
	}
	// Untouched sections keep their defaults.
	if cfg.Monitor.MaxMetrics != 100 {
		t.Errorf("expected default max metrics, got %d", cfg.Monitor.MaxMetrics)
	}
	if len(cfg.Gallery.Entries) != 1 || cfg.Gallery.Entries[0].ID != "alice" {
		t.Errorf("unexpected gallery entries: %+v", cfg.Gallery.Entries)
	}
	if cfg.AttendanceDBPath() != "test.db" {
		t.Errorf("expected attendance db to default to db_path, got %s", cfg.AttendanceDBPath())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  backend: floppy\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown cache backend")
	}
}

func TestValidateThreshold(t *testing.T) {
	cfg := Default()
	cfg.Matcher.Threshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for threshold above 1")
	}
}
