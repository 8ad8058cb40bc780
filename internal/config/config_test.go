package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Workers != 4 || cfg.BrowserSessions != 2 {
		t.Errorf("defaults: %+v", cfg)
	}
	if cfg.Notify.MaxAttempts != 8 || cfg.Notify.BaseDelay != time.Second {
		t.Errorf("notify defaults: %+v", cfg.Notify)
	}
	if cfg.PassThreshold != 0.5 {
		t.Errorf("threshold default: %v", cfg.PassThreshold)
	}
	if cfg.CallbackURL != "http://localhost:8080/submissions" {
		t.Errorf("derived callback url: %s", cfg.CallbackURL)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db_path: /tmp/test.db
listen_addr: ":9090"
callback_url: http://public.example.com/submissions
workers: 8
pass_threshold: 0.7
notify:
  max_attempts: 3
  base_delay: 2s
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/test.db" || cfg.ListenAddr != ":9090" || cfg.Workers != 8 {
		t.Errorf("file values: %+v", cfg)
	}
	if cfg.Notify.MaxAttempts != 3 || cfg.Notify.BaseDelay != 2*time.Second {
		t.Errorf("notify: %+v", cfg.Notify)
	}
	if cfg.PassThreshold != 0.7 || cfg.LogLevel != "debug" {
		t.Errorf("threshold/log: %+v", cfg)
	}
	if cfg.CallbackURL != "http://public.example.com/submissions" {
		t.Errorf("callback url overridden: %s", cfg.CallbackURL)
	}
	// Unset fields keep their defaults.
	if cfg.BrowserSessions != 2 {
		t.Errorf("browser_sessions default lost: %d", cfg.BrowserSessions)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRACTICUM_DB_PATH", "/env/path.db")
	t.Setenv("PRACTICUM_WORKERS", "16")
	t.Setenv("PRACTICUM_PASS_THRESHOLD", "0.9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/env/path.db" || cfg.Workers != 16 || cfg.PassThreshold != 0.9 {
		t.Errorf("env overrides: %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing explicit config accepted")
	}
}
