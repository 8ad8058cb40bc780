// Package config loads runtime settings from a YAML file with environment
// overrides. A .env file in the working directory is folded into the
// environment first, so local setups need no exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"practicum/internal/store"
)

// Config is the full runtime configuration.
type Config struct {
	DBPath        string `yaml:"db_path"`
	ListenAddr    string `yaml:"listen_addr"`
	CallbackURL   string `yaml:"callback_url"`
	ForwardURL    string `yaml:"forward_url"`
	ArtifactDir   string `yaml:"artifact_dir"`
	PublicBaseURL string `yaml:"public_base_url"`
	TemplatesPath string `yaml:"templates_path"`

	Notify struct {
		MaxAttempts int           `yaml:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay"`
	} `yaml:"notify"`

	Workers         int           `yaml:"workers"`
	BrowserSessions int           `yaml:"browser_sessions"`
	CheckTimeout    time.Duration `yaml:"check_timeout"`
	PassThreshold   float64       `yaml:"pass_threshold"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		DBPath:          store.DefaultDBPath,
		ListenAddr:      ":8080",
		ArtifactDir:     ".practicum/artifacts",
		PublicBaseURL:   "http://localhost:8080/artifacts",
		Workers:         4,
		BrowserSessions: 2,
		CheckTimeout:    30 * time.Second,
		PassThreshold:   0.5,
		LogLevel:        "info",
		LogFormat:       "text",
	}
	cfg.Notify.MaxAttempts = 8
	cfg.Notify.BaseDelay = time.Second
	return cfg
}

// Load reads path (optional) over the defaults, then applies environment
// overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if cfg.CallbackURL == "" {
		cfg.CallbackURL = "http://localhost" + cfg.ListenAddr + "/submissions"
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRACTICUM_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("PRACTICUM_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("PRACTICUM_CALLBACK_URL"); v != "" {
		c.CallbackURL = v
	}
	if v := os.Getenv("PRACTICUM_FORWARD_URL"); v != "" {
		c.ForwardURL = v
	}
	if v := os.Getenv("PRACTICUM_ARTIFACT_DIR"); v != "" {
		c.ArtifactDir = v
	}
	if v := os.Getenv("PRACTICUM_PUBLIC_BASE_URL"); v != "" {
		c.PublicBaseURL = v
	}
	if v := os.Getenv("PRACTICUM_TEMPLATES"); v != "" {
		c.TemplatesPath = v
	}
	if v := os.Getenv("PRACTICUM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("PRACTICUM_PASS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.PassThreshold = f
		}
	}
	if v := os.Getenv("PRACTICUM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PRACTICUM_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}
