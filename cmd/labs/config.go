package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIURL         = "http://localhost:8000"
	defaultAPIPrefix      = "/api"
	defaultTimeoutMs      = 30000
	defaultPollIntervalMs = 1000
	defaultLogLevel       = "info"
)

type Config struct {
	API     APIConfig     `json:"api" yaml:"api"`
	Console ConsoleConfig `json:"console" yaml:"console"`
	History HistoryConfig `json:"history" yaml:"history"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

type APIConfig struct {
	URL            string  `json:"url" yaml:"url" validate:"required,url"`
	Prefix         *string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	TimeoutMs      int     `json:"timeout_ms" yaml:"timeout_ms" validate:"gt=0"`
	PollIntervalMs int     `json:"poll_interval_ms" yaml:"poll_interval_ms" validate:"gt=0"`
}

type ConsoleConfig struct {
	AskPassword *bool          `json:"ask_password,omitempty" yaml:"ask_password,omitempty"`
	ExtraVars   map[string]any `json:"extra_vars,omitempty" yaml:"extra_vars,omitempty"`
}

type HistoryConfig struct {
	Disabled bool   `json:"disabled" yaml:"disabled"`
	Path     string `json:"path" yaml:"path"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Path  string `json:"path" yaml:"path"`
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if isYAMLPath(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func loadConfigOrEmpty(path string) (Config, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	return cfg, nil
}

func writeConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var out []byte
	var err error
	if isYAMLPath(path) {
		out, err = yaml.Marshal(cfg)
	} else {
		out, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// normalizeConfig fills defaults and applies environment overrides.
// LABS_API_URL wins over the legacy ANSIBLE_LABS_API_URL.
func normalizeConfig(cfg Config) Config {
	if env := getenv("LABS_API_URL", os.Getenv("ANSIBLE_LABS_API_URL")); env != "" {
		cfg.API.URL = env
	}
	if env := os.Getenv("LABS_API_PREFIX"); env != "" {
		prefix := env
		if prefix == "none" {
			prefix = ""
		}
		cfg.API.Prefix = &prefix
	}
	if env := os.Getenv("LABS_POLL_INTERVAL_MS"); env != "" {
		if ms, err := strconv.Atoi(env); err == nil && ms > 0 {
			cfg.API.PollIntervalMs = ms
		}
	}
	if env := os.Getenv("LABS_LOG_LEVEL"); env != "" {
		cfg.Log.Level = env
	}

	cfg.API.URL = strings.TrimRight(strings.TrimSpace(cfg.API.URL), "/")
	if cfg.API.URL == "" {
		cfg.API.URL = defaultAPIURL
	}
	if cfg.API.Prefix == nil {
		prefix := defaultAPIPrefix
		cfg.API.Prefix = &prefix
	}
	if cfg.API.TimeoutMs <= 0 {
		cfg.API.TimeoutMs = defaultTimeoutMs
	}
	if cfg.API.PollIntervalMs <= 0 {
		cfg.API.PollIntervalMs = defaultPollIntervalMs
	}
	if cfg.Console.AskPassword == nil {
		ask := true
		cfg.Console.AskPassword = &ask
	}
	if cfg.History.Path == "" {
		cfg.History.Path = filepath.Join(labsHome(), "history.db")
	}
	cfg.History.Path = expandPath(cfg.History.Path)
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Path == "" {
		cfg.Log.Path = filepath.Join(labsHome(), "labs.log")
	}
	cfg.Log.Path = expandPath(cfg.Log.Path)
	return cfg
}

func validateConfig(cfg Config) error {
	if err := configValidate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c APIConfig) prefix() string {
	if c.Prefix == nil {
		return defaultAPIPrefix
	}
	p := strings.TrimRight(*c.Prefix, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (c APIConfig) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c APIConfig) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c ConsoleConfig) askPassword() bool {
	return c.AskPassword == nil || *c.AskPassword
}
