package main

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

type config struct {
	BackendURL string `yaml:"backend_url"`
	UserID     string `yaml:"user_id"`
	SessionID  string `yaml:"session_id"`
	LogLevel   string `yaml:"log_level"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{
		BackendURL: "http://localhost:8000",
		UserID:     "anonymous",
		LogLevel:   "info",
	}

	if path == "" {
		applyEnv(cfg)
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv lets environment variables override file values.
func applyEnv(cfg *config) {
	if v := os.Getenv("PLANWATCH_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("PLANWATCH_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("PLANWATCH_SESSION_ID"); v != "" {
		cfg.SessionID = v
	}
	if v := os.Getenv("PLANWATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
