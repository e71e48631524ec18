package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"discord-antiraid-bot/internal/database"
	"discord-antiraid-bot/internal/redis"
)

// Config is the process configuration, loaded from config.yaml or
// config.json
type Config struct {
	Token    string                  `json:"token" yaml:"token"`
	Redis    redis.Config            `json:"redis" yaml:"redis"`
	Postgres database.PostgresConfig `json:"postgres" yaml:"postgres"`

	MetricsAddr  string `json:"metricsAddr" yaml:"metricsAddr"`
	SnapshotPath string `json:"snapshotPath" yaml:"snapshotPath"`
}

func (c *Config) applyDefaults() {
	if c.MetricsAddr == "" {
		c.MetricsAddr = "localhost:9109"
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = "data/intelligence.json"
	}
}

// Load reads and validates the configuration at path. The format follows
// the extension: .yaml/.yml parse as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("%s: token is required", path)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Locate returns the first existing config file among the conventional
// candidates, preferring YAML
func Locate() (string, error) {
	for _, candidate := range []string{"config.yaml", "config.yml", "config.json"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no config.yaml or config.json found")
}
