package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
token: abc123
redis:
  addr: /var/run/redis/redis.sock
postgres:
  host: localhost
  port: 5432
  user: antiraid
  database: antiraid
  sslmode: disable
metricsAddr: localhost:9200
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token != "abc123" {
		t.Errorf("token = %q", cfg.Token)
	}
	if cfg.Redis.Addr != "/var/run/redis/redis.sock" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Postgres.Port != 5432 || cfg.Postgres.User != "antiraid" {
		t.Errorf("postgres = %+v", cfg.Postgres)
	}
	if cfg.MetricsAddr != "localhost:9200" {
		t.Errorf("metricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.SnapshotPath != "data/intelligence.json" {
		t.Errorf("snapshot default = %q", cfg.SnapshotPath)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json",
		`{"token":"tok","postgres":{"host":"db","port":5433,"user":"u","password":"p","database":"d"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.Host != "db" || cfg.Postgres.Port != 5433 {
		t.Errorf("postgres = %+v", cfg.Postgres)
	}
	if cfg.MetricsAddr != "localhost:9109" {
		t.Errorf("metricsAddr default = %q", cfg.MetricsAddr)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	path := writeConfig(t, "config.json", `{"redis":{"addr":"localhost:6379"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing token")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
