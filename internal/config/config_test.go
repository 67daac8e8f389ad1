package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if errWrite := os.WriteFile(path, []byte(content), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
database:
  dsn: "file:test?mode=memory"
jwt:
  secret: "s3cret"
  expiry-hours: 48
admin:
  secret: "admin-s3cret"
redis:
  addr: "localhost:6379"
log:
  level: "debug"
`)

	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	if cfg.JWT.Expiry() != 48*time.Hour {
		t.Fatalf("expiry = %v", cfg.JWT.Expiry())
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr = %s", cfg.Redis.Addr)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %s", cfg.Log.Level)
	}
}

func TestLoadDefaultsAndValidation(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "file:test?mode=memory"
jwt:
  secret: "s"
admin:
  secret: "a"
`)
	cfg, errLoad := Load(path)
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("default addr = %s", cfg.Server.Addr)
	}
	if cfg.JWT.Expiry() != 24*time.Hour {
		t.Fatalf("default expiry = %v", cfg.JWT.Expiry())
	}

	missing := writeConfig(t, `
jwt:
  secret: "s"
admin:
  secret: "a"
`)
	if _, errLoad = Load(missing); errLoad == nil {
		t.Fatalf("missing dsn accepted")
	}
}
