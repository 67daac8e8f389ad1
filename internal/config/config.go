// Package config loads the YAML service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is given on the command line.
const DefaultConfigPath = "config.yaml"

// defaultJWTExpiry applies when jwt.expiry-hours is unset.
const defaultJWTExpiry = 24 * time.Hour

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiry-hours"`
}

// Expiry returns the configured token lifetime.
func (c JWTConfig) Expiry() time.Duration {
	if c.ExpiryHours <= 0 {
		return defaultJWTExpiry
	}
	return time.Duration(c.ExpiryHours) * time.Hour
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds the connection string.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds the optional balance cache settings. An empty addr
// disables the cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// AdminConfig holds the admin API credential.
type AdminConfig struct {
	Secret string `yaml:"secret"`
}

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Admin    AdminConfig    `yaml:"admin"`
	Log      LogConfig      `yaml:"log"`
}

// ResolveConfigPath returns path, or the default next to the working
// directory when path is empty.
func ResolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	wd, errWd := os.Getwd()
	if errWd != nil {
		return DefaultConfigPath
	}
	return filepath.Join(wd, DefaultConfigPath)
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, errRead := os.ReadFile(path)
	if errRead != nil {
		return nil, fmt.Errorf("read config %s: %w", path, errRead)
	}

	var cfg Config
	if errParse := yaml.Unmarshal(raw, &cfg); errParse != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, errParse)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("config %s: database.dsn is required", path)
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("config %s: jwt.secret is required", path)
	}
	if cfg.Admin.Secret == "" {
		return nil, fmt.Errorf("config %s: admin.secret is required", path)
	}
	return &cfg, nil
}
