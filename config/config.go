// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package config loads the server's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`

	// UploadDir is the root directory case folders are created under.
	UploadDir string `yaml:"upload_dir"`

	// DB is the path of the sqlite registry file. The special value
	// ":memory:" keeps the registry in memory.
	DB string `yaml:"db"`

	// AllowedExtensions restricts what may be uploaded. Lowercase, with
	// the leading dot.
	AllowedExtensions []string `yaml:"allowed_extensions"`

	// UploadHoldMS is the minimum intake-lock hold per upload, in
	// milliseconds. Negative means the default; zero disables the hold.
	UploadHoldMS int `yaml:"upload_hold_ms"`

	// EnableSQLConsole exposes the raw-query debug endpoint. Leave off
	// outside of development.
	EnableSQLConsole bool `yaml:"enable_sql_console"`

	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr:              ":8080",
		UploadDir:         "uploads",
		DB:                "limsd.db",
		AllowedExtensions: []string{".jpg", ".jpeg", ".txt"},
		UploadHoldMS:      -1,
	}
}

// Load reads a YAML config file. Fields absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%s: addr must not be empty", path)
	}
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("%s: upload_dir must not be empty", path)
	}
	return cfg, nil
}

// UploadHold converts UploadHoldMS to a duration, applying the default
// for negative values.
func (c *Config) UploadHold() time.Duration {
	if c.UploadHoldMS < 0 {
		return time.Second
	}
	return time.Duration(c.UploadHoldMS) * time.Millisecond
}
