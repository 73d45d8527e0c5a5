// Package config loads server settings from the environment. Command-line
// flags are applied on top by the binaries.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr     string `env:"VM_ADDR" envDefault:":8080"`
	DataDir  string `env:"VM_DATA_DIR" envDefault:"./data"`
	Tuning   string `env:"VM_TUNING" envDefault:"./configs/tuning.yaml"`
	LogLevel string `env:"VM_LOG_LEVEL" envDefault:"info"`
	DevLog   bool   `env:"VM_DEV_LOG"`

	DisableDB bool   `env:"VM_DISABLE_DB"`
	DBPath    string `env:"VM_DB_PATH"`

	// Seed fixes the generator seed for sessions whose HELLO carries none.
	// Zero means random per session.
	Seed uint64 `env:"VM_SEED"`

	IngestURL   string `env:"VM_INGEST_URL"`
	IngestToken string `env:"VM_INGEST_TOKEN"`

	Archive ArchiveConfig `envPrefix:"VM_ARCHIVE_"`
}

// ArchiveConfig points at an S3-compatible bucket for closed log files.
// Archiving is off while Endpoint is empty.
type ArchiveConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"auto"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Parse loads Config from the environment.
func Parse() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

// IndexPath is the SQLite file, defaulting to <data>/index.db.
func (c Config) IndexPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "index.db")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("empty listen address")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("empty data dir")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("bad log level %q", c.LogLevel)
	}
	return nil
}
