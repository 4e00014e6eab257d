// Package config is the CLI-only ambient configuration for cmd/arcache. It
// governs logging, metrics, the audit journal, and defaults for base URL
// and restore keys — nothing the library's functional-option builder
// already covers at the API level. All values are supplied via YAML; we
// avoid hard-coded defaults beyond Validate()'s minimal checks.
//
// Grounded on the teacher's internal/config/config.go YAML schema and
// tilde/env expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Version  int      `yaml:"version"`
	Cache    Cache    `yaml:"cache"`
	Transfer Transfer `yaml:"transfer"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
	Journal  Journal  `yaml:"journal"`
}

type Cache struct {
	BaseURL     string   `yaml:"base_url"`
	TokenEnv    string   `yaml:"token_env"`
	Key         string   `yaml:"key"`
	RestoreKeys []string `yaml:"restore_keys"`
}

type Transfer struct {
	MaxRetries          int     `yaml:"max_retries"`
	MinRetryIntervalMS  int     `yaml:"min_retry_interval_ms"`
	MaxRetryIntervalMS  int     `yaml:"max_retry_interval_ms"`
	BackoffFactorBase   float64 `yaml:"backoff_factor_base"`
	DownloadChunkMB     int     `yaml:"download_chunk_mb"`
	DownloadConcurrency int     `yaml:"download_concurrency"`
	UploadChunkMB       int     `yaml:"upload_chunk_mb"`
	UploadConcurrency   int     `yaml:"upload_concurrency"`
}

type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // human|json
}

type Metrics struct {
	PrometheusTextfile PromTextfile `yaml:"prometheus_textfile"`
}

type PromTextfile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Journal configures the in-process, non-durable audit log of operations
// (see internal/audit). It never persists across restarts regardless of
// these settings. Enabled and MaxEntries are parsed and MaxEntries is
// validated; cmd/arcache opens the journal the same way whatever they say.
type Journal struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
}

// Load reads, parses, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	expanded, err := expandTilde(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	b = []byte(os.ExpandEnv(string(b)))
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := c.expandPaths(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.Metrics.PrometheusTextfile.Path, err = expandTilde(c.Metrics.PrometheusTextfile.Path); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}
	lvl := lower(c.Logging.Level)
	switch lvl {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level invalid: %s", c.Logging.Level)
	}
	fmtStr := lower(c.Logging.Format)
	switch fmtStr {
	case "", "human", "json":
	default:
		return fmt.Errorf("logging.format invalid: %s", c.Logging.Format)
	}
	if c.Transfer.MaxRetries < 0 {
		return errors.New("transfer.max_retries must be >= 0")
	}
	if c.Journal.MaxEntries < 0 {
		return errors.New("journal.max_entries must be >= 0")
	}
	return nil
}

// Token resolves the bearer token from the environment variable named by
// Cache.TokenEnv. Empty if unset.
func (c *Config) Token() string {
	if c.Cache.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Cache.TokenEnv)
}

func expandTilde(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p[0] != '~' {
		return p, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return h, nil
	}
	return filepath.Join(h, p[2:]), nil
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if 'A' <= b[i] && b[i] <= 'Z' {
			b[i] = b[i] + 32
		}
	}
	return string(b)
}
