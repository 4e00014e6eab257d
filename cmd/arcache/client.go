package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arcache"
	"arcache/internal/audit"
	"arcache/internal/config"
	"arcache/internal/logging"
	"arcache/internal/metrics"
)

// loadCLIConfig loads the ambient YAML config, falling back to
// ARCACHE_CONFIG, then ~/.config/arcache/config.yml if that file exists,
// and then a skipped, config-less run — unlike the
// teacher's subcommands, a missing config file is not fatal here since
// --base-url/--token/ARCACHE_BASE_URL/ARCACHE_TOKEN can supply everything
// a subcommand needs on their own.
func loadCLIConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("ARCACHE_CONFIG")
	}
	if path == "" {
		if h, err := os.UserHomeDir(); err == nil && h != "" {
			candidate := filepath.Join(h, ".config", "arcache", "config.yml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

// resolveBaseURL prefers an explicit flag, then ARCACHE_BASE_URL, then the
// loaded config's cache.base_url.
func resolveBaseURL(cfg *config.Config, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv("ARCACHE_BASE_URL"); v != "" {
		return v, nil
	}
	if cfg != nil && cfg.Cache.BaseURL != "" {
		return cfg.Cache.BaseURL, nil
	}
	return "", fmt.Errorf("no base URL: pass --base-url, set ARCACHE_BASE_URL, or configure cache.base_url")
}

func resolveToken(cfg *config.Config, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("ARCACHE_TOKEN"); v != "" {
		return v
	}
	if cfg != nil {
		return cfg.Token()
	}
	return ""
}

func resolveRestoreKeys(cfg *config.Config, flagKeys string) ([]string, error) {
	if flagKeys != "" {
		keys := strings.Split(flagKeys, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		return keys, nil
	}
	if cfg != nil && (cfg.Cache.Key != "" || len(cfg.Cache.RestoreKeys) > 0) {
		all := append([]string{cfg.Cache.Key}, cfg.Cache.RestoreKeys...)
		var out []string
		for _, k := range all {
			if k != "" {
				out = append(out, k)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("no restore keys: pass --keys, or configure cache.key/cache.restore_keys")
}

// buildLogger, buildJournal, and buildMetrics wire the ambient stack the
// same way for every subcommand: a logger at the config's level/format (or
// "info"/human by default), a fresh in-memory audit journal, and a
// metrics manager that is a no-op unless the config enables a textfile.
func buildLogger(cfg *config.Config) *logging.Logger {
	level, format := "info", false
	if cfg != nil {
		if cfg.Logging.Level != "" {
			level = cfg.Logging.Level
		}
		format = strings.EqualFold(cfg.Logging.Format, "json")
	}
	return logging.New(level, format)
}

func buildJournal() (*audit.Journal, error) {
	return audit.Open()
}

func buildMetrics(cfg *config.Config) *metrics.Manager {
	return metrics.New(cfg)
}

// buildClientOpts translates the CLI config's transfer section into
// library Options; the library itself never reads YAML (§2.3).
func buildClientOpts(cfg *config.Config, log *logging.Logger, journal *audit.Journal, m *metrics.Manager, onDownload, onUpload func(int64)) []arcache.Option {
	opts := []arcache.Option{
		arcache.WithLogger(log),
		arcache.WithJournal(journal),
		arcache.WithMetrics(m),
		arcache.WithUserAgent("arcache-cli/" + version),
	}
	if onDownload != nil {
		opts = append(opts, arcache.WithDownloadProgress(onDownload))
	}
	if onUpload != nil {
		opts = append(opts, arcache.WithUploadProgress(onUpload))
	}
	if cfg == nil {
		return opts
	}
	t := cfg.Transfer
	if t.MaxRetries > 0 {
		opts = append(opts, arcache.WithMaxRetries(t.MaxRetries))
	}
	if t.DownloadChunkMB > 0 {
		opts = append(opts, arcache.WithDownloadChunkSize(int64(t.DownloadChunkMB)*1024*1024))
	}
	if t.DownloadConcurrency > 0 {
		opts = append(opts, arcache.WithDownloadConcurrency(t.DownloadConcurrency))
	}
	if t.UploadChunkMB > 0 {
		opts = append(opts, arcache.WithUploadChunkSize(int64(t.UploadChunkMB)*1024*1024))
	}
	if t.UploadConcurrency > 0 {
		opts = append(opts, arcache.WithUploadConcurrency(t.UploadConcurrency))
	}
	if t.BackoffFactorBase > 0 {
		opts = append(opts, arcache.WithBackoffFactorBase(t.BackoffFactorBase))
	}
	return opts
}
