package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"arcache"
)

// handleGet looks up an artifact by key(s)+version and downloads it,
// printing the matched key and byte count (spec.md §4.E.1/§4.E.4).
func handleGet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	baseURL := fs.String("base-url", "", "cache service base URL")
	token := fs.String("token", "", "bearer token")
	keys := fs.String("keys", "", "comma-separated restore keys, active key first")
	callerVersion := fs.String("version", "", "caller-supplied version string")
	out := fs.String("out", "", "write the downloaded artifact to this path (default: stdout)")
	quiet := fs.Bool("quiet", false, "suppress the progress bar")
	jsonOut := fs.Bool("json", false, "print a JSON result instead of human text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *callerVersion == "" {
		return errors.New("--version is required")
	}

	cfg, err := loadCLIConfig(*cfgPath)
	if err != nil {
		return err
	}
	base, err := resolveBaseURL(cfg, *baseURL)
	if err != nil {
		return err
	}
	restoreKeys, err := resolveRestoreKeys(cfg, *keys)
	if err != nil {
		return err
	}

	log := buildLogger(cfg)
	journal, err := buildJournal()
	if err != nil {
		return err
	}
	m := buildMetrics(cfg)

	sink := newProgressSink()
	client, err := arcache.NewClient(base, resolveToken(cfg, *token), restoreKeys,
		buildClientOpts(cfg, log, journal, m, sink.onChunk, nil)...)
	if err != nil {
		return err
	}

	entry, err := client.Entry(ctx, *callerVersion)
	if err != nil {
		return err
	}
	if entry == nil {
		if *jsonOut {
			return json.NewEncoder(os.Stdout).Encode(map[string]any{"status": "miss"})
		}
		fmt.Println("cache miss")
		return nil
	}

	var data []byte
	var getErr error
	done := make(chan struct{})
	go func() {
		defer close(sink)
		defer close(done)
		data, getErr = client.Get(ctx, entry.ArchiveLocation)
	}()
	if *quiet || *jsonOut {
		fallbackProgress("", 0, sink, done)
	} else {
		_ = runProgress(fmt.Sprintf("get %s", entry.CacheKey), 0, sink)
		<-done
	}
	if getErr != nil {
		return getErr
	}

	if *out != "" {
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			return err
		}
	} else if *out == "" && *jsonOut {
		// avoid dumping binary to stdout alongside JSON
	} else {
		os.Stdout.Write(data)
	}

	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"status":    "hit",
			"cacheKey":  entry.CacheKey,
			"bytes":     len(data),
			"outFile":   *out,
			"duration":  client.Stats().LastGetDuration.Seconds(),
		})
	}
	fmt.Fprintf(os.Stderr, "matched key %q, %d bytes\n", entry.CacheKey, len(data))
	return nil
}
