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

// handlePut reserves, uploads, and commits a new cache entry for the
// given key+version from a local file (spec.md §4.E.2/§4.E.3).
func handlePut(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	baseURL := fs.String("base-url", "", "cache service base URL")
	token := fs.String("token", "", "bearer token")
	key := fs.String("key", "", "active cache key (overrides cache.key)")
	callerVersion := fs.String("version", "", "caller-supplied version string")
	file := fs.String("file", "", "path to the file to upload")
	quiet := fs.Bool("quiet", false, "suppress the progress bar")
	jsonOut := fs.Bool("json", false, "print a JSON result instead of human text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *callerVersion == "" {
		return errors.New("--version is required")
	}
	if *file == "" {
		return errors.New("--file is required")
	}

	cfg, err := loadCLIConfig(*cfgPath)
	if err != nil {
		return err
	}
	base, err := resolveBaseURL(cfg, *baseURL)
	if err != nil {
		return err
	}
	keysFlag := *key
	restoreKeys, err := resolveRestoreKeys(cfg, keysFlag)
	if err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
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
		buildClientOpts(cfg, log, journal, m, nil, sink.onChunk)...)
	if err != nil {
		return err
	}

	var putErr error
	done := make(chan struct{})
	go func() {
		defer close(sink)
		defer close(done)
		putErr = client.Put(ctx, *callerVersion, f)
	}()
	if *quiet || *jsonOut {
		fallbackProgress("", fi.Size(), sink, done)
	} else {
		_ = runProgress(fmt.Sprintf("put %s", restoreKeys[0]), fi.Size(), sink)
		<-done
	}
	if putErr != nil {
		return putErr
	}

	stats := client.Stats()
	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"status":   "ok",
			"key":      restoreKeys[0],
			"bytes":    stats.LastPutBytes,
			"duration": stats.LastPutDuration.Seconds(),
		})
	}
	fmt.Fprintf(os.Stderr, "put key %q, %d bytes in %s\n", restoreKeys[0], stats.LastPutBytes, stats.LastPutDuration)
	return nil
}
