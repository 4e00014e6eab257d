package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// handleKeys fuzzy-ranks candidate cache keys against a partial query.
// Candidates are the keys in the audit journal plus the key/restore-keys
// from the ambient config. The journal is opened fresh here and is
// per-process, so it holds no keys from earlier "arcache get"/"arcache put"
// invocations; in practice the candidates are the configured keys.
func handleKeys(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("keys", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: arcache keys <query>")
	}
	query := fs.Arg(0)

	cfg, err := loadCLIConfig(*cfgPath)
	if err != nil {
		return err
	}

	journal, err := buildJournal()
	if err != nil {
		return err
	}
	entries, err := journal.Recent(1000)
	if err != nil {
		return err
	}

	seen := map[string]struct{}{}
	var candidates []string
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		if _, ok := seen[e.Key]; ok {
			continue
		}
		seen[e.Key] = struct{}{}
		candidates = append(candidates, e.Key)
	}
	if cfg != nil {
		for _, k := range append([]string{cfg.Cache.Key}, cfg.Cache.RestoreKeys...) {
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			candidates = append(candidates, k)
		}
	}

	matches := fuzzy.RankFindFold(query, candidates)
	if len(matches) == 0 {
		fmt.Println("no matching keys")
		return nil
	}
	sort.Sort(matches)
	for _, m := range matches {
		fmt.Println(m.Target)
	}
	return nil
}
