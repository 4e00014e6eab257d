package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

// handleStatus prints the audit journal's recent operations. The journal
// is opened fresh here (internal/audit's non-durable design) and no
// operation runs in this process before it is read, so "status" prints an
// empty journal; it confirms that the journal schema is reachable.
func handleStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	jsonOut := fs.Bool("json", false, "json output")
	limit := fs.Int("limit", 20, "number of recent entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadCLIConfig(*cfgPath)
	if err != nil {
		return err
	}
	_ = cfg

	journal, err := buildJournal()
	if err != nil {
		return err
	}

	entries, err := journal.Recent(*limit)
	if err != nil {
		return err
	}
	summary, err := journal.Summarize()
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"entries": entries, "summary": summary})
	}

	if len(entries) == 0 {
		fmt.Println("no journaled operations in this process")
	}
	for _, e := range entries {
		fmt.Printf("%-8s key=%-20s bytes=%-10s ok=%v  %s\n", e.Op, e.Key, humanize.Bytes(uint64(e.Bytes)), e.Succeeded, e.Detail)
	}
	for _, s := range summary {
		fmt.Printf("summary: %-8s count=%d successes=%d total=%s\n", s.Op, s.Count, s.Successes, humanize.Bytes(uint64(s.TotalBytes)))
	}
	return nil
}
