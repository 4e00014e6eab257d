package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"
)

// Check is a single diagnostic probe, trimmed from the teacher's
// cmd/modfetch/doctor.go Check/CheckResult pattern down to the handful of
// things a cache client actually depends on: config, base URL reachability,
// and token presence.
type Check struct {
	Name string
	Run  func(ctx context.Context) CheckResult
}

type CheckResult struct {
	Passed     bool
	Warning    bool
	Message    string
	Suggestion string
}

func handleDoctor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	baseURL := fs.String("base-url", "", "cache service base URL")
	token := fs.String("token", "", "bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cfgErr := loadCLIConfig(*cfgPath)

	fmt.Println("Running arcache diagnostics...")
	fmt.Println()

	checks := []Check{
		{
			Name: "Config loads",
			Run: func(ctx context.Context) CheckResult {
				if cfgErr != nil {
					return CheckResult{Message: "config load failed", Suggestion: cfgErr.Error()}
				}
				if cfg == nil {
					return CheckResult{Passed: true, Warning: true, Message: "no config file found; relying on flags/env"}
				}
				return CheckResult{Passed: true, Message: "config loaded"}
			},
		},
		{
			Name: "Base URL resolvable",
			Run: func(ctx context.Context) CheckResult {
				base, err := resolveBaseURL(cfg, *baseURL)
				if err != nil {
					return CheckResult{Message: "no base URL configured", Suggestion: err.Error()}
				}
				return CheckResult{Passed: true, Message: base}
			},
		},
		{
			Name: "Token present",
			Run: func(ctx context.Context) CheckResult {
				tok := resolveToken(cfg, *token)
				if tok == "" {
					return CheckResult{Passed: true, Warning: true, Message: "no bearer token set", Suggestion: "set --token, ARCACHE_TOKEN, or cache.token_env"}
				}
				return CheckResult{Passed: true, Message: "token set"}
			},
		},
		{
			Name: "Cache service reachable",
			Run: func(ctx context.Context) CheckResult {
				base, err := resolveBaseURL(cfg, *baseURL)
				if err != nil {
					return CheckResult{Message: "skipped: no base URL"}
				}
				reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base, nil)
				if err != nil {
					return CheckResult{Message: fmt.Sprintf("bad base URL: %v", err)}
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return CheckResult{Message: "unreachable", Suggestion: err.Error()}
				}
				defer resp.Body.Close()
				return CheckResult{Passed: true, Message: fmt.Sprintf("reached (HTTP %d)", resp.StatusCode)}
			},
		},
	}

	failed := 0
	for _, c := range checks {
		r := c.Run(ctx)
		symbol := "✓"
		if !r.Passed {
			symbol = "✗"
			failed++
		} else if r.Warning {
			symbol = "⚠"
		}
		fmt.Printf("%s %s: %s\n", symbol, c.Name, r.Message)
		if r.Suggestion != "" {
			fmt.Printf("  → %s\n", r.Suggestion)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	fmt.Println("all checks passed")
	return nil
}
