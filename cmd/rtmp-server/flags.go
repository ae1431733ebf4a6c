package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into server.Config
// so main.go can validate and map.
type cliConfig struct {
	listenAddr  string
	logLevel    string
	chunkSize   uint
	showVersion bool
	// Hook manager tuning (hooks are registered programmatically, e.g. by the
	// PCP publish bridge; these flags only control execution concurrency).
	hookTimeout     string // timeout duration (e.g. "30s")
	hookConcurrency int    // max concurrent hook executions
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("rtmp-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVar(&cfg.listenAddr, "listen", ":1935", "TCP listen address (e.g. :1935 or 0.0.0.0:1935)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.UintVar(&cfg.chunkSize, "chunk-size", 4096, "Initial outbound chunk size")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	fs.StringVar(&cfg.hookTimeout, "hook-timeout", "30s", "Timeout for hook execution")
	fs.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.chunkSize == 0 || cfg.chunkSize > 65536 {
		return nil, errors.New("chunk-size must be between 1 and 65536")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.hookConcurrency < 1 || cfg.hookConcurrency > 100 {
		return nil, fmt.Errorf("hook-concurrency must be between 1 and 100, got %d", cfg.hookConcurrency)
	}
	if _, err := parseTimeDuration(cfg.hookTimeout); err != nil {
		return nil, fmt.Errorf("invalid hook-timeout %q: %w", cfg.hookTimeout, err)
	}

	return cfg, nil
}

// parseTimeDuration parses a duration string (handles common formats)
func parseTimeDuration(s string) (string, error) {
	// Simple validation - just check if it looks like a duration
	if len(s) < 2 {
		return "", fmt.Errorf("duration too short")
	}

	// Check suffix
	suffix := s[len(s)-1:]
	if suffix != "s" && suffix != "m" && suffix != "h" {
		return "", fmt.Errorf("duration must end with s, m, or h")
	}

	return s, nil
}
