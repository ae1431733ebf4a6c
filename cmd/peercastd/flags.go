package main

import (
	"errors"
	"flag"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values. Of the on-disk config file,
// main applies only root_mode (ORed with -root) and root_session_id. The
// listen addresses come from -listen and -rtmp-listen alone: the file's
// server_address, server_port and rtmp_port keys are parsed but not used to
// bind any listener.
type cliConfig struct {
	configPath string
	listenAddr string
	rtmpAddr   string
	logLevel   string
	rootMode   bool

	forceShutdownDeadline string
	maxConnections        int
	perIPRate             float64
	perIPBurst            int

	relayChannel string
	relayRoot    string

	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("peercastd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "", "Path to INI config file ([Server]/[Privacy]/[Root] sections)")
	fs.StringVar(&cfg.listenAddr, "listen", ":7144", "PCP-multiplexed listen address (native PCP, channel pull, index HTTP)")
	fs.StringVar(&cfg.rtmpAddr, "rtmp-listen", ":1935", "RTMP ingest listen address")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.rootMode, "root", false, "Run as a PCP root/tracker node")
	fs.StringVar(&cfg.forceShutdownDeadline, "shutdown-deadline", "60s", "Window after graceful shutdown before a repeat signal forces exit")
	fs.IntVar(&cfg.maxConnections, "max-connections", 0, "Cap concurrent PCP-listener connections (0 = unlimited)")
	fs.Float64Var(&cfg.perIPRate, "per-ip-rate", 0, "Cap connection attempts/sec from a single remote IP (0 = unlimited)")
	fs.IntVar(&cfg.perIPBurst, "per-ip-burst", 5, "Burst capacity for -per-ip-rate")
	fs.StringVar(&cfg.relayChannel, "relay-channel", "", "Channel id (32 hex chars) to pull as a Relay source; requires -relay-root")
	fs.StringVar(&cfg.relayRoot, "relay-root", "", "host:port of the upstream root/relay to pull -relay-channel from")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid -log-level")
	}

	if (cfg.relayChannel == "") != (cfg.relayRoot == "") {
		return nil, errors.New("-relay-channel and -relay-root must be set together")
	}

	return cfg, nil
}
