// Command peercastd runs a PeerCast-compatible PCP node: an RTMP ingest
// server feeding locally-published streams into the PCP relay network, a
// PCP-multiplexed listener serving native PCP, PCP-over-HTTP channel pull
// and plain-HTTP index surfaces, and the two-level graceful/force shutdown
// sequencing spec.md §4.9 "Process orchestrator" commits to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/alxayo/go-rtmp/internal/config"
	"github.com/alxayo/go-rtmp/internal/flv"
	"github.com/alxayo/go-rtmp/internal/httpapi"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/metrics"
	"github.com/alxayo/go-rtmp/internal/orchestrator"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/handshake"
	"github.com/alxayo/go-rtmp/internal/pcp/relaytask"
	"github.com/alxayo/go-rtmp/internal/rtmp/server"
	"github.com/alxayo/go-rtmp/internal/rtmp/server/hooks"
)

func main() {
	cli, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cli.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cli.logLevel); err != nil {
		fmt.Printf("warning: invalid log level %q, using default\n", cli.logLevel)
	}
	log := logger.Logger().With("component", "peercastd")

	var nodeCfg *config.Config
	if cli.configPath != "" {
		nodeCfg, err = config.Load(cli.configPath)
		if err != nil {
			log.Error("config load failed", "path", cli.configPath, "error", err)
			os.Exit(2)
		}
		if w, err := config.Watch(cli.configPath, log, func(c *config.Config) {
			nodeCfg = c
		}); err != nil {
			log.Warn("config hot-reload disabled", "error", err)
		} else {
			defer w.Close()
		}
	} else {
		nodeCfg = &config.Config{}
	}

	selfSessionID := gnuid.New()
	rootMode := cli.rootMode || nodeCfg.RootMode
	if rootMode && nodeCfg.HasRootSession {
		selfSessionID = nodeCfg.RootSessionID
	}

	met := metrics.New()
	repo := channel.NewRepository(channel.RepositoryConfig{Logger: log})
	defer repo.Close()

	rtmpServer := server.New(server.Config{
		ListenAddr: cli.rtmpAddr,
		LogLevel:   cli.logLevel,
	})

	bridge := orchestrator.NewPublishBridge(repo, rtmpServer.Registry(), log.With("component", "publish-bridge"))
	if hm := rtmpServer.HookManager(); hm != nil {
		if err := hm.RegisterHook(hooks.EventPublishStart, bridge); err != nil {
			log.Error("register publish-start bridge hook", "error", err)
		}
		if err := hm.RegisterHook(hooks.EventPublishStop, bridge); err != nil {
			log.Error("register publish-stop bridge hook", "error", err)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		ListenAddr:          cli.listenAddr,
		SelfSessionID:       selfSessionID,
		RootMode:            rootMode,
		RootOptions:         handshake.RootOptions{UpdateInterval: 300, CheckVersion: 1218},
		MaxConnections:      cli.maxConnections,
		PerIPHandshakeRate:  cli.perIPRate,
		PerIPHandshakeBurst: cli.perIPBurst,
		HTTPHandler:         httpapi.New(repo, rootMode),
		Repository:          repo,
		Metrics:             met,
		Logger:         log,
	})

	lifecycle := orchestrator.NewLifecycle()

	if err := orch.Start(lifecycle.Graceful, rtmpServer); err != nil {
		log.Error("orchestrator start failed", "error", err)
		os.Exit(1)
	}
	var relayTask *relaytask.Task
	if cli.relayChannel != "" {
		relayTask, err = startRelay(context.Background(), cli, selfSessionID, repo, log)
		if err != nil {
			log.Error("relay task not started", "error", err)
		}
	}

	log.Info("peercastd started",
		"version", version,
		"pcp_addr", orch.Addr().String(),
		"rtmp_addr", cli.rtmpAddr,
		"root_mode", rootMode,
		"session_id", selfSessionID.String(),
	)

	escalateWithin, err := time.ParseDuration(cli.forceShutdownDeadline)
	if err != nil || escalateWithin <= 0 {
		escalateWithin = orchestrator.DefaultForceShutdownDeadline
	}
	go lifecycle.Watch(context.Background(), escalateWithin, log)

	<-lifecycle.Graceful.Done()
	log.Info("graceful shutdown starting")

	if relayTask != nil {
		relayTask.Stop()
		<-relayTask.Done()
	}

	if err := orch.Shutdown(lifecycle.Force); err != nil {
		log.Warn("shutdown ended by force deadline", "error", err)
		os.Exit(3)
	}
	log.Info("shutdown complete")
}

// startRelay parses -relay-channel/-relay-root and launches a relaytask.Task
// that pulls the named channel from the upstream root and feeds it into the
// local broker, so peers hitting this node's own channel-pull endpoint see
// the same stream (spec.md §4.4 Relay source task).
func startRelay(ctx context.Context, cli *cliConfig, selfSessionID gnuid.GnuId, repo *channel.Repository, log *slog.Logger) (*relaytask.Task, error) {
	channelID, err := gnuid.ParseHex(cli.relayChannel)
	if err != nil {
		return nil, fmt.Errorf("invalid -relay-channel: %w", err)
	}
	rootAddr, err := net.ResolveTCPAddr("tcp", cli.relayRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid -relay-root: %w", err)
	}

	ch, _ := repo.GetOrCreate(channelID, flv.NewAssembler())
	task := relaytask.New(relaytask.Config{
		ChannelID:     channelID,
		SelfSessionID: selfSessionID,
		RootAddr:      rootAddr,
		Broker:        ch.Broker(),
		Logger:        log.With("component", "relay-task", "channel_id", channelID.String()),
	})
	if !task.Start(ctx) {
		return nil, fmt.Errorf("relay channel %s already has a source attached", channelID.String())
	}
	return task, nil
}
