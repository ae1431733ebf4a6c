package orchestrator

import (
	"context"
	"crypto/sha1"
	"log/slog"
	"sync"

	"github.com/alxayo/go-rtmp/internal/flv"
	"github.com/alxayo/go-rtmp/internal/pcp/broadcasttask"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/rtmp/server"
	"github.com/alxayo/go-rtmp/internal/rtmp/server/hooks"
)

// PublishBridge is a hooks.Hook that maps RTMP publish_start/publish_stop
// events onto PCP broadcast channels, so publishing to the RTMP ingest
// server is all an operator needs to do to make a stream available over
// PCP -- no separate channel-registration step.
//
// PublishBridge starts an in-process broadcasttask.Task off the
// hooks.Hook interface (internal/rtmp/server/hooks). Reuses the existing EventPublishStart/EventPublishStop wiring
// added to internal/rtmp/server/command_integration.go rather than adding a
// second notification path alongside it.
type PublishBridge struct {
	repository *channel.Repository
	registry   *server.Registry
	logger     *slog.Logger

	mu    sync.Mutex
	tasks map[string]*broadcasttask.Task
}

// NewPublishBridge constructs a PublishBridge. Register it on an RTMP
// server's HookManager for both EventPublishStart and EventPublishStop.
func NewPublishBridge(repository *channel.Repository, registry *server.Registry, logger *slog.Logger) *PublishBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishBridge{
		repository: repository,
		registry:   registry,
		logger:     logger,
		tasks:      make(map[string]*broadcasttask.Task),
	}
}

// Type implements hooks.Hook.
func (b *PublishBridge) Type() string { return "pcp-publish-bridge" }

// ID implements hooks.Hook.
func (b *PublishBridge) ID() string { return "pcp-publish-bridge" }

// Execute implements hooks.Hook.
func (b *PublishBridge) Execute(ctx context.Context, event hooks.Event) error {
	switch event.Type {
	case hooks.EventPublishStart:
		b.start(ctx, event.StreamKey)
	case hooks.EventPublishStop:
		b.stop(event.StreamKey)
	}
	return nil
}

func (b *PublishBridge) start(ctx context.Context, streamKey string) {
	if streamKey == "" {
		return
	}

	b.mu.Lock()
	if _, exists := b.tasks[streamKey]; exists {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	channelID := channelIDForStreamKey(streamKey)
	ch, _ := b.repository.GetOrCreate(channelID, flv.NewAssembler())

	task := broadcasttask.New(broadcasttask.Config{
		ChannelID: channelID,
		StreamKey: streamKey,
		Registry:  b.registry,
		Broker:    ch.Broker(),
		Logger:    b.logger.With("channel_id", channelID.String(), "stream_key", streamKey),
	})
	if !task.Start(ctx) {
		b.logger.Warn("publish bridge: channel already has a source", "channel_id", channelID.String(), "stream_key", streamKey)
		return
	}

	b.mu.Lock()
	b.tasks[streamKey] = task
	b.mu.Unlock()

	b.logger.Info("publish bridge: broadcasting", "channel_id", channelID.String(), "stream_key", streamKey)
}

func (b *PublishBridge) stop(streamKey string) {
	b.mu.Lock()
	task, ok := b.tasks[streamKey]
	if ok {
		delete(b.tasks, streamKey)
	}
	b.mu.Unlock()
	if ok {
		task.Stop()
	}
}

// channelIDForStreamKey derives a stable GnuId from an RTMP stream key by
// hashing it, so the same key always maps to the same PCP channel id across
// restarts. RTMP stream keys are operator-chosen strings with no relation
// to PCP's 128-bit channel id space, so some deterministic mapping is
// needed; hashing avoids requiring operators to hand-configure one.
func channelIDForStreamKey(streamKey string) gnuid.GnuId {
	sum := sha1.Sum([]byte(streamKey))
	return gnuid.FromBytes(sum[:16])
}
