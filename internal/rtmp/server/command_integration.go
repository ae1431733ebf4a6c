package server

// Command Integration (Incremental Wiring)
// ---------------------------------------
// This file bridges the lower-level connection (handshake + control +
// chunking read/write loops) with the existing RPC command parsing and
// handlers so that real RTMP clients (OBS / ffmpeg) can complete the
// connect → createStream → publish sequence.
//
// Scope (minimal, pragmatic):
//   * Per-connection state: application name (from connect), stream id
//     allocator for createStream responses.
//   * Dispatch handling for: connect, createStream, publish, play.
//   * Unknown commands ignored by dispatcher.
//   * Errors are logged; fatal protocol errors currently just logged (a
//     future enhancement can close the connection or send _error responses).
//
// This unlocks basic interoperability with standard broadcasters which
// expect the canonical responses:
//   - _result for connect (NetConnection.Connect.Success)
//   - _result for createStream returning stream id (1)
//   - onStatus NetStream.Publish.Start after publish
//
// Audio/video messages received after publish are counted by the
// MediaLogger and broadcast to the stream's subscribers via the registry.

import (
	"log/slog"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	iconn "github.com/alxayo/go-rtmp/internal/rtmp/conn"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
	"github.com/alxayo/go-rtmp/internal/rtmp/server/hooks"
)

// commandState holds mutable per-connection fields needed by handlers.
type commandState struct {
	app           string
	streamKey     string // current publishing stream key
	publishing    bool   // true once OnPublish has registered this connection as a publisher
	allocator     *rpc.StreamIDAllocator
	mediaLogger   *MediaLogger
	codecDetector *media.CodecDetector
}

// attachCommandHandling installs a dispatcher-backed message handler on the
// provided connection. Safe to call immediately after Accept returns.
// srv is threaded through for hook-event triggering and may be nil (hooks
// disabled).
func attachCommandHandling(c *iconn.Connection, reg *Registry, cfg *Config, log *slog.Logger, srv *Server) {
	if c == nil || reg == nil || cfg == nil {
		return
	}
	st := &commandState{
		allocator:     rpc.NewStreamIDAllocator(),
		mediaLogger:   NewMediaLogger(c.ID(), log, 30*time.Second),
		codecDetector: &media.CodecDetector{},
	}

	d := rpc.NewDispatcher(func() string { return st.app })

	d.OnConnect = func(cc *rpc.ConnectCommand, msg *chunk.Message) error {
		log.Debug("OnConnect handler invoked", "app", cc.App, "tcUrl", cc.TcURL, "txn_id", cc.TransactionID)
		// Persist app for subsequent publish/play parsing.
		st.app = cc.App
		log.Debug("building connect response", "txn_id", cc.TransactionID)
		resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
		if err != nil {
			log.Error("connect response build failed", "error", err)
			return nil // swallow errors to keep connection alive for now
		}
		// Debug: log first 64 bytes of response payload
		previewLen := 64
		if len(resp.Payload) < previewLen {
			previewLen = len(resp.Payload)
		}
		log.Debug("connect response payload preview", "bytes", resp.Payload[:previewLen])
		log.Debug("sending connect response", "txn_id", cc.TransactionID, "payload_len", len(resp.Payload))
		if err := c.SendMessage(resp); err != nil {
			log.Error("connect response send failed", "error", err)
		} else {
			log.Info("connect response sent successfully", "app", cc.App)
		}
		return nil // swallow errors to keep connection alive for now
	}

	d.OnCreateStream = func(cs *rpc.CreateStreamCommand, msg *chunk.Message) error {
		log.Debug("OnCreateStream handler invoked", "txn_id", cs.TransactionID)
		resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, st.allocator)
		if err != nil {
			log.Error("createStream response build failed", "error", err)
			return nil
		}
		log.Debug("createStream response built", "stream_id", streamID, "payload_len", len(resp.Payload))
		if err := c.SendMessage(resp); err != nil {
			log.Error("createStream response send failed", "error", err)
		} else {
			log.Info("createStream response sent successfully", "stream_id", streamID, "txn_id", cs.TransactionID)
		}

		// Send UserControl StreamBegin to signal stream is ready
		streamBegin := control.EncodeUserControlStreamBegin(streamID)
		if err := c.SendMessage(streamBegin); err != nil {
			log.Error("StreamBegin send failed", "error", err, "stream_id", streamID)
		} else {
			log.Info("StreamBegin sent", "stream_id", streamID)
		}
		return nil
	}

	d.OnPublish = func(pc *rpc.PublishCommand, msg *chunk.Message) error {
		// Delegate to existing publish handler (sends onStatus internally).
		if _, err := HandlePublish(reg, c, st.app, msg); err != nil {
			log.Error("publish handle", "error", err)
			return nil
		}

		// Track stream key for this connection
		st.streamKey = pc.StreamKey
		st.publishing = true

		srv.triggerHookEvent(hooks.EventPublishStart, c.ID(), pc.StreamKey, map[string]interface{}{
			"app": st.app,
		})

		return nil
	}

	d.OnPlay = func(pl *rpc.PlayCommand, msg *chunk.Message) error {
		// Delegate to existing play handler (sends onStatus internally).
		if _, err := HandlePlay(reg, c, st.app, msg); err != nil {
			log.Error("play handle", "error", err)
			return nil
		}

		// Track stream key for this connection
		st.streamKey = pl.StreamKey

		return nil
	}

	c.SetCloseHandler(func() {
		if !st.publishing {
			return
		}
		PublisherDisconnected(reg, st.streamKey, c)
		srv.triggerHookEvent(hooks.EventPublishStop, c.ID(), st.streamKey, map[string]interface{}{
			"app": st.app,
		})
	})

	c.SetMessageHandler(func(m *chunk.Message) {
		if m == nil {
			return
		}

		log.Debug("message handler invoked", "type_id", m.TypeID, "msid", m.MessageStreamID, "len", len(m.Payload))

		// Process media packets (audio/video) through MediaLogger
		if m.TypeID == 8 || m.TypeID == 9 {
			st.mediaLogger.ProcessMessage(m)

			// Broadcast to all subscribers (relay functionality)
			if st.streamKey != "" {
				stream := reg.GetStream(st.streamKey)
				if stream != nil {
					stream.BroadcastMessage(st.codecDetector, m, log)
				}
			}

			return // Media packets don't need command dispatch
		}

		if m.TypeID != rpc.CommandMessageAMF0TypeIDForTest() {
			log.Debug("skipping non-command message", "type_id", m.TypeID)
			return
		}
		log.Debug("dispatching command message", "type_id", m.TypeID)
		if err := d.Dispatch(m); err != nil {
			log.Error("dispatch error", "error", err)
		}
	})
}
