package orchestrator

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/handshake"
)

// sinkWriteTimeout bounds each write to a channel-pull subscriber; a write
// that doesn't clear within it is treated as a dead peer.
const sinkWriteTimeout = 5 * time.Second

// handlePCPChannelPull serves the PCP-over-HTTP channel pull surface --
// "GET /channel/<gnuid-hex32>" with "x-peercast-pcp: 1" -- that
// internal/classify identified for this connection, per spec.md §4.2
// "Channel pull (HTTP framing)" and §6's listed HTTP surface.
func (s *Server) handlePCPChannelPull(ctx context.Context, conn net.Conn) {
	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		s.log.Debug("channel pull: malformed request", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	defer req.Body.Close()

	id, ok := channelIDFromPath(req.URL.Path)
	if !ok {
		_ = handshake.ServeChannelPullNotFound(conn)
		return
	}

	ch := s.cfg.Repository.Get(id)
	if ch == nil {
		_ = handshake.ServeChannelPullNotFound(conn)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Handshake("channel_not_found")
		}
		return
	}

	helo, err := handshake.ServeChannelPullOK(ctx, conn, s.cfg.SelfSessionID, s.role(), s.cfg.RootOptions)
	if err != nil {
		s.log.Debug("channel pull: handshake failed", "channel_id", id.String(), "error", err)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Handshake("error")
		}
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Handshake("success")
	}

	connID := helo.SessionID
	if connID.IsNone() {
		connID = gnuid.New()
	}

	sink := newConnSink(conn, sinkWriteTimeout)
	defer sink.Stop()

	// A pulling peer that advertises its own listening port in PCP_HELO
	// intends to re-serve the channel to further downstream peers; one
	// with no port is just watching (spec.md's is_relay | is_direct Host
	// flag pair, surfaced per-channel via /index.txt's relay-count and
	// listener-count fields).
	role := channel.RoleDirect
	if helo.HasPort {
		role = channel.RoleRelay
	}

	ch.Broker().NewConnection(connID, sink, sink.Disconnect(), role)
	ch.Touch()

	select {
	case <-ctx.Done():
	case <-sink.Disconnect():
	}
}

// channelIDFromPath extracts the 32-hex-character channel id from a
// "/channel/<id>" request path.
func channelIDFromPath(path string) (gnuid.GnuId, bool) {
	const prefix = "/channel/"
	if !strings.HasPrefix(path, prefix) {
		return gnuid.GnuId{}, false
	}
	id, err := gnuid.ParseHex(strings.TrimPrefix(path, prefix))
	if err != nil {
		return gnuid.GnuId{}, false
	}
	return id, true
}
