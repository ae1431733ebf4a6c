package orchestrator

import (
	"context"
	"net"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/decode"
	"github.com/alxayo/go-rtmp/internal/pcp/handshake"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

// rootBroadcastReadTimeout bounds each atom read while a Root node keeps a
// connected tracker client's handshake open to receive further PCP_BCST
// announcements.
const rootBroadcastReadTimeout = 60 * time.Second

// handlePCPNative serves a native (non-HTTP-framed) PCP connection: the
// PCP_CONNECT-sniffed handshake of spec.md §4.2, then -- for a Root node
// whose caller connected to announce a channel -- a loop ingesting the
// PCP_BCST atoms that follow, per spec.md §9's worked Root example
// ("Client then sends one PCP_BCST{...}. Repository creates channel C...").
func (s *Server) handlePCPNative(ctx context.Context, conn net.Conn) {
	result, err := handshake.Incoming(ctx, conn, s.cfg.SelfSessionID, s.role(), s.cfg.RootOptions)
	if err != nil {
		s.log.Debug("pcp handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.Handshake("error")
		}
		return
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Handshake("success")
	}
	if result.Outcome != handshake.IncomingConnected || !s.cfg.RootMode {
		return
	}
	s.rootBroadcastLoop(ctx, result.Handshake)
}

// rootBroadcastLoop keeps reading atoms off an established Root handshake
// until the connection closes or errors, ingesting every PCP_BCST it sees.
func (s *Server) rootBroadcastLoop(ctx context.Context, h *handshake.PcpHandshake) {
	for {
		a, err := h.ReadAtom(ctx, rootBroadcastReadTimeout)
		if err != nil {
			return
		}
		if a.IsParent() && a.ID() == id4.PCPBcst {
			s.ingestBroadcast(a)
		}
	}
}

// ingestBroadcast decodes a PCP_BCST atom and, if it should be forwarded,
// registers or refreshes the announced channel in the repository. Actual
// re-flooding to other peers is out of scope here: this is the single entry
// point where a Root node learns that a channel exists.
func (s *Server) ingestBroadcast(a atom.Atom) {
	bcst, err := decode.DecodeBroadcast(a)
	if err != nil {
		s.log.Debug("discarding malformed PCP_BCST", "error", err)
		return
	}
	if bcst.Envelope.ChannelID.IsNone() || !bcst.Envelope.ShouldForward(s.cfg.SelfSessionID) {
		return
	}

	ch, created := s.cfg.Repository.GetOrCreate(bcst.Envelope.ChannelID, nil)
	if bcst.Payload.ID() == id4.PCPChanInfo {
		if info, err := decode.DecodeChannelInfo(bcst.Payload); err == nil {
			_, track := ch.Info()
			ch.Broker().UpdateChannelInfo(info, track)
		}
	}
	ch.Touch()

	if created {
		s.log.Info("root: learned channel via broadcast", "channel_id", bcst.Envelope.ChannelID.String())
	}
}
