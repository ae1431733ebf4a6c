package orchestrator

import (
	"context"
	"net"

	"github.com/alxayo/go-rtmp/internal/classify"
)

// handleConn classifies one accepted connection and routes it to the
// matching handler, per spec.md §4.9 "classify the stream, dispatch to the
// appropriate handler". graceful is observed by every handler so in-flight
// work winds down (rather than aborts) once shutdown begins.
func (s *Server) handleConn(graceful context.Context, conn net.Conn) {
	defer conn.Close()

	proto, classified, err := classify.Classify(graceful, conn, s.cfg.ClassifyDeadline)
	if err != nil {
		s.log.Debug("classify failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectionOpened(proto.String())
		defer s.cfg.Metrics.ConnectionClosed(proto.String())
	}

	switch proto {
	case classify.PeerCast:
		s.handlePCPNative(graceful, classified)
	case classify.PeerCastHTTP:
		s.handlePCPChannelPull(graceful, classified)
	case classify.HTTP:
		s.handlePlainHTTP(classified)
	default:
		s.log.Debug("unclassified connection", "remote", conn.RemoteAddr().String())
	}
}
