package handshake

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	pcperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/build"
	"github.com/alxayo/go-rtmp/internal/pcp/decode"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// PullOutcome distinguishes the three terminal shapes of an outgoing
// channel-pull handshake, per spec.md §4.2 "Channel pull (HTTP framing)".
type PullOutcome int

const (
	PullSuccess PullOutcome = iota
	PullNextHost
	PullChannelNotFound
)

// PullResult carries the handshake's outcome and any data it produced.
type PullResult struct {
	Outcome PullOutcome
	Oleh    decode.Oleh
	Hosts   []model.Host
	Quit    *decode.Quit
}

// OutgoingChannelPull dials a peer, requests relay of broadcastID over
// HTTP/1.0 framing, and branches on the response status, grounded in
// BothHandshake::outgoing (original_source src/pcp/procedure/new_handshake.rs).
// It is a method (not a free function) so that callers that go on to
// stream channel data after a PullSuccess can keep using the same
// *PcpHandshake — and therefore its already-buffered leftover bytes — via
// ReadAtom/WriteAtoms instead of re-deriving a fresh reader over the
// connection.
func (h *PcpHandshake) OutgoingChannelPull(ctx context.Context, broadcastID gnuid.GnuId) (PullResult, error) {
	conn := h.conn

	req := fmt.Sprintf("GET /channel/%s HTTP/1.0\r\nx-peercast-pcp: 1\r\n\r\n", broadcastID.String())
	if err := conn.SetWriteDeadline(time.Now().Add(DefaultHandshakeTimeout)); err != nil {
		return PullResult{}, pcperrors.NewHandshakeError("OutgoingChannelPull", err)
	}
	if _, err := conn.Write([]byte(req)); err != nil {
		return PullResult{}, pcperrors.NewHandshakeError("OutgoingChannelPull: write request", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(DefaultHandshakeTimeout)); err != nil {
		return PullResult{}, pcperrors.NewHandshakeError("OutgoingChannelPull", err)
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: "GET"})
	if err != nil {
		return PullResult{}, pcperrors.NewHandshakeError("OutgoingChannelPull: parse response", err)
	}
	defer resp.Body.Close()

	// Anything bufio.Reader already buffered past the header must be fed
	// back into the atom read buffer before we continue reading atoms.
	if n := br.Buffered(); n > 0 {
		leftover := make([]byte, n)
		_, _ = br.Read(leftover)
		h.readBuf.Write(leftover)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		oleh, err := h.sendHeloRecvOleh(ctx, broadcastID)
		if err != nil {
			return PullResult{}, err
		}
		a, err := h.readAtom(ctx, DefaultHandshakeTimeout)
		if err != nil {
			return PullResult{}, err
		}
		if a.IsParent() || a.ID() != id4.PCPOk {
			return PullResult{}, pcperrors.NewHandshakeError("OutgoingChannelPull", fmt.Errorf("expected PCP_OK, got %s", a.ID()))
		}
		return PullResult{Outcome: PullSuccess, Oleh: oleh}, nil

	case http.StatusServiceUnavailable:
		oleh, err := h.sendHeloRecvOleh(ctx, broadcastID)
		if err != nil {
			return PullResult{}, err
		}
		hosts, quit := h.recvHostsAndQuit(ctx)
		return PullResult{Outcome: PullNextHost, Oleh: oleh, Hosts: hosts, Quit: quit}, nil

	case http.StatusNotFound:
		return PullResult{}, &pcperrors.ChannelNotFoundError{ChannelID: broadcastID.String()}

	default:
		return PullResult{}, pcperrors.NewHandshakeError("OutgoingChannelPull", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func (h *PcpHandshake) sendHeloRecvOleh(ctx context.Context, broadcastID gnuid.GnuId) (decode.Oleh, error) {
	helo := build.Helo(h.selfSessionID, build.ProtocolVersion, build.HeloOptions{
		BroadcastID: broadcastID, HasBID: true,
	})
	if err := h.writeAtoms(DefaultHandshakeTimeout, helo); err != nil {
		return decode.Oleh{}, err
	}
	a, err := h.readAtom(ctx, DefaultHandshakeTimeout)
	if err != nil {
		return decode.Oleh{}, err
	}
	if a.ID() != id4.PCPOleh {
		return decode.Oleh{}, pcperrors.NewHandshakeError("sendHeloRecvOleh", fmt.Errorf("expected PCP_OLEH, got %s", a.ID()))
	}
	return decode.DecodeOleh(a)
}

func (h *PcpHandshake) recvHostsAndQuit(ctx context.Context) ([]model.Host, *decode.Quit) {
	var hosts []model.Host
	var quit *decode.Quit
	for i := 0; i < 8; i++ {
		a, err := h.readAtom(ctx, DefaultHandshakeTimeout)
		if err != nil {
			break
		}
		switch a.ID() {
		case id4.PCPHost:
			if host, derr := decode.DecodeHost(a); derr == nil {
				hosts = append(hosts, host)
			}
		case id4.PCPQuit:
			if q, derr := decode.DecodeQuit(a); derr == nil {
				quit = &q
			}
			return hosts, quit
		}
	}
	return hosts, quit
}

// ServeChannelPullOK responds 200 to an already-accepted HTTP request
// (the classifier having confirmed "GET /channel/<id>" with the
// x-peercast-pcp header) and continues the PCP atom handshake as the
// callee: receive HELO, send OLEH (+ROOT), send OK.
func ServeChannelPullOK(ctx context.Context, conn net.Conn, selfSessionID gnuid.GnuId, role Role, root RootOptions) (decode.Helo, error) {
	if _, err := conn.Write([]byte("HTTP/1.0 200 OK\r\n\r\n")); err != nil {
		return decode.Helo{}, pcperrors.NewHandshakeError("ServeChannelPullOK", err)
	}
	h := New(conn, selfSessionID, conn.RemoteAddr())
	heloAtom, err := h.readAtom(ctx, DefaultHandshakeTimeout)
	if err != nil {
		return decode.Helo{}, err
	}
	if heloAtom.ID() != id4.PCPHelo {
		return decode.Helo{}, pcperrors.NewHandshakeError("ServeChannelPullOK", fmt.Errorf("expected PCP_HELO, got %s", heloAtom.ID()))
	}
	helo, err := decode.DecodeHelo(heloAtom)
	if err != nil {
		return decode.Helo{}, pcperrors.NewHandshakeError("ServeChannelPullOK", err)
	}

	toSend := []atom.Atom{build.Oleh(selfSessionID, remoteIP(h.remote), 0)}
	if role == RoleRoot {
		toSend = append(toSend, build.Root(build.RootOptions{
			UpdateInterval:    root.UpdateInterval,
			HasUpdateInterval: true,
			CheckVersion:      root.CheckVersion,
		}))
	}
	toSend = append(toSend, build.Ok(1))
	if err := h.writeAtoms(DefaultHandshakeTimeout, toSend...); err != nil {
		return decode.Helo{}, err
	}
	return helo, nil
}

// ServeChannelPullUnavailable responds 503 and streams up to 8 alternative
// hosts followed by a terminal PCP_QUIT, per spec.md §4.2.
func ServeChannelPullUnavailable(conn net.Conn, selfSessionID gnuid.GnuId, hosts []model.Host, reason id4.QuitCode) error {
	if _, err := conn.Write([]byte("HTTP/1.0 503 Service Unavailable\r\n\r\n")); err != nil {
		return pcperrors.NewHandshakeError("ServeChannelPullUnavailable", err)
	}
	h := New(conn, selfSessionID, conn.RemoteAddr())
	oleh := build.Oleh(selfSessionID, remoteIP(h.remote), 0)
	toSend := []atom.Atom{oleh}
	if len(hosts) > 8 {
		hosts = hosts[:8]
	}
	for _, host := range hosts {
		toSend = append(toSend, build.Host(host))
	}
	toSend = append(toSend, build.Quit(reason))
	return h.writeAtoms(DefaultHandshakeTimeout, toSend...)
}

// ServeChannelPullNotFound responds 404: no such channel on this node.
func ServeChannelPullNotFound(conn net.Conn) error {
	_, err := conn.Write([]byte("HTTP/1.0 404 Not Found\r\n\r\n"))
	if err != nil {
		return pcperrors.NewHandshakeError("ServeChannelPullNotFound", err)
	}
	return nil
}
