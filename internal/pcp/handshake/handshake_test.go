package handshake

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/build"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

// fakeAddr lets tests attach an arbitrary observed remote address to a
// net.Pipe endpoint, which otherwise reports the unhelpful "pipe" address.
type fakeAddr struct{ s string }

func (f fakeAddr) Network() string { return "tcp" }
func (f fakeAddr) String() string  { return f.s }

type addrConn struct {
	net.Conn
	remote net.Addr
}

func (c addrConn) RemoteAddr() net.Addr { return c.remote }

func pipeWithAddr(addr string) (client, server net.Conn) {
	c, s := net.Pipe()
	return c, addrConn{Conn: s, remote: fakeAddr{s: addr}}
}

func pcpConnectAtom() atom.Atom {
	return atom.ChildU32LE(id4.PCPConnect, 1)
}

func TestOutgoingPingAgainstScriptedServer(t *testing.T) {
	client, server := pipeWithAddr("198.51.100.9:7144")
	defer client.Close()
	defer server.Close()

	serverSession := gnuid.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h := New(server, serverSession, server.RemoteAddr())
		connectAtom, err := h.readAtom(context.Background(), time.Second)
		if err != nil || connectAtom.ID() != id4.PCPConnect {
			t.Errorf("server: unexpected connect atom: %v %v", connectAtom, err)
			return
		}
		heloAtom, err := h.readAtom(context.Background(), time.Second)
		if err != nil || heloAtom.ID() != id4.PCPHelo {
			t.Errorf("server: unexpected helo atom: %v %v", heloAtom, err)
			return
		}
		oleh := build.Oleh(serverSession, net.ParseIP("203.0.113.1"), 0)
		if err := h.writeAtoms(time.Second, oleh, build.Quit(id4.QuitAny)); err != nil {
			t.Errorf("server write: %v", err)
		}
	}()

	got, err := OutgoingPing(context.Background(), client, gnuid.New())
	if err != nil {
		t.Fatalf("OutgoingPing: %v", err)
	}
	if got != serverSession {
		t.Fatalf("expected remote session %s, got %s", serverSession, got)
	}
	<-done
}

func TestIncomingPingFullSequence(t *testing.T) {
	client, server := pipeWithAddr("198.51.100.9:9000")
	defer client.Close()
	defer server.Close()

	selfSession := gnuid.New()
	clientSession := gnuid.New()

	resultCh := make(chan IncomingResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := Incoming(context.Background(), server, selfSession, RoleRelay, RootOptions{})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	ch := New(client, clientSession, client.RemoteAddr())
	helo := atom.NewParent(id4.PCPHelo, []atom.Atom{atom.ChildGnuID(id4.PCPHeloSessionID, clientSession)})
	if err := ch.writeAtoms(time.Second, pcpConnectAtom(), helo); err != nil {
		t.Fatalf("write connect/helo: %v", err)
	}

	select {
	case err := <-errCh:
		t.Fatalf("Incoming: %v", err)
	case res := <-resultCh:
		if res.Outcome != IncomingPing {
			t.Fatalf("expected IncomingPing, got %v", res.Outcome)
		}
		if res.Helo.SessionID != clientSession {
			t.Fatalf("session id mismatch: %s", res.Helo.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for incoming handshake")
	}

	oleh, err := ch.readAtom(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("read oleh: %v", err)
	}
	if oleh.ID() != id4.PCPOleh {
		t.Fatalf("expected PCP_OLEH, got %s", oleh.ID())
	}
	quit, err := ch.readAtom(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("read quit: %v", err)
	}
	if quit.ID() != id4.PCPQuit {
		t.Fatalf("expected PCP_QUIT, got %s", quit.ID())
	}
}

func TestIncomingFullHeloWithoutPortcheck(t *testing.T) {
	client, server := pipeWithAddr("198.51.100.9:9001")
	defer client.Close()
	defer server.Close()

	selfSession := gnuid.New()
	clientSession := gnuid.New()
	broadcastID := gnuid.New()

	resultCh := make(chan IncomingResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := Incoming(context.Background(), server, selfSession, RoleRelay, RootOptions{})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	ch := New(client, clientSession, client.RemoteAddr())
	helo := build.Helo(clientSession, build.ProtocolVersion, build.HeloOptions{
		BroadcastID: broadcastID, HasBID: true,
	})
	if err := ch.writeAtoms(time.Second, pcpConnectAtom(), helo); err != nil {
		t.Fatalf("write connect/helo: %v", err)
	}

	oleh, err := ch.readAtom(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("read oleh: %v", err)
	}
	if oleh.ID() != id4.PCPOleh {
		t.Fatalf("expected PCP_OLEH, got %s", oleh.ID())
	}
	ok, err := ch.readAtom(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("read ok: %v", err)
	}
	if ok.ID() != id4.PCPOk {
		t.Fatalf("expected PCP_OK, got %s", ok.ID())
	}

	select {
	case err := <-errCh:
		t.Fatalf("Incoming: %v", err)
	case res := <-resultCh:
		if res.Outcome != IncomingConnected {
			t.Fatalf("expected IncomingConnected, got %v", res.Outcome)
		}
		if res.ConfirmedPort != 0 {
			t.Fatalf("expected unconfirmed port (no PING offered), got %d", res.ConfirmedPort)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}
