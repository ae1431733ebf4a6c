package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/build"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

func newTestServer(repo *channel.Repository) *Server {
	return New(Config{
		ListenAddr:    "127.0.0.1:0",
		SelfSessionID: gnuid.New(),
		Repository:    repo,
	})
}

func TestHandlePCPChannelPullNotFound(t *testing.T) {
	repo := channel.NewRepository(channel.RepositoryConfig{})
	defer repo.Close()
	srv := newTestServer(repo)

	client, server := net.Pipe()
	defer client.Close()

	go srv.handlePCPChannelPull(context.Background(), server)

	req := fmt.Sprintf("GET /channel/%s HTTP/1.1\r\nHost: x\r\nx-peercast-pcp: 1\r\n\r\n", gnuid.New().String())
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandlePCPChannelPullSuccess(t *testing.T) {
	repo := channel.NewRepository(channel.RepositoryConfig{})
	defer repo.Close()
	srv := newTestServer(repo)

	id := gnuid.New()
	repo.GetOrCreate(id, nil)

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.handlePCPChannelPull(ctx, server)

	req := fmt.Sprintf("GET /channel/%s HTTP/1.1\r\nHost: x\r\nx-peercast-pcp: 1\r\n\r\n", id.String())
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	status := readHTTPStatusLine(t, client)
	if status != "HTTP/1.0 200 OK" {
		t.Fatalf("status line = %q, want HTTP/1.0 200 OK", status)
	}

	clientSessionID := gnuid.New()
	helo := build.Helo(clientSessionID, build.ProtocolVersion, build.HeloOptions{BroadcastID: id, HasBID: true})
	if _, err := client.Write(helo.Encode()); err != nil {
		t.Fatalf("write helo: %v", err)
	}

	var buf bytes.Buffer
	oleh, err := atom.ReadFrom(ctx, client, &buf)
	if err != nil {
		t.Fatalf("read oleh: %v", err)
	}
	if oleh.ID() != id4.PCPOleh {
		t.Fatalf("expected PCP_OLEH, got %s", oleh.ID())
	}
	ok, err := atom.ReadFrom(ctx, client, &buf)
	if err != nil {
		t.Fatalf("read ok: %v", err)
	}
	if ok.ID() != id4.PCPOk {
		t.Fatalf("expected PCP_OK, got %s", ok.ID())
	}

	client.Close()
}

func readHTTPStatusLine(t *testing.T, r io.Reader) string {
	t.Helper()
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	// Consume the trailing blank line terminating the header block.
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("read trailing CRLF: %v", err)
	}
	return trimCRLF(line)
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func TestChannelIDFromPath(t *testing.T) {
	id := gnuid.New()
	got, ok := channelIDFromPath("/channel/" + id.String())
	if !ok {
		t.Fatal("expected ok=true for a valid path")
	}
	if got != id {
		t.Fatalf("got %s, want %s", got.String(), id.String())
	}

	if _, ok := channelIDFromPath("/index.txt"); ok {
		t.Fatal("expected ok=false for a non-channel path")
	}
	if _, ok := channelIDFromPath("/channel/not-hex"); ok {
		t.Fatal("expected ok=false for a malformed channel id")
	}
}
