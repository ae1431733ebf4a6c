package orchestrator

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/build"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

func pcpConnectAtom() atom.Atom {
	return atom.ChildU32LE(id4.PCPConnect, 1)
}

func TestHandlePCPNativeRootIngestsBroadcast(t *testing.T) {
	repo := channel.NewRepository(channel.RepositoryConfig{})
	defer repo.Close()

	srv := New(Config{
		ListenAddr:    "127.0.0.1:0",
		SelfSessionID: gnuid.New(),
		RootMode:      true,
		Repository:    repo,
	})

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handlePCPNative(ctx, server)
	}()

	clientSession := gnuid.New()
	broadcastID := gnuid.New()
	helo := build.Helo(clientSession, build.ProtocolVersion, build.HeloOptions{
		BroadcastID: broadcastID, HasBID: true,
	})
	if _, err := client.Write(pcpConnectAtom().Encode()); err != nil {
		t.Fatalf("write connect: %v", err)
	}
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
	root, err := atom.ReadFrom(ctx, client, &buf)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if root.ID() != id4.PCPRoot {
		t.Fatalf("expected PCP_ROOT (root_mode server), got %s", root.ID())
	}
	ok, err := atom.ReadFrom(ctx, client, &buf)
	if err != nil {
		t.Fatalf("read ok: %v", err)
	}
	if ok.ID() != id4.PCPOk {
		t.Fatalf("expected PCP_OK, got %s", ok.ID())
	}

	channelID := gnuid.New()
	ci := model.ChannelInfo{Name: "test channel", Genre: "test"}
	bcst := build.Broadcast(model.Broadcast{
		Group:     id4.BroadcastGroupRoot,
		TTL:       7,
		Hops:      0,
		From:      clientSession,
		ChannelID: channelID,
	}, build.ChannelInfo(ci))
	if _, err := client.Write(bcst.Encode()); err != nil {
		t.Fatalf("write bcst: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if ch := repo.Get(channelID); ch != nil {
			info, _ := ch.Info()
			if info.Name == "test channel" {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatal("channel was never registered from the broadcast")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	client.Close()
	<-done
}
