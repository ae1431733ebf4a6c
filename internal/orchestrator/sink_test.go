package orchestrator

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

func TestConnSinkRelaysAtomsInOrder(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sink := newConnSink(server, time.Second)
	defer sink.Stop()

	one := atom.ChildU32LE(id4.PCPOk, 1)
	two := atom.ChildU32LE(id4.PCPOk, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.Send(channel.OutboundMessage{Kind: channel.OutboundHead, Atom: one})
		sink.Send(channel.OutboundMessage{Kind: channel.OutboundData, Atom: two})
	}()

	var buf bytes.Buffer
	wantLen := len(one.Encode()) + len(two.Encode())
	chunk := make([]byte, wantLen)
	readAll(t, client, chunk)
	buf.Write(chunk)

	want := append(append([]byte{}, one.Encode()...), two.Encode()...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("relayed bytes mismatch\ngot:  %x\nwant: %x", buf.Bytes(), want)
	}
	<-done
}

func TestConnSinkStopClosesDisconnect(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sink := newConnSink(server, time.Second)
	sink.Stop()

	select {
	case <-sink.Disconnect():
	case <-time.After(time.Second):
		t.Fatal("Disconnect channel never closed after Stop")
	}
}

func TestConnSinkDisconnectsOnWriteError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sink := newConnSink(server, 50*time.Millisecond)
	defer sink.Stop()

	// Closing the peer end causes the next write to fail.
	client.Close()
	server.Close()

	sink.Send(channel.OutboundMessage{Atom: atom.ChildU32LE(id4.PCPOk, 1)})

	select {
	case <-sink.Disconnect():
	case <-time.After(2 * time.Second):
		t.Fatal("sink never reported disconnect after a failed write")
	}
}

func readAll(t *testing.T, r net.Conn, buf []byte) {
	t.Helper()
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		total += n
	}
}
