package build

import (
	"net"
	"testing"

	"github.com/alxayo/go-rtmp/internal/pcp/decode"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

func TestHeloBuildDecodeRoundTrip(t *testing.T) {
	sid := gnuid.New()
	bid := gnuid.New()
	a := Helo(sid, ProtocolVersion, HeloOptions{
		BroadcastID: bid, HasBID: true,
		Port: 7144, HasPort: true,
		PingPort: 7145, HasPing: true,
	})
	h, err := decode.DecodeHelo(a)
	if err != nil {
		t.Fatalf("DecodeHelo: %v", err)
	}
	if h.SessionID != sid || h.BroadcastID != bid {
		t.Fatalf("id mismatch")
	}
	if h.Version != ProtocolVersion || !h.HasPort || h.Port != 7144 || !h.HasPing || h.PingPort != 7145 {
		t.Fatalf("unexpected decoded helo: %+v", h)
	}
}

func TestOlehBuildDecodeRoundTrip(t *testing.T) {
	sid := gnuid.New()
	ip := net.ParseIP("198.51.100.7")
	a := Oleh(sid, ip, 7144)
	o, err := decode.DecodeOleh(a)
	if err != nil {
		t.Fatalf("DecodeOleh: %v", err)
	}
	if o.SessionID != sid || o.Port != 7144 || !o.RemoteIP.Equal(ip) {
		t.Fatalf("oleh mismatch: %+v", o)
	}
}

func TestQuitBuildDecodeRoundTrip(t *testing.T) {
	a := Quit(id4.QuitConnection)
	q, err := decode.DecodeQuit(a)
	if err != nil {
		t.Fatalf("DecodeQuit: %v", err)
	}
	if q.Code != id4.QuitConnection {
		t.Fatalf("expected QuitConnection, got %v", q.Code)
	}
}

func TestHostBuildDecodeRoundTrip(t *testing.T) {
	h := model.Host{
		SessionID:    gnuid.New(),
		GlobalIP:     net.ParseIP("203.0.113.5"),
		GlobalPort:   7144,
		LocalIP:      net.ParseIP("192.168.1.5"),
		LocalPort:    7145,
		NumListeners: 3,
		NumRelays:    2,
		Flags1:       0x01,
	}
	a := Host(h)
	got, err := decode.DecodeHost(a)
	if err != nil {
		t.Fatalf("DecodeHost: %v", err)
	}
	if got.SessionID != h.SessionID {
		t.Fatalf("session id mismatch")
	}
	if !got.GlobalIP.Equal(h.GlobalIP) || got.GlobalPort != h.GlobalPort {
		t.Fatalf("global addr mismatch: %+v", got)
	}
	if !got.LocalIP.Equal(h.LocalIP) || got.LocalPort != h.LocalPort {
		t.Fatalf("local addr mismatch: %+v", got)
	}
	if got.NumListeners != 3 || got.NumRelays != 2 {
		t.Fatalf("counts mismatch: %+v", got)
	}
	if !got.IsFirewalled() {
		t.Fatalf("expected firewalled flag preserved")
	}
}

func TestChannelInfoBuildDecodeRoundTrip(t *testing.T) {
	ci := model.ChannelInfo{Name: "Test", Genre: "Talk", Bitrate: 128, StreamType: "FLV"}
	a := ChannelInfo(ci)
	got, err := decode.DecodeChannelInfo(a)
	if err != nil {
		t.Fatalf("DecodeChannelInfo: %v", err)
	}
	if got != ci {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, ci)
	}
}

func TestChannelHeadAndDataBuild(t *testing.T) {
	chID := gnuid.New()
	ci := model.ChannelInfo{Name: "Test"}
	ti := model.TrackInfo{Title: "Song"}
	head := ChannelHead(chID, 0, ci, ti, []byte{1, 2, 3})
	cp, err := decode.DecodeChannelPacket(head)
	if err != nil {
		t.Fatalf("DecodeChannelPacket(head): %v", err)
	}
	if cp.Type != decode.ChanPktHead || cp.ChannelID != chID {
		t.Fatalf("unexpected head packet: %+v", cp)
	}
	if cp.Info == nil || cp.Info.Name != "Test" || cp.Track == nil || cp.Track.Title != "Song" {
		t.Fatalf("expected info/track carried in head packet")
	}

	data := ChannelData(chID, 1, []byte{4, 5, 6}, true)
	cp2, err := decode.DecodeChannelPacket(data)
	if err != nil {
		t.Fatalf("DecodeChannelPacket(data): %v", err)
	}
	if cp2.Type != decode.ChanPktData || cp2.Pos != 1 || !cp2.Continuation {
		t.Fatalf("unexpected data packet: %+v", cp2)
	}
}

func TestBroadcastBuildDecodeRoundTrip(t *testing.T) {
	env := model.Broadcast{
		Group:     id4.BroadcastGroupAll,
		TTL:       7,
		Hops:      1,
		From:      gnuid.New(),
		ChannelID: gnuid.New(),
		Version:   ProtocolVersion,
	}
	inner := Ok(1)
	a := Broadcast(env, inner)
	b, err := decode.DecodeBroadcast(a)
	if err != nil {
		t.Fatalf("DecodeBroadcast: %v", err)
	}
	if b.Envelope.TTL != 7 || b.Envelope.From != env.From || b.Envelope.ChannelID != env.ChannelID {
		t.Fatalf("envelope mismatch: %+v", b.Envelope)
	}
	if b.Payload.ID() != id4.PCPOk {
		t.Fatalf("expected forwarded PCP_OK payload, got %v", b.Payload.ID())
	}
}
