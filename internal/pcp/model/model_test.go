package model

import (
	"testing"

	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
)

func TestChannelInfoMergeOnlyOverwritesPresentFields(t *testing.T) {
	base := ChannelInfo{Name: "Radio", Genre: "Talk", Bitrate: 128}
	patch := ChannelInfo{Name: "Radio Live"}

	got := base.Merge(patch)

	if got.Name != "Radio Live" {
		t.Fatalf("expected Name overwritten, got %q", got.Name)
	}
	if got.Genre != "Talk" {
		t.Fatalf("expected Genre preserved, got %q", got.Genre)
	}
	if got.Bitrate != 128 {
		t.Fatalf("expected Bitrate preserved, got %d", got.Bitrate)
	}
}

func TestTrackInfoMerge(t *testing.T) {
	base := TrackInfo{Title: "Old", Album: "Album"}
	patch := TrackInfo{Title: "New"}
	got := base.Merge(patch)
	if got.Title != "New" || got.Album != "Album" {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}

func TestHostFlags(t *testing.T) {
	h := Host{Flags1: hostFlagFirewalled | hostFlagRelayFull}
	if !h.IsFirewalled() {
		t.Fatalf("expected firewalled")
	}
	if !h.IsRelayFull() {
		t.Fatalf("expected relay full")
	}
	if h.IsTracker() || h.IsDirectFull() {
		t.Fatalf("unexpected flags set")
	}
}

func TestBroadcastShouldForward(t *testing.T) {
	local := gnuid.New()
	other := gnuid.New()

	b := Broadcast{TTL: 3}
	if !b.ShouldForward(local) {
		t.Fatalf("expected forward when TTL > 0 and no dest")
	}

	expired := Broadcast{TTL: 0}
	if expired.ShouldForward(local) {
		t.Fatalf("expected no forward when TTL exhausted")
	}

	addressed := Broadcast{TTL: 3, Dest: other}
	if addressed.ShouldForward(local) {
		t.Fatalf("expected no forward when addressed elsewhere")
	}

	addressedToSelf := Broadcast{TTL: 3, Dest: local}
	if !addressedToSelf.ShouldForward(local) {
		t.Fatalf("expected forward when addressed to self")
	}
}
