// Package model holds the plain data records exchanged over PCP: channel
// metadata, track metadata, host records and the broadcast envelope.
// Grounded in original_source src/pcp/channel/mod.rs (ChannelInfo/TrackInfo)
// and src/pcp/builder/host.rs (HostInfo).
package model

import (
	"net"

	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

// ChannelInfo describes a channel's broadcast metadata, per spec.md §3.
type ChannelInfo struct {
	Type       string
	Name       string
	Genre      string
	Desc       string
	Comment    string
	URL        string
	StreamType string
	StreamExt  string
	Bitrate    int32
}

// Merge overlays non-zero fields of other onto a copy of ci, matching the
// reference implementation's field-by-field "replace only when present"
// semantics (spec.md §3 "ChannelInfo merge").
func (ci ChannelInfo) Merge(other ChannelInfo) ChannelInfo {
	out := ci
	if other.Type != "" {
		out.Type = other.Type
	}
	if other.Name != "" {
		out.Name = other.Name
	}
	if other.Genre != "" {
		out.Genre = other.Genre
	}
	if other.Desc != "" {
		out.Desc = other.Desc
	}
	if other.Comment != "" {
		out.Comment = other.Comment
	}
	if other.URL != "" {
		out.URL = other.URL
	}
	if other.StreamType != "" {
		out.StreamType = other.StreamType
	}
	if other.StreamExt != "" {
		out.StreamExt = other.StreamExt
	}
	if other.Bitrate != 0 {
		out.Bitrate = other.Bitrate
	}
	return out
}

// TrackInfo describes the currently playing track, per spec.md §3.
type TrackInfo struct {
	Title   string
	Creator string
	URL     string
	Album   string
	Genre   string
}

// Merge overlays non-zero fields of other onto a copy of ti.
func (ti TrackInfo) Merge(other TrackInfo) TrackInfo {
	out := ti
	if other.Title != "" {
		out.Title = other.Title
	}
	if other.Creator != "" {
		out.Creator = other.Creator
	}
	if other.URL != "" {
		out.URL = other.URL
	}
	if other.Album != "" {
		out.Album = other.Album
	}
	if other.Genre != "" {
		out.Genre = other.Genre
	}
	return out
}

// Host is a peer record as gossiped in PCP_HOST atoms, grounded in
// original_source/libpeercast-re/src/pcp/builder/host.rs's HostInfo.
type Host struct {
	SessionID gnuid.GnuId
	ChannelID gnuid.GnuId

	// GlobalIP/Port is the host's public-facing address; LocalIP/Port is
	// the address on its own interface. PCP_HOST carries at most two
	// (IP, PORT) pairs — the reference implementation treats the last
	// popped pair as local and the second-to-last as global (see
	// original_source/libpeercast-re/src/pcp/builder/host.rs).
	GlobalIP   net.IP
	GlobalPort uint16
	LocalIP    net.IP
	LocalPort  uint16

	NumListeners uint32
	NumRelays    uint32
	Uptime       uint32
	Version      uint32
	VersionVP    uint8
	VersionExPrefix id4.Id4
	VersionExNumber uint16
	Flags1       uint8
	OldPos       uint32
	NewPos       uint32
	// UphostIP/Port/Hops identify the next hop a relay tree member was
	// discovered through, used for mesh diagnostics (spec.md §10 supplement).
	UphostIP   net.IP
	UphostPort uint16
	UphostHops uint8
}

// IsFirewalled reports the "connection refused from outside" bit, per
// spec.md §3 Host flags.
const hostFlagFirewalled = 0x01

// IsFirewalled reports whether this host's FLAGS1 marks it firewalled.
func (h Host) IsFirewalled() bool { return h.Flags1&hostFlagFirewalled != 0 }

// IsTracker reports the "tracker (root)" bit in FLAGS1.
const hostFlagTracker = 0x02

// IsTracker reports whether this host advertises itself as a root/tracker.
func (h Host) IsTracker() bool { return h.Flags1&hostFlagTracker != 0 }

// IsRelayFull reports the "relay full, do not forward here" bit in FLAGS1.
const hostFlagRelayFull = 0x04

// IsRelayFull reports whether this host has no relay capacity left.
func (h Host) IsRelayFull() bool { return h.Flags1&hostFlagRelayFull != 0 }

// IsDirectFull reports the "direct (player) full" bit in FLAGS1.
const hostFlagDirectFull = 0x08

// IsDirectFull reports whether this host has no direct-viewer capacity left.
func (h Host) IsDirectFull() bool { return h.Flags1&hostFlagDirectFull != 0 }

// Broadcast is the envelope carried by a PCP_BCST atom: a payload atom plus
// the routing metadata controlling hop-count/TTL-bounded flooding (spec.md
// §3, §4.5).
type Broadcast struct {
	Group           id4.BroadcastGroup
	TTL             uint8
	Hops            uint8
	From            gnuid.GnuId
	Dest            gnuid.GnuId // None when not addressed to a single session
	ChannelID       gnuid.GnuId
	Version         uint32
	VersionVP       uint8
	VersionExPrefix id4.Id4
	VersionExNumber uint16
}

// ShouldForward reports whether this broadcast should be re-flooded to
// other peers: it hasn't exceeded its TTL and isn't addressed to a single
// session other than the local one (spec.md §4.5 "broadcast forwarding").
func (b Broadcast) ShouldForward(localSessionID gnuid.GnuId) bool {
	if b.TTL == 0 {
		return false
	}
	if !b.Dest.IsNone() && b.Dest != localSessionID {
		return false
	}
	return true
}
