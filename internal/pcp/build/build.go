// Package build assembles outgoing PCP atoms. Grounded in
// original_source src/pcp/builder/{hello,oleh,quit,ok,root,track_info}.rs,
// whose builder-pattern structs this package generalizes into plain
// constructor functions returning atom.Atom values.
package build

import (
	"net"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// Agent identifies this node in outgoing PCP_HELO/PCP_OLEH atoms.
var Agent = "peercastd/1.0"

// HeloOptions configures Helo's optional fields, mirroring HelloBuilder's
// builder-pattern .port()/.ping() calls (original_source
// src/pcp/builder/hello.rs).
type HeloOptions struct {
	BroadcastID gnuid.GnuId
	HasBID      bool
	Port        uint16
	HasPort     bool
	PingPort    uint16
	HasPing     bool
}

// Helo builds an outgoing PCP_HELO atom.
func Helo(sessionID gnuid.GnuId, version uint32, opts HeloOptions) atom.Atom {
	children := []atom.Atom{
		atom.ChildString(id4.PCPHeloAgent, Agent),
		atom.ChildU32LE(id4.PCPHeloVersion, version),
		atom.ChildGnuID(id4.PCPHeloSessionID, sessionID),
	}
	if opts.HasBID {
		children = append(children, atom.ChildGnuID(id4.PCPHeloBcID, opts.BroadcastID))
	}
	if opts.HasPort {
		children = append(children, atom.ChildU16LE(id4.PCPHeloPort, opts.Port))
	}
	if opts.HasPing {
		children = append(children, atom.ChildU16LE(id4.PCPHeloPing, opts.PingPort))
	}
	return atom.NewParent(id4.PCPHelo, children)
}

// Oleh builds an outgoing PCP_OLEH handshake reply, grounded in
// OlehBuilder::build (original_source src/pcp/builder/oleh.rs).
func Oleh(sessionID gnuid.GnuId, remoteIP net.IP, remotePort uint16) atom.Atom {
	ipChild := ipChild(id4.PCPHeloRemoteIP, remoteIP)
	return atom.NewParent(id4.PCPOleh, []atom.Atom{
		atom.ChildString(id4.PCPHeloAgent, Agent),
		atom.ChildGnuID(id4.PCPHeloSessionID, sessionID),
		atom.ChildU32LE(id4.PCPHeloVersion, ProtocolVersion),
		ipChild,
		atom.ChildU16LE(id4.PCPHeloPort, remotePort),
	})
}

// ProtocolVersion is the PCP handshake version this node advertises.
const ProtocolVersion = 1218

func ipChild(tag id4.Id4, ip net.IP) atom.Atom {
	if v4 := ip.To4(); v4 != nil {
		return atom.ChildIPv4(tag, ip)
	}
	return atom.ChildIPv6(tag, ip)
}

// Ok builds a PCP_OK child atom, grounded in OkBuilder (original_source
// src/pcp/builder/ok.rs).
func Ok(value uint32) atom.Atom { return atom.ChildU32LE(id4.PCPOk, value) }

// Quit builds a PCP_QUIT child atom carrying the given terminal reason,
// grounded in QuitBuilder (original_source src/pcp/builder/quit.rs).
func Quit(code id4.QuitCode) atom.Atom {
	return atom.ChildI32LE(id4.PCPQuit, int32(code))
}

// RootOptions configures Root's optional fields, mirroring RootBuilder's
// fluent setters (original_source src/pcp/builder/root.rs).
type RootOptions struct {
	UpdateInterval     uint32
	HasUpdateInterval  bool
	NextUpdateInterval uint32
	HasNextUpdate      bool
	DownloadURL        string
	Message            string
	SetRootUpdate      bool
	CheckVersion       uint32
}

// Root builds an outgoing PCP_ROOT atom.
func Root(opts RootOptions) atom.Atom {
	var children []atom.Atom
	if opts.HasUpdateInterval {
		children = append(children, atom.ChildU32LE(id4.PCPRootUpdInt, opts.UpdateInterval))
	}
	if opts.DownloadURL != "" {
		children = append(children, atom.ChildString(id4.PCPRootURL, opts.DownloadURL))
	}
	children = append(children, atom.ChildU32LE(id4.PCPRootCheckVer, opts.CheckVersion))
	if opts.HasNextUpdate {
		children = append(children, atom.ChildU32LE(id4.PCPRootNext, opts.NextUpdateInterval))
	}
	if opts.Message != "" {
		children = append(children, atom.ChildString(id4.PCPMesgASCII, opts.Message))
	}
	if opts.SetRootUpdate {
		children = append(children, atom.NewParent(id4.PCPRootUpdate, nil))
	}
	return atom.NewParent(id4.PCPRoot, children)
}

// TrackInfo builds a PCP_CHAN_TRACK atom, grounded in TrackInfoBuilder
// (original_source src/pcp/builder/track_info.rs).
func TrackInfo(t model.TrackInfo) atom.Atom {
	return atom.NewParent(id4.PCPChanTrack, []atom.Atom{
		atom.ChildString(id4.PCPChanTrackTitle, t.Title),
		atom.ChildString(id4.PCPChanTrackCreator, t.Creator),
		atom.ChildString(id4.PCPChanTrackURL, t.URL),
		atom.ChildString(id4.PCPChanTrackAlbum, t.Album),
		atom.ChildString(id4.PCPChanTrackGenre, t.Genre),
	})
}

// ChannelInfo builds a PCP_CHAN_INFO atom from a model.ChannelInfo,
// inverting decode.DecodeChannelInfo's field walk.
func ChannelInfo(ci model.ChannelInfo) atom.Atom {
	return atom.NewParent(id4.PCPChanInfo, []atom.Atom{
		atom.ChildString(id4.PCPChanInfoType, ci.Type),
		atom.ChildString(id4.PCPChanInfoName, ci.Name),
		atom.ChildString(id4.PCPChanInfoGenre, ci.Genre),
		atom.ChildString(id4.PCPChanInfoDesc, ci.Desc),
		atom.ChildString(id4.PCPChanInfoComment, ci.Comment),
		atom.ChildString(id4.PCPChanInfoURL, ci.URL),
		atom.ChildString(id4.PCPChanInfoStreamType, ci.StreamType),
		atom.ChildString(id4.PCPChanInfoStreamExt, ci.StreamExt),
		atom.ChildI32LE(id4.PCPChanInfoBitrate, ci.Bitrate),
	})
}

// Host builds a PCP_HOST atom advertising this node's own address and
// capacity, inverting decode.DecodeHost's two-(IP,PORT)-pairs convention
// (global pushed first, local second).
func Host(h model.Host) atom.Atom {
	children := []atom.Atom{
		atom.ChildGnuID(id4.PCPHostID, h.SessionID),
	}
	if !h.ChannelID.IsNone() {
		children = append(children, atom.ChildGnuID(id4.PCPHostChanID, h.ChannelID))
	}
	if h.GlobalIP != nil {
		children = append(children, ipChild(id4.PCPHostIP, h.GlobalIP), atom.ChildU16LE(id4.PCPHostPort, h.GlobalPort))
	}
	if h.LocalIP != nil {
		children = append(children, ipChild(id4.PCPHostIP, h.LocalIP), atom.ChildU16LE(id4.PCPHostPort, h.LocalPort))
	}
	children = append(children,
		atom.ChildU32LE(id4.PCPHostNumL, h.NumListeners),
		atom.ChildU32LE(id4.PCPHostNumR, h.NumRelays),
		atom.ChildU32LE(id4.PCPHostUptime, h.Uptime),
		atom.ChildU32LE(id4.PCPHostVersion, h.Version),
		atom.ChildU8(id4.PCPHostVersionVP, h.VersionVP),
		atom.ChildU8(id4.PCPHostFlags1, h.Flags1),
		atom.ChildU32LE(id4.PCPHostOldPos, h.OldPos),
		atom.ChildU32LE(id4.PCPHostNewPos, h.NewPos),
	)
	if h.UphostIP != nil {
		children = append(children,
			ipChild(id4.PCPHostUphostIP, h.UphostIP),
			atom.ChildU32LE(id4.PCPHostUphostPort, uint32(h.UphostPort)),
			atom.ChildU32LE(id4.PCPHostUphostHops, uint32(h.UphostHops)),
		)
	}
	return atom.NewParent(id4.PCPHost, children)
}

// Broadcast wraps payload in a PCP_BCST envelope for flooding, inverting
// decode.DecodeBroadcast.
func Broadcast(env model.Broadcast, payload atom.Atom) atom.Atom {
	children := []atom.Atom{
		atom.ChildU8(id4.PCPBcstGroup, uint8(env.Group)),
		atom.ChildU8(id4.PCPBcstTTL, env.TTL),
		atom.ChildU8(id4.PCPBcstHops, env.Hops),
		atom.ChildGnuID(id4.PCPBcstFrom, env.From),
		atom.ChildGnuID(id4.PCPBcstChanID, env.ChannelID),
		atom.ChildU32LE(id4.PCPBcstVersion, env.Version),
	}
	if !env.Dest.IsNone() {
		children = append(children, atom.ChildGnuID(id4.PCPBcstDest, env.Dest))
	}
	children = append(children, payload)
	return atom.NewParent(id4.PCPBcst, children)
}

// ChannelHead builds a PCP_CHAN head packet carrying stream-start metadata
// plus the FLV magic-prefix payload, per spec.md §4.4.
func ChannelHead(channelID gnuid.GnuId, pos uint32, ci model.ChannelInfo, ti model.TrackInfo, data []byte) atom.Atom {
	return channelPacket(channelID, id4.PCPChanPktHead, pos, data, false, false, &ci, &ti)
}

// ChannelData builds a PCP_CHAN data packet carrying one stream chunk.
func ChannelData(channelID gnuid.GnuId, pos uint32, data []byte, continuation bool) atom.Atom {
	return channelPacket(channelID, id4.PCPChanPktData, pos, data, true, continuation, nil, nil)
}

func channelPacket(channelID gnuid.GnuId, typ id4.Id4, pos uint32, data []byte, setCont, continuation bool, ci *model.ChannelInfo, ti *model.TrackInfo) atom.Atom {
	typBytes := typ.Bytes()
	pktChildren := []atom.Atom{
		atom.NewChild(id4.PCPChanPktType, typBytes[:]),
		atom.ChildU32LE(id4.PCPChanPktPos, pos),
	}
	if setCont {
		v := uint8(0)
		if continuation {
			v = 1
		}
		pktChildren = append(pktChildren, atom.ChildU8(id4.PCPChanPktContinuation, v))
	}
	pktChildren = append(pktChildren, atom.NewChild(id4.PCPChanPktData, data))

	children := []atom.Atom{atom.ChildGnuID(id4.PCPChanID, channelID)}
	if ci != nil {
		children = append(children, ChannelInfo(*ci))
	}
	if ti != nil {
		children = append(children, TrackInfo(*ti))
	}
	children = append(children, atom.NewParent(id4.PCPChanPkt, pktChildren))
	return atom.NewParent(id4.PCPChan, children)
}
