// Package decode turns parsed Atom trees into typed handshake and channel
// records. Grounded in original_source src/pcp/builder/{hello,oleh,quit,ok,
// root,track_info}.rs and libpeercast-re/src/pcp/builder/host.rs, whose
// hand-rolled field-by-field atom walks this package generalizes.
package decode

import (
	"fmt"
	"net"

	pcperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

func requireParent(a atom.Atom, want id4.Id4, op string) error {
	if a.ID() != want {
		return pcperrors.NewParseError(op, fmt.Errorf("expected %s atom, got %s", want, a.ID()))
	}
	if !a.IsParent() {
		return pcperrors.NewParseError(op, fmt.Errorf("%s: expected parent atom", want))
	}
	return nil
}

// Helo is the decoded form of a PCP_HELO handshake atom.
type Helo struct {
	SessionID   gnuid.GnuId
	BroadcastID gnuid.GnuId
	Agent       string
	Version     uint32
	Port        uint16
	HasPort     bool
	PingPort    uint16
	HasPing     bool
	Disable     bool
	HasDisable  bool
}

// DecodeHelo decodes a PCP_HELO atom, grounded in HelloBuilder's field set
// (original_source src/pcp/builder/hello.rs) generalized into a decoder.
func DecodeHelo(a atom.Atom) (Helo, error) {
	if err := requireParent(a, id4.PCPHelo, "decode.Helo"); err != nil {
		return Helo{}, err
	}
	var h Helo
	for _, c := range a.Children() {
		var err error
		switch c.ID() {
		case id4.PCPHeloSessionID:
			h.SessionID, err = atom.GnuID(c)
		case id4.PCPHeloBcID:
			h.BroadcastID, err = atom.GnuID(c)
		case id4.PCPHeloAgent:
			h.Agent, err = atom.String(c)
		case id4.PCPHeloVersion:
			h.Version, err = atom.U32LE(c)
		case id4.PCPHeloPort:
			h.Port, err = atom.U16LE(c)
			h.HasPort = err == nil
		case id4.PCPHeloPing:
			h.PingPort, err = atom.U16LE(c)
			h.HasPing = err == nil
		case id4.PCPHeloDisable:
			var v uint8
			v, err = atom.U8(c)
			h.Disable = v != 0
			h.HasDisable = err == nil
		}
		if err != nil {
			return Helo{}, pcperrors.NewParseError("decode.Helo", err)
		}
	}
	return h, nil
}

// Oleh is the decoded form of a PCP_OLEH handshake reply.
type Oleh struct {
	RemoteIP  net.IP
	Agent     string
	SessionID gnuid.GnuId
	Port      uint16
	Version   uint32
}

// DecodeOleh decodes a PCP_OLEH atom, grounded in OlehInfo::parse
// (original_source src/pcp/builder/oleh.rs).
func DecodeOleh(a atom.Atom) (Oleh, error) {
	if err := requireParent(a, id4.PCPOleh, "decode.Oleh"); err != nil {
		return Oleh{}, err
	}
	var o Oleh
	for _, c := range a.Children() {
		var err error
		switch c.ID() {
		case id4.PCPHeloRemoteIP:
			o.RemoteIP, err = atom.IP(c)
		case id4.PCPHeloAgent:
			o.Agent, err = atom.String(c)
		case id4.PCPHeloSessionID:
			o.SessionID, err = atom.GnuID(c)
		case id4.PCPHeloPort:
			o.Port, err = atom.U16LE(c)
		case id4.PCPHeloVersion:
			o.Version, err = atom.U32LE(c)
		}
		if err != nil {
			return Oleh{}, pcperrors.NewParseError("decode.Oleh", err)
		}
	}
	return o, nil
}

// DecodeHost decodes a PCP_HOST atom into a model.Host, following the two
// (IP, PORT) popped pairs convention from HostInfo::parse
// (original_source libpeercast-re/src/pcp/builder/host.rs): the first pair
// pushed is global, the second is local.
func DecodeHost(a atom.Atom) (model.Host, error) {
	if err := requireParent(a, id4.PCPHost, "decode.Host"); err != nil {
		return model.Host{}, err
	}
	var h model.Host
	var ips []net.IP
	var ports []uint16
	var extraPrefix id4.Id4
	var extraNumber uint16
	var haveExtraPrefix, haveExtraNumber bool
	var upIP net.IP
	var upPort uint16
	var upHops uint8
	var haveUpIP, haveUpPort bool

	for _, c := range a.Children() {
		var err error
		switch c.ID() {
		case id4.PCPHostChanID:
			h.ChannelID, err = atom.GnuID(c)
		case id4.PCPHostID:
			h.SessionID, err = atom.GnuID(c)
		case id4.PCPHostIP:
			var ip net.IP
			ip, err = atom.IP(c)
			ips = append(ips, ip)
		case id4.PCPHostPort:
			var p uint16
			p, err = atom.U16LE(c)
			ports = append(ports, p)
		case id4.PCPHostNumL:
			var v uint32
			v, err = atom.U32LE(c)
			h.NumListeners = v
		case id4.PCPHostNumR:
			var v uint32
			v, err = atom.U32LE(c)
			h.NumRelays = v
		case id4.PCPHostUptime:
			h.Uptime, err = atom.U32LE(c)
		case id4.PCPHostVersion:
			h.Version, err = atom.U32LE(c)
		case id4.PCPHostVersionVP:
			var v uint8
			v, err = atom.U8(c)
			h.VersionVP = v
		case id4.PCPHostVersionExPrefix:
			var b [4]byte
			if len(c.Payload()) != 2 {
				err = fmt.Errorf("PCP_HOST_VEXP: expected 2-byte payload, got %d", len(c.Payload()))
			} else {
				copy(b[:2], c.Payload())
				extraPrefix = id4.FromBytes(b)
				haveExtraPrefix = true
			}
		case id4.PCPHostVersionExNumber:
			extraNumber, err = atom.U16LE(c)
			haveExtraNumber = err == nil
		case id4.PCPHostFlags1:
			h.Flags1, err = atom.U8(c)
		case id4.PCPHostOldPos:
			h.OldPos, err = atom.U32LE(c)
		case id4.PCPHostNewPos:
			h.NewPos, err = atom.U32LE(c)
		case id4.PCPHostUphostIP:
			upIP, err = atom.IP(c)
			haveUpIP = err == nil
		case id4.PCPHostUphostPort:
			var v uint32
			v, err = atom.U32LE(c)
			upPort = uint16(v)
			haveUpPort = err == nil
		case id4.PCPHostUphostHops:
			var v uint32
			v, err = atom.U32LE(c)
			upHops = uint8(v)
		}
		if err != nil {
			return model.Host{}, pcperrors.NewParseError("decode.Host", err)
		}
	}

	if len(ips) == 2 && len(ports) == 2 {
		h.LocalIP, h.LocalPort = ips[1], ports[1]
		h.GlobalIP, h.GlobalPort = ips[0], ports[0]
	} else if len(ips) == 1 && len(ports) == 1 {
		h.GlobalIP, h.GlobalPort = ips[0], ports[0]
	}

	if haveExtraPrefix && haveExtraNumber {
		h.VersionExPrefix = extraPrefix
		h.VersionExNumber = extraNumber
	}
	if haveUpIP && haveUpPort {
		h.UphostIP = upIP
		h.UphostPort = upPort
		h.UphostHops = upHops
	}

	return h, nil
}

// DecodeChannelInfo decodes a PCP_CHAN_INFO atom, grounded in
// ChannelInfo::from(&Atom) (original_source src/pcp/channel/mod.rs).
func DecodeChannelInfo(a atom.Atom) (model.ChannelInfo, error) {
	if err := requireParent(a, id4.PCPChanInfo, "decode.ChannelInfo"); err != nil {
		return model.ChannelInfo{}, err
	}
	var ci model.ChannelInfo
	for _, c := range a.Children() {
		var err error
		switch c.ID() {
		case id4.PCPChanInfoType:
			ci.Type, err = atom.String(c)
		case id4.PCPChanInfoName:
			ci.Name, err = atom.String(c)
		case id4.PCPChanInfoGenre:
			ci.Genre, err = atom.String(c)
		case id4.PCPChanInfoDesc:
			ci.Desc, err = atom.String(c)
		case id4.PCPChanInfoComment:
			ci.Comment, err = atom.String(c)
		case id4.PCPChanInfoURL:
			ci.URL, err = atom.String(c)
		case id4.PCPChanInfoStreamType:
			ci.StreamType, err = atom.String(c)
		case id4.PCPChanInfoStreamExt:
			ci.StreamExt, err = atom.String(c)
		case id4.PCPChanInfoBitrate:
			ci.Bitrate, err = atom.I32LE(c)
		}
		if err != nil {
			return model.ChannelInfo{}, pcperrors.NewParseError("decode.ChannelInfo", err)
		}
	}
	return ci, nil
}

// DecodeTrackInfo decodes a PCP_CHAN_TRACK atom, grounded in
// TrackInfo::from(&Atom) (original_source src/pcp/channel/mod.rs).
func DecodeTrackInfo(a atom.Atom) (model.TrackInfo, error) {
	if err := requireParent(a, id4.PCPChanTrack, "decode.TrackInfo"); err != nil {
		return model.TrackInfo{}, err
	}
	var ti model.TrackInfo
	for _, c := range a.Children() {
		var err error
		switch c.ID() {
		case id4.PCPChanTrackTitle:
			ti.Title, err = atom.String(c)
		case id4.PCPChanTrackCreator:
			ti.Creator, err = atom.String(c)
		case id4.PCPChanTrackURL:
			ti.URL, err = atom.String(c)
		case id4.PCPChanTrackAlbum:
			ti.Album, err = atom.String(c)
		case id4.PCPChanTrackGenre:
			ti.Genre, err = atom.String(c)
		}
		if err != nil {
			return model.TrackInfo{}, pcperrors.NewParseError("decode.TrackInfo", err)
		}
	}
	return ti, nil
}

// Broadcast is the decoded form of a PCP_BCST envelope, carried alongside
// its wrapped payload atom (the first unrecognized child, per spec.md §4.5).
type Broadcast struct {
	Envelope model.Broadcast
	Payload  atom.Atom
}

// DecodeBroadcast decodes a PCP_BCST atom, grounded in the reference
// implementation's broadcast builder/walker (original_source
// src/pcp/builder mod + classify.rs's flooding fields).
func DecodeBroadcast(a atom.Atom) (Broadcast, error) {
	if err := requireParent(a, id4.PCPBcst, "decode.Broadcast"); err != nil {
		return Broadcast{}, err
	}
	var b Broadcast
	for _, c := range a.Children() {
		var err error
		switch c.ID() {
		case id4.PCPBcstGroup:
			var v uint8
			v, err = atom.U8(c)
			b.Envelope.Group = id4.BroadcastGroup(v)
		case id4.PCPBcstTTL:
			b.Envelope.TTL, err = atom.U8(c)
		case id4.PCPBcstHops:
			b.Envelope.Hops, err = atom.U8(c)
		case id4.PCPBcstFrom:
			b.Envelope.From, err = atom.GnuID(c)
		case id4.PCPBcstDest:
			b.Envelope.Dest, err = atom.GnuID(c)
		case id4.PCPBcstChanID:
			b.Envelope.ChannelID, err = atom.GnuID(c)
		case id4.PCPBcstVersion:
			b.Envelope.Version, err = atom.U32LE(c)
		case id4.PCPBcstVersionVP:
			var v uint8
			v, err = atom.U8(c)
			b.Envelope.VersionVP = v
		case id4.PCPBcstVersionExPrefix:
			var bb [4]byte
			if len(c.Payload()) == 2 {
				copy(bb[:2], c.Payload())
				b.Envelope.VersionExPrefix = id4.FromBytes(bb)
			}
		case id4.PCPBcstVersionExNumber:
			b.Envelope.VersionExNumber, err = atom.U16LE(c)
		default:
			// The first atom that isn't a recognized envelope field is the
			// wrapped payload (typically PCP_HELO or PCP_CHAN_INFO/PCP_BCST
			// forwarded through a relay tree).
			if b.Payload.ID() == 0 {
				b.Payload = c
			}
		}
		if err != nil {
			return Broadcast{}, pcperrors.NewParseError("decode.Broadcast", err)
		}
	}
	return b, nil
}

// Quit is the decoded form of a PCP_QUIT atom.
type Quit struct {
	Code id4.QuitCode
}

// DecodeQuit decodes a PCP_QUIT child atom, grounded in QuitInfo::parse
// (original_source src/pcp/builder/quit.rs).
func DecodeQuit(a atom.Atom) (Quit, error) {
	if a.ID() != id4.PCPQuit {
		return Quit{}, pcperrors.NewParseError("decode.Quit", fmt.Errorf("expected PCP_QUIT atom, got %s", a.ID()))
	}
	if a.IsParent() {
		return Quit{}, pcperrors.NewParseError("decode.Quit", fmt.Errorf("PCP_QUIT must be a Child atom"))
	}
	v, err := atom.I32LE(a)
	if err != nil {
		return Quit{}, pcperrors.NewParseError("decode.Quit", err)
	}
	return Quit{Code: id4.QuitCode(v)}, nil
}

// DecodeOk decodes a PCP_OK child atom, grounded in OkBuilder
// (original_source src/pcp/builder/ok.rs).
func DecodeOk(a atom.Atom) (uint32, error) {
	if a.ID() != id4.PCPOk {
		return 0, pcperrors.NewParseError("decode.Ok", fmt.Errorf("expected PCP_OK atom, got %s", a.ID()))
	}
	v, err := atom.U32LE(a)
	if err != nil {
		return 0, pcperrors.NewParseError("decode.Ok", err)
	}
	return v, nil
}

// ChanPktType distinguishes the two leaf payload kinds a PCP_CHAN_PKT can
// carry (spec.md §4.4 "channel packet classification").
type ChanPktType int

const (
	ChanPktUnknown ChanPktType = iota
	ChanPktHead
	ChanPktData
)

// ChannelPacket is the decoded form of a PCP_CHAN atom, grounded in
// ClassifyAtom::classify (original_source src/pcp/classify.rs).
type ChannelPacket struct {
	ChannelID    gnuid.GnuId
	Type         ChanPktType
	Pos          uint32
	Data         []byte
	Continuation bool
	HasContinuation bool
	Info  *model.ChannelInfo
	Track *model.TrackInfo
}

// DecodeChannelPacket decodes a PCP_CHAN atom into a ChannelPacket,
// mirroring ClassifyAtom::classify's split_pkt/get_info/get_track helpers.
func DecodeChannelPacket(a atom.Atom) (ChannelPacket, error) {
	if err := requireParent(a, id4.PCPChan, "decode.ChannelPacket"); err != nil {
		return ChannelPacket{}, err
	}
	var cp ChannelPacket
	if idAtom, ok := a.Find(id4.PCPChanID); ok {
		id, err := atom.GnuID(idAtom)
		if err != nil {
			return ChannelPacket{}, pcperrors.NewParseError("decode.ChannelPacket", err)
		}
		cp.ChannelID = id
	}
	if infoAtom, ok := a.Find(id4.PCPChanInfo); ok {
		ci, err := DecodeChannelInfo(infoAtom)
		if err != nil {
			return ChannelPacket{}, err
		}
		cp.Info = &ci
	}
	if trackAtom, ok := a.Find(id4.PCPChanTrack); ok {
		ti, err := DecodeTrackInfo(trackAtom)
		if err != nil {
			return ChannelPacket{}, err
		}
		cp.Track = &ti
	}

	pkt, ok := a.Find(id4.PCPChanPkt)
	if !ok {
		return ChannelPacket{}, pcperrors.NewParseError("decode.ChannelPacket", fmt.Errorf("missing PCP_CHAN_PKT"))
	}
	for _, c := range pkt.Children() {
		var err error
		switch c.ID() {
		case id4.PCPChanPktType:
			var tag [4]byte
			if len(c.Payload()) != 4 {
				err = fmt.Errorf("PCP_CHAN_PKT_TYPE: expected 4-byte payload, got %d", len(c.Payload()))
				break
			}
			copy(tag[:], c.Payload())
			switch id4.FromBytes(tag) {
			case id4.PCPChanPktHead:
				cp.Type = ChanPktHead
			case id4.PCPChanPktData:
				cp.Type = ChanPktData
			default:
				cp.Type = ChanPktUnknown
			}
		case id4.PCPChanPktPos:
			cp.Pos, err = atom.U32LE(c)
		case id4.PCPChanPktData:
			cp.Data = c.Payload()
		case id4.PCPChanPktContinuation:
			var v uint8
			v, err = atom.U8(c)
			cp.Continuation = v != 0
			cp.HasContinuation = err == nil
		}
		if err != nil {
			return ChannelPacket{}, pcperrors.NewParseError("decode.ChannelPacket", err)
		}
	}
	return cp, nil
}
