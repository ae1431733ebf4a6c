package channel

import (
	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// ConnectionID identifies one subscriber attached to a broker's mailbox,
// per spec.md §4.3's subscriber map keyed by ConnectionId.
type ConnectionID = gnuid.GnuId

// Sink receives outbound relay messages for one subscriber. Implementations
// must never block: spec.md §4.3 requires "senders are unbounded; a slow
// subscriber costs memory but never blocks the broker" — the unboundedness
// lives in the Sink, not in the broker's mailbox.
type Sink interface {
	Send(OutboundMessage)
}

// OutboundKind distinguishes the two relay message shapes sent to subscribers.
type OutboundKind int

const (
	OutboundHead OutboundKind = iota
	OutboundData
)

// OutboundMessage is what the broker hands to each subscriber's Sink,
// mirroring spec.md §4.3's RelayChannelHead/RelayChannelData pair.
type OutboundMessage struct {
	Kind         OutboundKind
	Atom         atom.Atom
	Pos          uint32
	Payload      []byte
	Continuation bool
}

// headPacket is the broker's cached most-recent header packet, replayed to
// new subscribers so they can decode the stream from their next body packet
// (spec.md §4.3 "head_data").
type headPacket struct {
	atom    atom.Atom
	pos     uint32
	payload []byte
}

// inboundMsg is the broker mailbox's envelope type. Only one of the typed
// fields is populated per message; NewConnection/UpdateChannelInfo/
// ArrivedChannelHead/ArrivedChannelData/BroadcastEvent mirror spec.md §4.3's
// "Message contract (inbound)" table.
type inboundMsg struct {
	newConnection      *newConnectionMsg
	updateChannelInfo  *updateChannelInfoMsg
	arrivedChannelHead *arrivedChannelHeadMsg
	arrivedChannelData *arrivedChannelDataMsg
	broadcastEvent     *broadcastEventMsg
}

type newConnectionMsg struct {
	id         ConnectionID
	sink       Sink
	disconnect <-chan struct{}
	role       ConnectionRole
}

type updateChannelInfoMsg struct {
	info  model.ChannelInfo
	track model.TrackInfo
}

type arrivedChannelHeadMsg struct {
	atom    atom.Atom
	payload []byte
	pos     uint32
	info    *model.ChannelInfo
	track   *model.TrackInfo
}

type arrivedChannelDataMsg struct {
	atom         atom.Atom
	payload      []byte
	pos          uint32
	continuation bool
}

// BroadcastEvent is the RTMP-derived event fed to a Broadcast broker, which
// pushes it through an Assembler to synthesize head/data atoms (spec.md
// §4.5/§4.6). Defined as an opaque interface here so this package does not
// need to import internal/flv; internal/flv's concrete event types satisfy
// it trivially (no methods required).
type BroadcastEvent interface{}

// Assembler turns BroadcastEvents into ready-to-relay chunks. A Broadcast
// broker owns exactly one Assembler (internal/flv's RTMP->FLV->PCP
// assembler implements it); Relay brokers have none.
type Assembler interface {
	// Feed processes one event and reports whether it yielded a chunk to
	// relay this call (an assembler may buffer metadata-only events).
	Feed(event BroadcastEvent) (chunk AssembledChunk, ok bool)
}

// AssembledChunk is one ready-to-wrap output of an Assembler.
type AssembledChunk struct {
	IsHead       bool
	Pos          uint32
	Payload      []byte
	Continuation bool
	Info         *model.ChannelInfo
	Track        *model.TrackInfo
}

type broadcastEventMsg struct {
	event BroadcastEvent
}
