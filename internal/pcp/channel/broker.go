// Package channel implements the per-channel broker actor, its subscriber
// fan-out, and the channel repository with liveness-based eviction.
// Grounded in original_source src/pcp/channel/broker/broker.rs (the actor's
// mailbox/event-loop shape) and the teacher's
// internal/rtmp/server/registry.go (RWMutex-guarded registry, "snapshot
// under RLock then send outside the lock").
package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/build"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// disconnectPollInterval is how often the broker polls subscriber
// disconnect-notifier channels, since Go has no select over a dynamic
// slice of channels (spec.md §4.3 "Subscriber lifecycle"; SPEC_FULL.md
// §4.3).
const disconnectPollInterval = 2 * time.Second

// mailboxCapacity bounds the broker's own inbound mailbox. Subscriber
// fan-out is unbounded (the Sink's responsibility); the mailbox itself only
// needs enough slack to avoid stalling a single fast producer.
const mailboxCapacity = 256

// ConnectionRole distinguishes a subscriber that re-relays channel data to
// further downstream peers from one that is only a direct listener,
// mirroring spec.md's Host flag pair "is_relay | is_direct" and the paired
// listener-count/relay-count fields in /index.txt (spec.md §6). Grounded in
// original_source's ChannelBrokerWoker, which keeps a `relays_ids` list
// alongside its general connection-id map rather than folding relay status
// into the count itself.
type ConnectionRole int

const (
	// RoleDirect is a subscriber pulling the channel for local playback.
	RoleDirect ConnectionRole = iota
	// RoleRelay is a subscriber that will itself re-serve the channel to
	// further downstream peers.
	RoleRelay
)

type subscriberEntry struct {
	sink       Sink
	disconnect <-chan struct{}
	role       ConnectionRole
}

// Broker is the actor owning one channel's subscriber fan-out, per spec.md
// §4.3.
type Broker struct {
	channelID gnuid.GnuId
	assembler Assembler
	logger    *slog.Logger

	mailbox chan inboundMsg
	done    chan struct{}

	subscribers map[ConnectionID]subscriberEntry
	head        *headPacket

	metaMu sync.RWMutex
	info   model.ChannelInfo
	track  model.TrackInfo

	sourceMu       sync.Mutex
	sourceAttached bool
}

// NewBroker constructs a Broker for channelID. assembler is nil for a Relay
// broker (which only ever relays already-built atoms from upstream) and
// non-nil for a Broadcast broker (spec.md §4.3 "For Broadcast brokers
// additionally: an FLV assembler").
func NewBroker(channelID gnuid.GnuId, assembler Assembler, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		channelID:   channelID,
		assembler:   assembler,
		logger:      logger,
		mailbox:     make(chan inboundMsg, mailboxCapacity),
		done:        make(chan struct{}),
		subscribers: make(map[ConnectionID]subscriberEntry),
	}
}

// Run executes the broker's event loop until ctx is canceled. It is meant
// to be launched as its own goroutine by the owning Channel.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(disconnectPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.mailbox:
			b.handle(msg)
		case <-ticker.C:
			b.reapDisconnected()
		}
	}
}

// Done reports when the event loop has exited.
func (b *Broker) Done() <-chan struct{} { return b.done }

func (b *Broker) handle(msg inboundMsg) {
	switch {
	case msg.newConnection != nil:
		b.handleNewConnection(msg.newConnection)
	case msg.updateChannelInfo != nil:
		b.handleUpdateChannelInfo(msg.updateChannelInfo)
	case msg.arrivedChannelHead != nil:
		b.handleArrivedChannelHead(msg.arrivedChannelHead)
	case msg.arrivedChannelData != nil:
		b.handleArrivedChannelData(msg.arrivedChannelData)
	case msg.broadcastEvent != nil:
		b.handleBroadcastEvent(msg.broadcastEvent)
	}
}

func (b *Broker) handleNewConnection(m *newConnectionMsg) {
	b.subscribers[m.id] = subscriberEntry{sink: m.sink, disconnect: m.disconnect, role: m.role}
	if b.head == nil {
		return
	}
	m.sink.Send(OutboundMessage{
		Kind:    OutboundHead,
		Atom:    b.head.atom,
		Pos:     b.head.pos,
		Payload: b.head.payload,
	})
}

func (b *Broker) handleUpdateChannelInfo(m *updateChannelInfoMsg) {
	b.metaMu.Lock()
	b.info = b.info.Merge(m.info)
	b.track = b.track.Merge(m.track)
	b.metaMu.Unlock()
}

func (b *Broker) handleArrivedChannelHead(m *arrivedChannelHeadMsg) {
	if m.info != nil || m.track != nil {
		b.metaMu.Lock()
		if m.info != nil {
			b.info = b.info.Merge(*m.info)
		}
		if m.track != nil {
			b.track = b.track.Merge(*m.track)
		}
		b.metaMu.Unlock()
	}
	b.head = &headPacket{atom: m.atom, pos: m.pos, payload: m.payload}
	b.broadcast(OutboundMessage{Kind: OutboundHead, Atom: m.atom, Pos: m.pos, Payload: m.payload})
}

func (b *Broker) handleArrivedChannelData(m *arrivedChannelDataMsg) {
	if b.head == nil {
		// Invariant violation: a source task must never emit data before
		// a head packet (spec.md §4.3). This mirrors the reference
		// implementation's panic on the same condition.
		panic("channel: ArrivedChannelData before any ArrivedChannelHead")
	}
	b.broadcast(OutboundMessage{
		Kind: OutboundData, Atom: m.atom, Pos: m.pos, Payload: m.payload, Continuation: m.continuation,
	})
}

func (b *Broker) handleBroadcastEvent(m *broadcastEventMsg) {
	if b.assembler == nil {
		b.logger.Warn("broadcast event delivered to broker without an assembler", "channel_id", b.channelID.String())
		return
	}
	chunk, ok := b.assembler.Feed(m.event)
	if !ok {
		return
	}
	if chunk.IsHead {
		ci := b.currentChannelInfo()
		ti := b.currentTrackInfo()
		if chunk.Info != nil {
			ci = ci.Merge(*chunk.Info)
		}
		if chunk.Track != nil {
			ti = ti.Merge(*chunk.Track)
		}
		b.metaMu.Lock()
		b.info, b.track = ci, ti
		b.metaMu.Unlock()
		a := build.ChannelHead(b.channelID, chunk.Pos, ci, ti, chunk.Payload)
		b.head = &headPacket{atom: a, pos: chunk.Pos, payload: chunk.Payload}
		b.broadcast(OutboundMessage{Kind: OutboundHead, Atom: a, Pos: chunk.Pos, Payload: chunk.Payload})
		return
	}
	a := build.ChannelData(b.channelID, chunk.Pos, chunk.Payload, chunk.Continuation)
	b.broadcast(OutboundMessage{
		Kind: OutboundData, Atom: a, Pos: chunk.Pos, Payload: chunk.Payload, Continuation: chunk.Continuation,
	})
}

// broadcast fans a message out to every current subscriber. Subscriber
// Sinks are required to be non-blocking (spec.md §4.3), so no snapshot/
// unlock dance is needed here the way the teacher's registry does for
// blocking RTMP writers — the map is only ever touched from this one
// goroutine anyway.
func (b *Broker) broadcast(msg OutboundMessage) {
	for _, sub := range b.subscribers {
		sub.sink.Send(msg)
	}
}

func (b *Broker) reapDisconnected() {
	for id, sub := range b.subscribers {
		select {
		case <-sub.disconnect:
			delete(b.subscribers, id)
		default:
		}
	}
}

func (b *Broker) currentChannelInfo() model.ChannelInfo {
	b.metaMu.RLock()
	defer b.metaMu.RUnlock()
	return b.info
}

func (b *Broker) currentTrackInfo() model.TrackInfo {
	b.metaMu.RLock()
	defer b.metaMu.RUnlock()
	return b.track
}

func (b *Broker) snapshotMeta() (model.ChannelInfo, model.TrackInfo) {
	b.metaMu.RLock()
	defer b.metaMu.RUnlock()
	return b.info, b.track
}

// Snapshot returns the broker's current channel/track metadata, for read
// access by the repository and HTTP surface (spec.md §4.3 "shared with the
// repository for read access").
func (b *Broker) Snapshot() (model.ChannelInfo, model.TrackInfo) {
	return b.snapshotMeta()
}

// SubscriberCount reports the current subscriber count. Only safe to call
// from outside the event loop as an approximate/racy read; callers needing
// precise counts should route through the mailbox instead.
func (b *Broker) SubscriberCount() int {
	return len(b.subscribers)
}

// RelayCount reports how many current subscribers are attached with
// RoleRelay, for /index.txt's relay-count field (spec.md §6). Same
// approximate/racy-read caveat as SubscriberCount.
func (b *Broker) RelayCount() int {
	n := 0
	for _, sub := range b.subscribers {
		if sub.role == RoleRelay {
			n++
		}
	}
	return n
}

// NewConnection enqueues a subscriber attach request. role records whether
// the subscriber is relaying the channel onward or only watching directly.
func (b *Broker) NewConnection(id ConnectionID, sink Sink, disconnect <-chan struct{}, role ConnectionRole) {
	b.send(inboundMsg{newConnection: &newConnectionMsg{id: id, sink: sink, disconnect: disconnect, role: role}})
}

// UpdateChannelInfo enqueues a metadata-only update (not forwarded to
// subscribers).
func (b *Broker) UpdateChannelInfo(info model.ChannelInfo, track model.TrackInfo) {
	b.send(inboundMsg{updateChannelInfo: &updateChannelInfoMsg{info: info, track: track}})
}

// ArrivedChannelHead enqueues a head packet arriving from a source task
// (typically Relay, forwarding an already-built atom read from upstream).
func (b *Broker) ArrivedChannelHead(a atom.Atom, payload []byte, pos uint32, info *model.ChannelInfo, track *model.TrackInfo) {
	b.send(inboundMsg{arrivedChannelHead: &arrivedChannelHeadMsg{atom: a, payload: payload, pos: pos, info: info, track: track}})
}

// ArrivedChannelData enqueues a data packet arriving from a source task.
func (b *Broker) ArrivedChannelData(a atom.Atom, payload []byte, pos uint32, continuation bool) {
	b.send(inboundMsg{arrivedChannelData: &arrivedChannelDataMsg{atom: a, payload: payload, pos: pos, continuation: continuation}})
}

// PushBroadcastEvent enqueues an RTMP-derived event for a Broadcast broker's
// assembler to process.
func (b *Broker) PushBroadcastEvent(event BroadcastEvent) {
	b.send(inboundMsg{broadcastEvent: &broadcastEventMsg{event: event}})
}

func (b *Broker) send(msg inboundMsg) {
	select {
	case b.mailbox <- msg:
	case <-b.done:
	}
}

// AttachSource enforces the at-most-one-source invariant (spec.md §4.3):
// attaching a second source task is a no-op that reports failure.
func (b *Broker) AttachSource() bool {
	b.sourceMu.Lock()
	defer b.sourceMu.Unlock()
	if b.sourceAttached {
		return false
	}
	b.sourceAttached = true
	return true
}

// DetachSource releases the source slot so a replacement task may attach.
func (b *Broker) DetachSource() {
	b.sourceMu.Lock()
	b.sourceAttached = false
	b.sourceMu.Unlock()
}
