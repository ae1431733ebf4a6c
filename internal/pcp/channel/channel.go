package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// Channel is a cheap, cloneable handle onto a running broker plus the
// bookkeeping the repository's eviction task needs, per spec.md §4.7.
// Copying a *Channel pointer is the "clone"; the struct itself is never
// copied by value.
type Channel struct {
	ID gnuid.GnuId

	broker *Broker
	cancel context.CancelFunc

	mu         sync.RWMutex
	createdAt  time.Time
	lastUpdate time.Time
}

// newChannel constructs and starts a Channel's broker goroutine.
func newChannel(id gnuid.GnuId, assembler Assembler, logger *slog.Logger) *Channel {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		ID:         id,
		broker:     NewBroker(id, assembler, logger),
		cancel:     cancel,
		createdAt:  now,
		lastUpdate: now,
	}
	go ch.broker.Run(ctx)
	return ch
}

// Broker returns the channel's broker for subscriber/source-task wiring.
func (c *Channel) Broker() *Broker { return c.broker }

// CreatedAt reports when this channel handle was first created.
func (c *Channel) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// LastUpdate reports the last time Touch was called.
func (c *Channel) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Touch refreshes last_update, keeping the channel alive against the
// repository's eviction sweep (spec.md §4.7).
func (c *Channel) Touch() {
	c.mu.Lock()
	c.lastUpdate = time.Now()
	c.mu.Unlock()
}

// Info returns the channel's current ChannelInfo/TrackInfo snapshot.
func (c *Channel) Info() (model.ChannelInfo, model.TrackInfo) {
	return c.broker.Snapshot()
}

// stop tears down the broker's event loop. Called only by the repository
// when removing a channel.
func (c *Channel) stop() { c.cancel() }
