package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// Default eviction cadence, per spec.md §4.7.
const (
	DefaultDeleteCheckInterval = 60 * time.Second
	DefaultDeletePeriod        = 300 * time.Second
)

// BeforeDeleteFunc runs off the hot path when a channel is about to be
// evicted (e.g. to send terminal QUIT atoms to its subscribers), per
// spec.md §4.7 "before_delete".
type BeforeDeleteFunc func(*Channel)

// RepositoryConfig configures a Repository's eviction cadence and cleanup
// hook. Zero values fall back to the spec.md defaults.
type RepositoryConfig struct {
	DeleteCheckInterval time.Duration
	DeletePeriod        time.Duration
	BeforeDelete         BeforeDeleteFunc
	Logger               *slog.Logger
}

// Repository is a concurrent map from ChannelId to Channel handle, with a
// background eviction actor, grounded in the teacher's
// internal/rtmp/server/registry.go Registry type generalized from
// streamKey -> *Stream to GnuId -> *Channel (spec.md §4.7).
type Repository struct {
	mu       sync.RWMutex
	channels map[gnuid.GnuId]*Channel

	cfg RepositoryConfig

	checkNow chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRepository constructs a Repository and starts its eviction actor.
func NewRepository(cfg RepositoryConfig) *Repository {
	if cfg.DeleteCheckInterval <= 0 {
		cfg.DeleteCheckInterval = DefaultDeleteCheckInterval
	}
	if cfg.DeletePeriod <= 0 {
		cfg.DeletePeriod = DefaultDeletePeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Repository{
		channels: make(map[gnuid.GnuId]*Channel),
		cfg:      cfg,
		checkNow: make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.evictionLoop(ctx)
	return r
}

// GetOrCreate inserts a new Channel on miss (publishing created_at/
// last_update = now) and returns a handle either way, plus whether it was
// newly created. assembler is only meaningful for Broadcast channels; pass
// nil for Relay channels (spec.md §4.7 "get_or_create").
func (r *Repository) GetOrCreate(id gnuid.GnuId, assembler Assembler) (*Channel, bool) {
	r.mu.RLock()
	if ch, ok := r.channels[id]; ok {
		r.mu.RUnlock()
		return ch, false
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[id]; ok {
		return ch, false
	}
	ch := newChannel(id, assembler, r.cfg.Logger)
	r.channels[id] = ch
	return ch, true
}

// Get returns the channel for id, or nil if absent.
func (r *Repository) Get(id gnuid.GnuId) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[id]
}

// Delete removes id if present, forwarding the removed value to
// before_delete off the hot path (spec.md §4.7 "delete").
func (r *Repository) Delete(id gnuid.GnuId) bool {
	r.mu.Lock()
	ch, ok := r.channels[id]
	if ok {
		delete(r.channels, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.retire(ch)
	return true
}

// MapCollect snapshots the repository under the read path and applies f to
// each channel, collecting non-nil results (spec.md §4.7 "map_collect").
func MapCollect[T any](r *Repository, f func(*Channel) (T, bool)) []T {
	r.mu.RLock()
	snapshot := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		snapshot = append(snapshot, ch)
	}
	r.mu.RUnlock()

	out := make([]T, 0, len(snapshot))
	for _, ch := range snapshot {
		if v, ok := f(ch); ok {
			out = append(out, v)
		}
	}
	return out
}

// ChannelInfoSnapshot is a convenience projection for HTTP index surfaces.
type ChannelInfoSnapshot struct {
	ID        gnuid.GnuId
	Info      model.ChannelInfo
	Track     model.TrackInfo
	CreatedAt time.Time
	Listeners int
	Relays    int
}

// Snapshots returns one ChannelInfoSnapshot per currently-registered
// channel.
func (r *Repository) Snapshots() []ChannelInfoSnapshot {
	return MapCollect(r, func(ch *Channel) (ChannelInfoSnapshot, bool) {
		info, track := ch.Info()
		broker := ch.Broker()
		relays := broker.RelayCount()
		listeners := broker.SubscriberCount() - relays
		if listeners < 0 {
			listeners = 0
		}
		return ChannelInfoSnapshot{
			ID:        ch.ID,
			Info:      info,
			Track:     track,
			CreatedAt: ch.CreatedAt(),
			Listeners: listeners,
			Relays:    relays,
		}, true
	})
}

// CheckExpire manually nudges the eviction task to run immediately, per
// spec.md §4.7 "check_expire".
func (r *Repository) CheckExpire() {
	select {
	case r.checkNow <- struct{}{}:
	default:
	}
}

// Close stops the eviction actor. Does not evict remaining channels.
func (r *Repository) Close() {
	r.cancel()
	<-r.done
}

func (r *Repository) evictionLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.DeleteCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		case <-r.checkNow:
			r.sweep()
		}
	}
}

func (r *Repository) sweep() {
	deadline := time.Now().Add(-r.cfg.DeletePeriod)
	r.mu.Lock()
	var expired []*Channel
	for id, ch := range r.channels {
		if ch.LastUpdate().Before(deadline) {
			expired = append(expired, ch)
			delete(r.channels, id)
		}
	}
	r.mu.Unlock()

	for _, ch := range expired {
		r.retire(ch)
	}
}

func (r *Repository) retire(ch *Channel) {
	if r.cfg.BeforeDelete != nil {
		r.cfg.BeforeDelete(ch)
	}
	ch.stop()
}
