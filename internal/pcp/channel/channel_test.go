package channel

import (
	"testing"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// recordingSink collects every message it receives; safe under the
// assumption that the broker only ever calls Send from its own goroutine.
type recordingSink struct {
	messages []OutboundMessage
}

func (s *recordingSink) Send(msg OutboundMessage) { s.messages = append(s.messages, msg) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}

func TestNewConnectionReplaysCachedHead(t *testing.T) {
	repo := NewRepository(RepositoryConfig{})
	defer repo.Close()

	chID := gnuid.New()
	ch, created := repo.GetOrCreate(chID, nil)
	if !created {
		t.Fatalf("expected new channel")
	}

	headAtom := atom.NewParent(id4.PCPChan, nil)
	ch.Broker().ArrivedChannelHead(headAtom, []byte("head-bytes"), 13, nil, nil)

	sink := &recordingSink{}
	disconnect := make(chan struct{})
	ch.Broker().NewConnection(gnuid.New(), sink, disconnect, RoleDirect)

	waitFor(t, func() bool { return len(sink.messages) >= 1 })
	if sink.messages[0].Kind != OutboundHead || sink.messages[0].Pos != 13 {
		t.Fatalf("expected replayed head at pos 13, got %+v", sink.messages[0])
	}
}

func TestArrivedChannelDataFansOutToSubscribers(t *testing.T) {
	repo := NewRepository(RepositoryConfig{})
	defer repo.Close()

	chID := gnuid.New()
	ch, _ := repo.GetOrCreate(chID, nil)

	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	ch.Broker().NewConnection(gnuid.New(), sinkA, make(chan struct{}), RoleDirect)
	ch.Broker().NewConnection(gnuid.New(), sinkB, make(chan struct{}), RoleDirect)

	ch.Broker().ArrivedChannelHead(atom.NewParent(id4.PCPChan, nil), []byte("h"), 13, nil, nil)
	ch.Broker().ArrivedChannelData(atom.NewParent(id4.PCPChan, nil), []byte("d1"), 14, false)

	waitFor(t, func() bool { return len(sinkA.messages) >= 2 && len(sinkB.messages) >= 2 })
	if sinkA.messages[1].Kind != OutboundData || sinkA.messages[1].Pos != 14 {
		t.Fatalf("subscriber A missing data relay: %+v", sinkA.messages)
	}
	if sinkB.messages[1].Kind != OutboundData {
		t.Fatalf("subscriber B missing data relay: %+v", sinkB.messages)
	}
}

func TestRelayCountTracksRelayRoleOnly(t *testing.T) {
	repo := NewRepository(RepositoryConfig{})
	defer repo.Close()

	chID := gnuid.New()
	ch, _ := repo.GetOrCreate(chID, nil)

	ch.Broker().NewConnection(gnuid.New(), &recordingSink{}, make(chan struct{}), RoleDirect)
	ch.Broker().NewConnection(gnuid.New(), &recordingSink{}, make(chan struct{}), RoleRelay)
	ch.Broker().NewConnection(gnuid.New(), &recordingSink{}, make(chan struct{}), RoleRelay)

	waitFor(t, func() bool { return ch.Broker().SubscriberCount() == 3 })
	if got := ch.Broker().RelayCount(); got != 2 {
		t.Fatalf("expected 2 relay subscribers, got %d", got)
	}

	snaps := repo.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].Relays != 2 || snaps[0].Listeners != 1 {
		t.Fatalf("expected Relays=2 Listeners=1, got %+v", snaps[0])
	}
}

func TestArrivedChannelDataBeforeHeadPanics(t *testing.T) {
	b := NewBroker(gnuid.New(), nil, nil)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on data-before-head invariant violation")
		}
	}()
	b.handleArrivedChannelData(&arrivedChannelDataMsg{atom: atom.NewParent(id4.PCPChan, nil)})
}

func TestAtMostOneSourceInvariant(t *testing.T) {
	b := NewBroker(gnuid.New(), nil, nil)
	if !b.AttachSource() {
		t.Fatalf("first AttachSource should succeed")
	}
	if b.AttachSource() {
		t.Fatalf("second AttachSource should fail while first is active")
	}
	b.DetachSource()
	if !b.AttachSource() {
		t.Fatalf("AttachSource should succeed again after DetachSource")
	}
}

func TestUpdateChannelInfoDoesNotForward(t *testing.T) {
	repo := NewRepository(RepositoryConfig{})
	defer repo.Close()
	chID := gnuid.New()
	ch, _ := repo.GetOrCreate(chID, nil)

	sink := &recordingSink{}
	ch.Broker().NewConnection(gnuid.New(), sink, make(chan struct{}), RoleDirect)
	ch.Broker().UpdateChannelInfo(model.ChannelInfo{Name: "Radio"}, model.TrackInfo{Title: "Song"})

	// Give the broker a moment to process, then assert nothing forwarded.
	time.Sleep(50 * time.Millisecond)
	if len(sink.messages) != 0 {
		t.Fatalf("UpdateChannelInfo must not forward to subscribers, got %+v", sink.messages)
	}

	info, track := ch.Info()
	if info.Name != "Radio" || track.Title != "Song" {
		t.Fatalf("metadata not applied: %+v %+v", info, track)
	}
}

func TestRepositoryGetOrCreateIsIdempotent(t *testing.T) {
	repo := NewRepository(RepositoryConfig{})
	defer repo.Close()
	id := gnuid.New()
	ch1, created1 := repo.GetOrCreate(id, nil)
	ch2, created2 := repo.GetOrCreate(id, nil)
	if !created1 || created2 {
		t.Fatalf("expected created=true then false, got %v %v", created1, created2)
	}
	if ch1 != ch2 {
		t.Fatalf("expected same channel handle on repeated GetOrCreate")
	}
}

func TestRepositoryDeleteInvokesBeforeDelete(t *testing.T) {
	var retired gnuid.GnuId
	called := make(chan struct{}, 1)
	repo := NewRepository(RepositoryConfig{
		BeforeDelete: func(ch *Channel) {
			retired = ch.ID
			called <- struct{}{}
		},
	})
	defer repo.Close()

	id := gnuid.New()
	repo.GetOrCreate(id, nil)
	if !repo.Delete(id) {
		t.Fatalf("expected delete to report true")
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatalf("before_delete hook was not invoked")
	}
	if retired != id {
		t.Fatalf("before_delete saw wrong channel id")
	}
	if repo.Get(id) != nil {
		t.Fatalf("expected channel to be gone after delete")
	}
}

func TestRepositoryEvictsStaleChannels(t *testing.T) {
	evicted := make(chan gnuid.GnuId, 1)
	repo := NewRepository(RepositoryConfig{
		DeleteCheckInterval: 10 * time.Millisecond,
		DeletePeriod:        20 * time.Millisecond,
		BeforeDelete: func(ch *Channel) {
			evicted <- ch.ID
		},
	})
	defer repo.Close()

	id := gnuid.New()
	repo.GetOrCreate(id, nil)

	select {
	case got := <-evicted:
		if got != id {
			t.Fatalf("evicted wrong channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected stale channel to be evicted")
	}
	if repo.Get(id) != nil {
		t.Fatalf("expected channel removed from map after eviction")
	}
}

func TestRepositoryTouchPreventsEviction(t *testing.T) {
	repo := NewRepository(RepositoryConfig{
		DeleteCheckInterval: 10 * time.Millisecond,
		DeletePeriod:        30 * time.Millisecond,
	})
	defer repo.Close()

	id := gnuid.New()
	ch, _ := repo.GetOrCreate(id, nil)
	stop := time.After(150 * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			ch.Touch()
		case <-stop:
			break loop
		}
	}
	if repo.Get(id) == nil {
		t.Fatalf("expected touched channel to survive eviction sweeps")
	}
}

func TestSnapshotsProjectsAllChannels(t *testing.T) {
	repo := NewRepository(RepositoryConfig{})
	defer repo.Close()
	idA, idB := gnuid.New(), gnuid.New()
	repo.GetOrCreate(idA, nil)
	repo.GetOrCreate(idB, nil)

	snaps := repo.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
}
