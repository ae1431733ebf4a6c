// Package broadcasttask implements the Broadcast variant of the per-channel
// source task: it attaches to a local RTMP publisher's stream as a
// subscriber, translates arriving audio/video/metadata messages into
// internal/flv events, and pushes them into a channel.Broker's assembler,
// per spec.md §4.4 "Broadcast" and §4.6.
//
// Grounded in original_source src/pcp/channel/task/broadcast_task.rs's
// BroadcastWorker: the Init/Idle/Recieving/Finished/Error status
// progression, and handle_raised_event's translation of one arrived RTMP
// event into exactly one message pushed to the channel broker. Unlike the
// Rust original, this task does not additionally register itself with the
// broker as a disconnect-tracked "connection" — this implementation's
// channel.Broker already enforces the at-most-one-source invariant via
// AttachSource/DetachSource, which supersedes that mechanism (see spec.md
// §9 "Open questions" resolution in DESIGN.md).
package broadcasttask

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/alxayo/go-rtmp/internal/flv"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
	"github.com/alxayo/go-rtmp/internal/rtmp/server"
)

// RTMP message type IDs this task recognizes, matching the numbering
// internal/rtmp/media's CodecDetector already switches on.
const (
	typeIDAudio = 8
	typeIDVideo = 9
	typeIDData  = 18
)

// queueCapacity bounds the subscriber adapter's local inbound queue. A
// publisher that outruns the channel broker's ingestion drops frames here
// rather than blocking the RTMP connection, mirroring the teacher's
// TrySendMessage drop-on-full semantics (internal/rtmp/media/relay.go).
const queueCapacity = 256

// Status is the Broadcast task's lifecycle state, mirroring
// original_source's WorkerStatus enum exactly (Init/Idle/Recieving
// reflected here as Receiving/Finished/Error).
type Status int

const (
	StatusInit Status = iota
	StatusIdle
	StatusReceiving
	StatusFinished
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusIdle:
		return "idle"
	case StatusReceiving:
		return "receiving"
	case StatusFinished:
		return "finished"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// statusWatch is the same hand-rolled watch-channel used by relaytask; see
// that package's doc comment for why Go needs this instead of
// tokio::sync::watch.
type statusWatch struct {
	mu      sync.Mutex
	status  Status
	changed chan struct{}
}

func newStatusWatch() *statusWatch {
	return &statusWatch{changed: make(chan struct{})}
}

func (w *statusWatch) set(s Status) {
	w.mu.Lock()
	w.status = s
	ch := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(ch)
}

func (w *statusWatch) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *statusWatch) Changed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changed
}

// Config configures one Broadcast source task.
type Config struct {
	ChannelID gnuid.GnuId
	StreamKey string
	Registry  *server.Registry
	Broker    *channel.Broker
	Logger    *slog.Logger
}

// Task is the Broadcast source task handle exposed to the owning Channel.
type Task struct {
	cfg    Config
	logger *slog.Logger
	status *statusWatch

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	stream *server.Stream
	sub    *subscriber
}

// New constructs a Task in StatusInit.
func New(cfg Config) *Task {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Task{
		cfg:    cfg,
		logger: logger,
		status: newStatusWatch(),
		done:   make(chan struct{}),
	}
}

// Status reports the task's current lifecycle state.
func (t *Task) Status() Status { return t.status.Status() }

// Changed returns a channel that closes on the next status transition.
func (t *Task) Changed() <-chan struct{} { return t.status.Changed() }

// Done reports when the worker goroutine has exited.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the error the task stopped with, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start attaches to the broker (enforcing the at-most-one-source invariant)
// and the registry stream identified by cfg.StreamKey, then launches the
// worker goroutine that drains arriving RTMP messages into the broker.
// Returns false without starting if a source is already attached.
func (t *Task) Start(ctx context.Context) bool {
	if !t.cfg.Broker.AttachSource() {
		return false
	}
	stream, _ := t.cfg.Registry.CreateStream(t.cfg.StreamKey)

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.stream = stream
	t.sub = newSubscriber(t.logger, t.cfg.StreamKey)
	stream.AddSubscriber(t.sub)

	t.status.set(StatusIdle)
	go t.run(ctx)
	return true
}

// Stop cancels the task's context and detaches it from the stream.
func (t *Task) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	defer t.cfg.Broker.DetachSource()
	defer t.stream.RemoveSubscriber(t.sub)

	t.status.set(StatusReceiving)
	for {
		select {
		case <-ctx.Done():
			t.status.set(StatusFinished)
			return
		case msg := <-t.sub.inbound:
			if err := t.dispatch(msg); err != nil {
				t.fail(err)
				return
			}
		}
	}
}

// dispatch translates one arrived RTMP media message into a
// channel.BroadcastEvent pushed to the broker, mirroring
// handle_raised_event (original_source broadcast_task.rs).
func (t *Task) dispatch(msg *chunk.Message) error {
	switch msg.TypeID {
	case typeIDVideo:
		droppable := false
		if vm, err := media.ParseVideoMessage(msg.Payload); err == nil {
			droppable = vm.FrameType == media.VideoFrameTypeInter
		}
		t.cfg.Broker.PushBroadcastEvent(flv.NewVideoEvent{
			Timestamp: msg.Timestamp, Data: msg.Payload, Droppable: droppable,
		})
	case typeIDAudio:
		t.cfg.Broker.PushBroadcastEvent(flv.NewAudioEvent{
			Timestamp: msg.Timestamp, Data: msg.Payload, Droppable: false,
		})
	case typeIDData:
		if meta, ok := decodeMetadata(msg.Payload); ok {
			t.cfg.Broker.PushBroadcastEvent(flv.NewMetadataEvent{Meta: meta})
		}
	default:
		t.logger.Debug("broadcasttask: unhandled rtmp message", "type_id", msg.TypeID, "channel_id", t.cfg.ChannelID.String())
	}
	return nil
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.logger.Warn("broadcast task failed", "channel_id", t.cfg.ChannelID.String(), "error", err)
	t.status.set(StatusError)
}

// decodeMetadata parses an AMF0 data message (onMetaData, optionally
// wrapped in "@setDataFrame") into a flv.StreamMetadata, per spec.md §4.6
// "NewMetadata(meta) — store". Only the fields the assembler cares about
// (presence, basic dimensions/codec hints) are extracted; unrecognized or
// malformed payloads are dropped rather than failing the task.
func decodeMetadata(payload []byte) (flv.StreamMetadata, bool) {
	values, err := amf.DecodeAll(payload)
	if err != nil {
		return flv.StreamMetadata{}, false
	}
	for _, v := range values {
		obj, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		meta := flv.StreamMetadata{}
		if w, ok := obj["width"].(float64); ok {
			meta.Width = int(w)
		}
		if h, ok := obj["height"].(float64); ok {
			meta.Height = int(h)
		}
		if fr, ok := obj["framerate"].(float64); ok {
			meta.FrameRate = fr
		}
		if vc, ok := obj["videocodecid"]; ok {
			meta.VideoCodec = codecIDString(vc)
		}
		if ac, ok := obj["audiocodecid"]; ok {
			meta.AudioCodec = codecIDString(ac)
		}
		return meta, true
	}
	return flv.StreamMetadata{}, false
}

func codecIDString(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case string:
		return x
	default:
		return ""
	}
}
