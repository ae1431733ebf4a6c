package broadcasttask

import (
	"log/slog"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// subscriber adapts a Task into the teacher's media.Subscriber/
// media.TrySendMessage contract (internal/rtmp/media/relay.go), so a
// Broadcast task can be registered on a server.Stream the same way any
// other RTMP play subscriber is, and receive the publisher's messages
// through Stream.BroadcastMessage's existing non-blocking fan-out.
//
// inbound is never closed: Stream.RemoveSubscriber can race a concurrent
// BroadcastMessage call that already snapshotted this subscriber, so the
// run loop instead stops reading on ctx.Done() and leaves the channel to
// be garbage-collected once nothing references it.
type subscriber struct {
	logger    *slog.Logger
	streamKey string

	inbound chan *chunk.Message
}

func newSubscriber(logger *slog.Logger, streamKey string) *subscriber {
	return &subscriber{
		logger:    logger,
		streamKey: streamKey,
		inbound:   make(chan *chunk.Message, queueCapacity),
	}
}

// TrySendMessage implements media.TrySendMessage: non-blocking enqueue,
// dropping the message if the task's worker is falling behind.
func (s *subscriber) TrySendMessage(msg *chunk.Message) bool {
	select {
	case s.inbound <- msg:
		return true
	default:
		s.logger.Debug("broadcasttask: dropped rtmp message (worker behind)", "stream_key", s.streamKey)
		return false
	}
}

// SendMessage implements media.Subscriber's blocking fallback, used only if
// a caller does not check for the TrySendMessage interface first.
func (s *subscriber) SendMessage(msg *chunk.Message) error {
	s.inbound <- msg
	return nil
}
