package orchestrator

import (
	"net"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/pcp/channel"
)

// connSink is the orchestrator's channel.Sink for a single channel-pull
// subscriber: it owns an unbounded queue of OutboundMessages and a writer
// goroutine that drains it onto the underlying net.Conn, per spec.md §4.3
// "senders are unbounded; a slow subscriber costs memory but never blocks
// the broker". Grounded in the broker's own mailbox idiom (channel/broker.go
// NewConnection/broadcast), generalized from an in-memory test fake
// (relaytask_test.go's recordingSink) to a real wire writer.
type connSink struct {
	conn         net.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []channel.OutboundMessage
	closed bool

	done chan struct{}
}

func newConnSink(conn net.Conn, writeTimeout time.Duration) *connSink {
	s := &connSink{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Send implements channel.Sink. It never blocks: a closed sink silently
// drops the message instead of panicking into the broker's goroutine.
func (s *connSink) Send(msg channel.OutboundMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.cond.Signal()
}

// Disconnect reports when the writer goroutine has stopped, whether because
// Stop was called or because a write to conn failed.
func (s *connSink) Disconnect() <-chan struct{} { return s.done }

// Stop drains no further messages and wakes the writer goroutine so it can
// exit. Safe to call more than once.
func (s *connSink) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *connSink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			s.Stop()
			return
		}
		if _, err := s.conn.Write(msg.Atom.Encode()); err != nil {
			s.Stop()
			return
		}
	}
}
