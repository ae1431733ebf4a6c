package relaytask

import (
	"context"
	"errors"

	pcperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/pcp/atom"
	"github.com/alxayo/go-rtmp/internal/pcp/decode"
	"github.com/alxayo/go-rtmp/internal/pcp/handshake"
	"github.com/alxayo/go-rtmp/internal/pcp/id4"
)

// outboundQueueCapacity bounds the Relay task's local outbound atom queue,
// which the writer goroutine drains. Nothing in this package enqueues to
// it, so the writer sends no keepalive or QUIT atoms of its own.
const outboundQueueCapacity = 32

// receive implements spec.md §4.4's "Receiving" phase: spawn a reader that
// parses atoms and forwards ArrivedChannelHead/ArrivedChannelData to the
// broker, and a writer that drains a local outbound queue, sharing the one
// TCP stream wrapped by h. Blocks until the stream ends or ctx is
// canceled, generalizing connection_reader/connection_writer
// (original_source src/pcp/channel/src_task/relay_task.rs).
func (w *worker) receive(ctx context.Context, h *handshake.PcpHandshake) error {
	outbound := make(chan atom.Atom, outboundQueueCapacity)
	readerErr := make(chan error, 1)
	writerErr := make(chan error, 1)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readerErr <- w.runReader(ctx, h)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writerErr <- runWriter(h, outbound)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-readerErr:
	case err = <-writerErr:
	}

	h.Conn().Close()
	close(outbound)
	<-readerDone
	<-writerDone

	if errors.Is(err, errStreamEnded) {
		return nil
	}
	return err
}

// errStreamEnded marks a clean upstream close (EOF or terminal PCP_QUIT),
// distinguished from an actual transport/protocol error.
var errStreamEnded = errors.New("relaytask: upstream stream ended")

func (w *worker) runReader(ctx context.Context, h *handshake.PcpHandshake) error {
	for {
		a, err := h.ReadAtom(ctx, streamReadTimeout)
		if err != nil {
			if pcperrors.IsTimeout(err) {
				return err
			}
			return errStreamEnded
		}
		if err := w.dispatchAtom(a); err != nil {
			return err
		}
	}
}

// dispatchAtom translates one arrived atom into the broker message
// contract, mirroring handle_raised_event's ArrivedHeadData/ArrivedData
// branches (original_source relay_task.rs). An unrecognized atom is logged
// and dropped, per spec.md §4.9 "SessionResult::Unknown -> warn".
func (w *worker) dispatchAtom(a atom.Atom) error {
	switch a.ID() {
	case id4.PCPChan:
		cp, err := decode.DecodeChannelPacket(a)
		if err != nil {
			return pcperrors.NewParseError("relaytask.dispatchAtom", err)
		}
		switch cp.Type {
		case decode.ChanPktHead:
			w.broker.ArrivedChannelHead(a, cp.Data, cp.Pos, cp.Info, cp.Track)
		case decode.ChanPktData:
			w.broker.ArrivedChannelData(a, cp.Data, cp.Pos, cp.HasContinuation && cp.Continuation)
		default:
			w.logger.Warn("relaytask: unrecognized channel packet type", "channel_id", w.channelID.String())
		}
	case id4.PCPQuit:
		return errStreamEnded
	case id4.PCPHost:
		// Host gossip arriving mid-stream; the repository/broker do not
		// currently track live upstream host updates post-handshake.
	default:
		w.logger.Debug("relaytask: unhandled atom", "id", a.ID().String())
	}
	return nil
}

func runWriter(h *handshake.PcpHandshake, outbound <-chan atom.Atom) error {
	for first := range outbound {
		pending := []atom.Atom{first}
	drain:
		for {
			select {
			case next, ok := <-outbound:
				if !ok {
					break drain
				}
				pending = append(pending, next)
			default:
				break drain
			}
		}
		if err := h.WriteAtoms(writeTimeout, pending...); err != nil {
			return err
		}
	}
	return errStreamEnded
}
