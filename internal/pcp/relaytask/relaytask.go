// Package relaytask implements the Relay variant of the per-channel source
// task: an outbound PCP client that follows a host chain to pull one
// channel and forwards it into a channel.Broker, per spec.md §4.4.
//
// Grounded in original_source
// src/pcp/channel/src_task/relay_task.rs's ChannelTaskWoker. That file's
// start() actually calls the stubbed connect_to_peer_only_root(); this
// package implements the FULL connect_to_peer() state machine spec.md
// §4.4 commits to (host-queue retries, NextHost merging, ChannelNotFound
// propagation only from the root candidate) — the simplified stub is not
// reproduced, per spec.md §9 "Open questions".
package relaytask

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	pcperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/handshake"
	"github.com/alxayo/go-rtmp/internal/pcp/model"
)

// maxRetry bounds how many times one host candidate is retried before it
// is moved from target_hosts to failed_hosts, per spec.md §4.4 "Host
// selection" and §4.9 "retry counter capped at 3 per host".
const maxRetry = 3

// streamReadTimeout bounds how long the Receiving-phase reader waits for
// the next atom once the stream is established. Unlike the handshake
// timeouts (spec.md §4.2), an established relay stream is expected to be
// silent between keepalives, so this is deliberately generous.
const streamReadTimeout = 60 * time.Second

const writeTimeout = 5 * time.Second

// hostKind distinguishes the configured upstream (Server) from a peer
// learned via a NextHost response, mirroring HostCandidate::{Server,Peer}
// (original_source src/pcp/channel/node_pool.rs).
type hostKind int

const (
	hostServer hostKind = iota
	hostPeer
)

// HostCandidate is one entry in the target/failed host queues.
type HostCandidate struct {
	kind      hostKind
	sessionID gnuid.GnuId
	addr      *net.TCPAddr
	retries   int
}

func serverCandidate(addr *net.TCPAddr) HostCandidate {
	return HostCandidate{kind: hostServer, addr: addr}
}

func peerCandidate(sessionID gnuid.GnuId, addr *net.TCPAddr) HostCandidate {
	return HostCandidate{kind: hostPeer, sessionID: sessionID, addr: addr}
}

// Status is the Relay task's lifecycle state, per spec.md §4.4 "State
// machine: Init -> Handshake -> Receiving -> (Finish | Error)".
type Status int

const (
	StatusInit Status = iota
	StatusHandshake
	StatusReceiving
	StatusFinished
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusHandshake:
		return "handshake"
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

// statusWatch is a minimal watch-channel: readers pull the current value
// and may wait on Changed() for the next transition. Generalizes
// tokio::sync::watch (original_source's status_tx/status_rx) into Go's
// close-and-replace idiom, since Go has no built-in watch channel.
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

// Config configures one Relay source task.
type Config struct {
	ChannelID     gnuid.GnuId
	SelfSessionID gnuid.GnuId
	RootAddr      *net.TCPAddr
	Broker        *channel.Broker
	Logger        *slog.Logger
}

// Task is the Relay source task handle exposed to the owning Channel,
// mirroring original_source's RelayTask (the thin public wrapper around
// the unexported worker goroutine).
type Task struct {
	cfg    Config
	logger *slog.Logger
	status *statusWatch

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New constructs a Task in StatusInit. Call Start to launch its worker
// goroutine.
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

// Err returns the error the task stopped with, if any (nil on a clean
// Finish).
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start attaches the task to its broker (enforcing the at-most-one-source
// invariant, spec.md §4.3) and launches the worker goroutine. Returns
// false without starting if a source is already attached.
func (t *Task) Start(ctx context.Context) bool {
	if !t.cfg.Broker.AttachSource() {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	go t.run(ctx)
	return true
}

// Retry restarts the task from StatusInit, reusing the same configuration.
// Mirrors RelayTask::retry (original_source relay_task.rs).
func (t *Task) Retry(ctx context.Context) bool {
	return t.Start(ctx)
}

// Stop cancels the task's context, tearing down its connection and
// goroutines.
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

	w := &worker{
		channelID:     t.cfg.ChannelID,
		selfSessionID: t.cfg.SelfSessionID,
		broker:        t.cfg.Broker,
		logger:        t.logger,
		targetHosts:   []HostCandidate{serverCandidate(t.cfg.RootAddr)},
	}

	t.status.set(StatusHandshake)
	h, result, err := w.connectToPeer(ctx)
	if err != nil {
		t.fail(err)
		return
	}
	defer h.Conn().Close()

	t.logger.Info("relay task connected", "channel_id", t.cfg.ChannelID.String(), "remote_session_id", result.Oleh.SessionID.String())
	t.status.set(StatusReceiving)

	if err := w.receive(ctx, h); err != nil {
		t.fail(err)
		return
	}
	t.status.set(StatusFinished)
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.logger.Warn("relay task failed", "channel_id", t.cfg.ChannelID.String(), "error", err)
	t.status.set(StatusError)
}

// worker carries the per-connection-attempt state, mirroring
// ChannelTaskWoker (original_source relay_task.rs).
type worker struct {
	channelID     gnuid.GnuId
	selfSessionID gnuid.GnuId
	broker        *channel.Broker
	logger        *slog.Logger

	targetHosts []HostCandidate
	failedHosts []HostCandidate
}

// connectToPeer implements spec.md §4.4's "Host selection" loop in full:
// pop a candidate, dial with a timeout, run the outgoing channel-pull
// handshake, and branch on its outcome. This is the package's namesake
// departure from original_source's start(), which calls the simplified
// connect_to_peer_only_root() stub instead of this method.
func (w *worker) connectToPeer(ctx context.Context) (*handshake.PcpHandshake, handshake.PullResult, error) {
	for {
		target, ok := w.popTarget()
		if !ok {
			return nil, handshake.PullResult{}, &pcperrors.ServerNotFoundError{ChannelID: w.channelID.String()}
		}

		dialCtx, cancel := context.WithTimeout(ctx, handshake.DefaultConnectTimeout)
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", target.addr.String())
		cancel()
		if err != nil {
			w.logger.Debug("relay connect failed", "addr", target.addr, "error", err)
			w.retryOrFail(target)
			continue
		}

		h := handshake.New(conn, w.selfSessionID, conn.RemoteAddr())
		result, err := h.OutgoingChannelPull(ctx, w.channelID)
		if err != nil {
			conn.Close()
			if pcperrors.IsChannelNotFound(err) {
				// spec.md §4.4: ChannelNotFound propagates only from the
				// configured root upstream; from any other candidate
				// (learned via NextHost) it is dropped silently.
				if target.kind == hostServer {
					return nil, handshake.PullResult{}, err
				}
				continue
			}
			w.logger.Debug("relay handshake failed", "addr", target.addr, "error", err)
			w.retryOrFail(target)
			continue
		}

		switch result.Outcome {
		case handshake.PullNextHost:
			target.sessionID = result.Oleh.SessionID
			w.mergeHosts(result.Hosts)
			w.targetHosts = append(w.targetHosts, target)
			conn.Close()
			continue
		case handshake.PullSuccess:
			target.sessionID = result.Oleh.SessionID
			target.retries = 0
			w.targetHosts = append(w.targetHosts, target)
			return h, result, nil
		default:
			conn.Close()
			return nil, handshake.PullResult{}, pcperrors.NewHandshakeError("connectToPeer", fmt.Errorf("unexpected pull outcome %d", result.Outcome))
		}
	}
}

func (w *worker) popTarget() (HostCandidate, bool) {
	if len(w.targetHosts) == 0 {
		return HostCandidate{}, false
	}
	target := w.targetHosts[0]
	w.targetHosts = w.targetHosts[1:]
	return target, true
}

// retryOrFail increments target's retry counter and requeues it to
// targetHosts if still under maxRetry, else moves it to failedHosts, per
// spec.md §4.4 step 2.
func (w *worker) retryOrFail(target HostCandidate) {
	target.retries++
	if target.retries < maxRetry {
		w.targetHosts = append(w.targetHosts, target)
	} else {
		w.failedHosts = append(w.failedHosts, target)
	}
}

// mergeHosts folds a NextHost response's offered hosts into targetHosts,
// deduped by session-id against both queues (spec.md §4.4 step 3).
func (w *worker) mergeHosts(hosts []model.Host) {
	for _, host := range hosts {
		if host.SessionID.IsNone() || host.GlobalIP == nil {
			continue
		}
		if w.knownSessionID(host.SessionID) {
			continue
		}
		addr := &net.TCPAddr{IP: host.GlobalIP, Port: int(host.GlobalPort)}
		w.targetHosts = append(w.targetHosts, peerCandidate(host.SessionID, addr))
	}
}

func (w *worker) knownSessionID(id gnuid.GnuId) bool {
	for _, h := range w.targetHosts {
		if h.sessionID == id {
			return true
		}
	}
	for _, h := range w.failedHosts {
		if h.sessionID == id {
			return true
		}
	}
	return false
}
