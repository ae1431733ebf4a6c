// Package orchestrator composes the node's listeners, accept loops and
// two-level shutdown token into the running process, per spec.md §4.9
// "Process orchestrator".
//
// Grounded in the teacher's internal/rtmp/server/server.go (Config/Server/
// Start/acceptLoop/Stop shape), generalized from one RTMP listener to the
// PCP-multiplexed listener (native PCP, PCP-over-HTTP channel pull, and
// plain HTTP all classified off one accept loop via internal/classify) plus
// any number of additional Components — the RTMP ingest server chief among
// them — whose own Start/Stop lifecycle the orchestrator merely sequences
// rather than reimplementing.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/alxayo/go-rtmp/internal/metrics"
	"github.com/alxayo/go-rtmp/internal/pcp/channel"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
	"github.com/alxayo/go-rtmp/internal/pcp/handshake"
)

// DefaultForceShutdownDeadline is how long an operator has between the
// first and an escalating SIGINT before the node forces shutdown anyway,
// per spec.md §4.9 "a second SIGINT within a deadline (default 60s)".
const DefaultForceShutdownDeadline = 60 * time.Second

// Component is anything the orchestrator starts alongside its own
// listener and stops as part of an orderly shutdown. internal/rtmp/server's
// *Server already satisfies this (Start() error / Stop() error) without
// modification.
type Component interface {
	Start() error
	Stop() error
}

// Config configures one orchestrator Server.
type Config struct {
	// ListenAddr is the PCP-multiplexed listener address (spec.md §6
	// "Ports": PCP 7144 by default), serving native PCP, PCP-over-HTTP
	// channel pull, and plain HTTP index surfaces from one accept loop.
	ListenAddr string

	SelfSessionID gnuid.GnuId
	RootMode      bool
	RootOptions   handshake.RootOptions

	// MaxConnections caps concurrent in-flight connections on the PCP
	// listener via golang.org/x/net/netutil.LimitListener (SPEC_FULL.md
	// §4.9). Zero means unlimited.
	MaxConnections int

	// ClassifyDeadline bounds how long the accept-time protocol sniff may
	// take before a connection is abandoned.
	ClassifyDeadline time.Duration

	// PerIPHandshakeRate and PerIPHandshakeBurst cap how many connection
	// attempts per second a single remote IP may open before the accept
	// loop starts rejecting it, ahead of even the protocol classifier.
	// PerIPHandshakeRate <= 0 disables the limiter.
	PerIPHandshakeRate  float64
	PerIPHandshakeBurst int

	// HTTPHandler serves the plain-HTTP index surfaces (internal/httpapi's
	// /index.txt and /api/index.json) for connections classify.Classify
	// sniffs as ordinary HTTP rather than PCP-framed. Nil disables the
	// plain-HTTP surface: such connections are simply dropped.
	HTTPHandler http.Handler

	Repository *channel.Repository
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ClassifyDeadline <= 0 {
		c.ClassifyDeadline = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// defaultLimiterIdleReap is how long a per-IP limiter entry may sit unused
// before the background reaper drops it.
const defaultLimiterIdleReap = 10 * time.Minute

// Server is the node's process orchestrator: one PCP-multiplexed listener
// plus any number of additional Components, all torn down through the same
// graceful/force token pair.
type Server struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	started  []Component

	connsWG sync.WaitGroup
	limiter *perIPLimiter
}

// New constructs a Server. Call Start to bind the listener and begin
// accepting connections.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "orchestrator"),
		limiter: newPerIPLimiter(cfg.PerIPHandshakeRate, cfg.PerIPHandshakeBurst),
	}
}

// Start binds the PCP-multiplexed listener, starts every component, and
// launches the accept loop. graceful is the context the accept loop and
// every dispatched connection handler observe to stop taking on new work.
func (s *Server) Start(graceful context.Context, components ...Component) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	if s.cfg.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.cfg.MaxConnections)
	}

	for i, c := range components {
		if err := c.Start(); err != nil {
			_ = l.Close()
			for _, started := range s.started {
				_ = started.Stop()
			}
			return err
		}
		s.started = components[:i+1]
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.Info("orchestrator listening", "addr", l.Addr().String(), "root_mode", s.cfg.RootMode)
	go s.acceptLoop(graceful)
	go s.reapLimiterLoop(graceful)
	return nil
}

func (s *Server) reapLimiterLoop(graceful context.Context) {
	ticker := time.NewTicker(defaultLimiterIdleReap)
	defer ticker.Stop()
	for {
		select {
		case <-graceful.Done():
			return
		case <-ticker.C:
			s.limiter.reap(defaultLimiterIdleReap)
		}
	}
}

// role reports the handshake.Role this node presents to peers, derived from
// whether it's configured as a PCP root/tracker.
func (s *Server) role() handshake.Role {
	if s.cfg.RootMode {
		return handshake.RoleRoot
	}
	return handshake.RoleRelay
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(graceful context.Context) {
	for {
		s.mu.Lock()
		l := s.listener
		s.mu.Unlock()
		if l == nil {
			return
		}
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "error", err)
			return
		}
		if !s.limiter.Allow(conn.RemoteAddr()) {
			s.log.Debug("rate limited", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		s.connsWG.Add(1)
		go func() {
			defer s.connsWG.Done()
			s.handleConn(graceful, conn)
		}()
	}
}

// Shutdown stops accepting new connections, stops every component, and
// waits for in-flight connection handlers to finish -- unless force fires
// first, in which case it returns immediately without waiting further
// (spec.md §4.9 "at force time it drops all senders, waits bounded time,
// then returns").
func (s *Server) Shutdown(force context.Context) error {
	s.mu.Lock()
	s.closing = true
	l := s.listener
	s.listener = nil
	started := s.started
	s.mu.Unlock()

	if l != nil {
		_ = l.Close()
	}
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(); err != nil {
			s.log.Warn("component stop error", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.connsWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("orchestrator shutdown complete")
		return nil
	case <-force.Done():
		s.log.Warn("force shutdown: abandoning in-flight connections")
		return force.Err()
	}
}

// Lifecycle owns the two-level graceful/force cancellation token pair and
// the SIGINT/SIGTERM escalation policy, per spec.md §4.9. Grounded in the
// teacher's cmd/rtmp-server/main.go signal.NotifyContext + timeout-select
// idiom, generalized from a single shutdown token to the graceful/force
// pair spec.md commits to.
type Lifecycle struct {
	Graceful context.Context
	Force    context.Context

	gracefulCancel context.CancelFunc
	forceCancel    context.CancelFunc
}

// NewLifecycle constructs a Lifecycle with both tokens live.
func NewLifecycle() *Lifecycle {
	gctx, gcancel := context.WithCancel(context.Background())
	fctx, fcancel := context.WithCancel(context.Background())
	return &Lifecycle{Graceful: gctx, Force: fctx, gracefulCancel: gcancel, forceCancel: fcancel}
}

// TriggerGraceful cancels the graceful token, as if the first shutdown
// signal had arrived. Exposed so non-signal callers (tests, an admin HTTP
// shutdown endpoint) can drive the same path a SIGINT would.
func (lc *Lifecycle) TriggerGraceful() { lc.gracefulCancel() }

// TriggerForce cancels the force token.
func (lc *Lifecycle) TriggerForce() { lc.forceCancel() }

// Watch observes SIGINT and SIGTERM. SIGTERM triggers graceful and force
// shutdown at once. SIGINT escalates per spec.md §4.9: the first one
// triggers graceful shutdown and opens an escalateWithin window; a second
// SIGINT inside that window triggers force; one arriving after the window
// has lapsed starts a fresh window instead of forcing immediately (so
// "three SIGINTs within the deadline" and "a second SIGINT within the
// deadline" both resolve to the same rule: two signals within one
// escalation window). Returns when ctx is done or force has been triggered.
func (lc *Lifecycle) Watch(ctx context.Context, escalateWithin time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var windowOpen bool
	var windowDeadline time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if sig == syscall.SIGTERM {
				logger.Warn("force shutdown requested", "signal", "SIGTERM")
				lc.gracefulCancel()
				lc.forceCancel()
				return
			}
			now := time.Now()
			if !windowOpen || now.After(windowDeadline) {
				windowOpen = true
				windowDeadline = now.Add(escalateWithin)
				logger.Info("graceful shutdown requested")
				lc.gracefulCancel()
				continue
			}
			logger.Warn("force shutdown requested")
			lc.forceCancel()
			return
		}
	}
}
