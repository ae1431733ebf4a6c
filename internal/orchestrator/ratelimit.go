package orchestrator

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// perIPLimiter caps how many connection attempts per second a single
// remote IP may open before the accept loop starts rejecting it outright,
// protecting the handshake path from a single misbehaving or flooding peer
// (a real concern for a gossip node whose listener address is published in
// a Root's index). Idle entries are reaped so a long-running node doesn't
// accumulate one limiter per ephemeral peer forever.
type perIPLimiter struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter *rate.Limiter
	lastHit time.Time
}

// newPerIPLimiter constructs a limiter allowing r connections/sec with
// burst capacity b per remote IP. r <= 0 disables limiting (Allow always
// returns true).
func newPerIPLimiter(r float64, b int) *perIPLimiter {
	return &perIPLimiter{
		rate:    rate.Limit(r),
		burst:   b,
		entries: make(map[string]*limiterEntry),
	}
}

// Allow reports whether a new connection from addr may proceed.
func (p *perIPLimiter) Allow(addr net.Addr) bool {
	if p == nil || p.rate <= 0 {
		return true
	}
	host := hostOf(addr)

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[host]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.rate, p.burst)}
		p.entries[host] = e
	}
	e.lastHit = time.Now()
	return e.limiter.Allow()
}

// reap drops limiter entries untouched for longer than idle, bounding the
// map's size under sustained churn from many distinct peers.
func (p *perIPLimiter) reap(idle time.Duration) {
	if p == nil {
		return
	}
	cutoff := time.Now().Add(-idle)
	p.mu.Lock()
	defer p.mu.Unlock()
	for host, e := range p.entries {
		if e.lastHit.Before(cutoff) {
			delete(p.entries, host)
		}
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
