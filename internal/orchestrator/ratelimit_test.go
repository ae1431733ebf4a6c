package orchestrator

import (
	"net"
	"testing"
	"time"
)

func TestPerIPLimiterDisabledByDefault(t *testing.T) {
	l := newPerIPLimiter(0, 0)
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234}
	for i := 0; i < 100; i++ {
		if !l.Allow(addr) {
			t.Fatalf("attempt %d: expected unlimited limiter to always allow", i)
		}
	}
}

func TestPerIPLimiterCapsBurstPerAddress(t *testing.T) {
	l := newPerIPLimiter(1, 2)
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1234}

	if !l.Allow(addr) {
		t.Fatal("first attempt should be allowed")
	}
	if !l.Allow(addr) {
		t.Fatal("second attempt within burst should be allowed")
	}
	if l.Allow(addr) {
		t.Fatal("third immediate attempt should exceed burst")
	}
}

func TestPerIPLimiterIsolatesAddresses(t *testing.T) {
	l := newPerIPLimiter(1, 1)
	a := &net.TCPAddr{IP: net.ParseIP("10.0.0.3"), Port: 1}
	b := &net.TCPAddr{IP: net.ParseIP("10.0.0.4"), Port: 1}

	if !l.Allow(a) {
		t.Fatal("first address's first attempt should be allowed")
	}
	if l.Allow(a) {
		t.Fatal("first address's second immediate attempt should be limited")
	}
	if !l.Allow(b) {
		t.Fatal("a distinct address should have its own independent budget")
	}
}

func TestPerIPLimiterReapsIdleEntries(t *testing.T) {
	l := newPerIPLimiter(1, 1)
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 1}
	l.Allow(addr)

	l.mu.Lock()
	l.entries[hostOf(addr)].lastHit = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.reap(time.Minute)

	l.mu.Lock()
	_, present := l.entries[hostOf(addr)]
	l.mu.Unlock()
	if present {
		t.Fatal("expected idle entry to be reaped")
	}
}
