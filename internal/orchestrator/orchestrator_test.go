package orchestrator

import (
	"context"
	"testing"
	"time"
)

func TestLifecycleTriggerGraceful(t *testing.T) {
	lc := NewLifecycle()

	select {
	case <-lc.Graceful.Done():
		t.Fatal("graceful token done before trigger")
	default:
	}

	lc.TriggerGraceful()

	select {
	case <-lc.Graceful.Done():
	case <-time.After(time.Second):
		t.Fatal("graceful token never closed")
	}

	select {
	case <-lc.Force.Done():
		t.Fatal("force token closed by graceful trigger")
	default:
	}
}

func TestLifecycleTriggerForce(t *testing.T) {
	lc := NewLifecycle()
	lc.TriggerForce()

	select {
	case <-lc.Force.Done():
	case <-time.After(time.Second):
		t.Fatal("force token never closed")
	}
}

type fakeComponent struct {
	started   bool
	stopped   bool
	failStart bool
}

func (f *fakeComponent) Start() error {
	if f.failStart {
		return errFakeStart
	}
	f.started = true
	return nil
}

func (f *fakeComponent) Stop() error {
	f.stopped = true
	return nil
}

var errFakeStart = &fakeStartError{}

type fakeStartError struct{}

func (*fakeStartError) Error() string { return "fake component start failure" }

func TestServerStartAndShutdownStopsComponents(t *testing.T) {
	srv := New(Config{ListenAddr: "127.0.0.1:0"})
	comp := &fakeComponent{}

	graceful, cancelGraceful := context.WithCancel(context.Background())
	defer cancelGraceful()

	if err := srv.Start(graceful, comp); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !comp.started {
		t.Fatal("component was not started")
	}
	if srv.Addr() == nil {
		t.Fatal("Addr() returned nil after Start")
	}

	force, cancelForce := context.WithCancel(context.Background())
	defer cancelForce()

	if err := srv.Shutdown(force); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !comp.stopped {
		t.Fatal("component was not stopped")
	}
}

func TestServerStartComponentFailureClosesListener(t *testing.T) {
	srv := New(Config{ListenAddr: "127.0.0.1:0"})
	comp := &fakeComponent{failStart: true}

	ctx := context.Background()
	if err := srv.Start(ctx, comp); err == nil {
		t.Fatal("expected Start to fail when a component fails to start")
	}
	if srv.Addr() != nil {
		t.Fatal("listener should not remain bound after a failed Start")
	}
}

func TestServerShutdownReturnsOnForce(t *testing.T) {
	srv := New(Config{ListenAddr: "127.0.0.1:0"})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate an in-flight connection handler that never finishes, forcing
	// Shutdown to return via the force path instead of waiting on it.
	srv.connsWG.Add(1)
	defer srv.connsWG.Done()

	force, cancelForce := context.WithCancel(context.Background())
	cancelForce()

	if err := srv.Shutdown(force); err == nil {
		t.Fatal("expected Shutdown to report the force context's error")
	}
}
