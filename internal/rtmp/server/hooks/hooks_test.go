// Hook system tests
package hooks

import (
	"context"
	"sync/atomic"
	"testing"
)

// fakeHook is a minimal Hook implementation for exercising the manager
// without depending on any particular side-effecting hook kind.
type fakeHook struct {
	id    string
	calls int32
}

func (h *fakeHook) Execute(ctx context.Context, event Event) error {
	atomic.AddInt32(&h.calls, 1)
	return nil
}
func (h *fakeHook) Type() string { return "fake" }
func (h *fakeHook) ID() string   { return h.id }

// TestEvent tests basic event creation and functionality
func TestEvent(t *testing.T) {
	event := NewEvent(EventConnectionAccept).
		WithConnID("test-conn").
		WithStreamKey("test/stream").
		WithData("client_ip", "192.168.1.100").
		WithData("client_port", 12345)

	if event.Type != EventConnectionAccept {
		t.Errorf("Expected event type %s, got %s", EventConnectionAccept, event.Type)
	}

	if event.ConnID != "test-conn" {
		t.Errorf("Expected conn ID 'test-conn', got %s", event.ConnID)
	}

	if event.StreamKey != "test/stream" {
		t.Errorf("Expected stream key 'test/stream', got %s", event.StreamKey)
	}

	if event.Data["client_ip"] != "192.168.1.100" {
		t.Errorf("Expected client_ip '192.168.1.100', got %v", event.Data["client_ip"])
	}

	if event.Data["client_port"] != 12345 {
		t.Errorf("Expected client_port 12345, got %v", event.Data["client_port"])
	}

	// Test string representation
	str := event.String()
	if str != "connection_accept:test/stream" {
		t.Errorf("Expected string 'connection_accept:test/stream', got %s", str)
	}
}

// TestHookManager tests hook manager registration and basic functionality
func TestHookManager(t *testing.T) {
	config := DefaultHookConfig()
	manager := NewHookManager(config, nil)

	// Test hook registration
	hook := &fakeHook{id: "test"}
	err := manager.RegisterHook(EventConnectionAccept, hook)
	if err != nil {
		t.Errorf("Failed to register hook: %v", err)
	}

	// Test stats
	stats := manager.GetStats()
	if stats["total_hooks"] != 1 {
		t.Errorf("Expected 1 total hook, got %v", stats["total_hooks"])
	}

	// Test event triggering
	event := NewEvent(EventConnectionAccept)
	manager.TriggerEvent(context.Background(), *event)

	// Test unregistration
	success := manager.UnregisterHook(EventConnectionAccept, "test")
	if !success {
		t.Error("Failed to unregister hook")
	}

	// Clean up
	manager.Close()
}

func TestHookManagerRejectsNilHook(t *testing.T) {
	manager := NewHookManager(DefaultHookConfig(), nil)
	if err := manager.RegisterHook(EventPublishStart, nil); err == nil {
		t.Error("expected error registering nil hook")
	}
}
