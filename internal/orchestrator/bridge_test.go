package orchestrator

import (
	"testing"

	"github.com/alxayo/go-rtmp/internal/rtmp/server/hooks"
)

func TestChannelIDForStreamKeyIsStableAndDistinct(t *testing.T) {
	a := channelIDForStreamKey("studio/alice")
	b := channelIDForStreamKey("studio/alice")
	if a != b {
		t.Fatal("same stream key must map to the same channel id")
	}

	c := channelIDForStreamKey("studio/bob")
	if a == c {
		t.Fatal("different stream keys collided onto the same channel id")
	}
}

func TestPublishBridgeExecuteIgnoresOtherEventTypes(t *testing.T) {
	b := NewPublishBridge(nil, nil, nil)
	if err := b.Execute(nil, hooks.Event{Type: hooks.EventCodecDetected}); err != nil {
		t.Fatalf("Execute returned error for an unrelated event: %v", err)
	}
	if len(b.tasks) != 0 {
		t.Fatal("unrelated event must not start a task")
	}
}

func TestPublishBridgeStopWithoutStartIsNoop(t *testing.T) {
	b := NewPublishBridge(nil, nil, nil)
	b.stop("never-started")
}
