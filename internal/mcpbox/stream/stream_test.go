package stream_test

import (
	"testing"
	"time"

	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/stream"
	"github.com/JGtHb/MCPbox-sub000/internal/mcpbox/store"
)

func strPtr(s string) *string { return &s }

func TestHub_BroadcastDeliversToMatchingConnection(t *testing.T) {
	h := stream.NewHub()
	conn, remove := h.Register()
	defer remove()

	conn.SetFilter(stream.Filter{ServerID: "srv-1"})

	h.Broadcast(&store.ActivityLog{ID: "1", ServerID: strPtr("srv-1"), LogType: "mcp_request"})
	h.Broadcast(&store.ActivityLog{ID: "2", ServerID: strPtr("srv-2"), LogType: "mcp_request"})

	select {
	case msg := <-conn.Messages():
		if msg.ID != "1" {
			t.Fatalf("expected log 1 to pass the filter, got %q", msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching broadcast")
	}

	select {
	case msg := <-conn.Messages():
		t.Fatalf("expected no second message (filtered out), got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RegisterAndRemoveTracksCount(t *testing.T) {
	h := stream.NewHub()
	_, remove1 := h.Register()
	_, remove2 := h.Register()

	if h.Count() != 2 {
		t.Fatalf("expected 2 connections, got %d", h.Count())
	}

	remove1()
	if h.Count() != 1 {
		t.Fatalf("expected 1 connection after removal, got %d", h.Count())
	}
	remove2()
	if h.Count() != 0 {
		t.Fatalf("expected 0 connections after removal, got %d", h.Count())
	}
}

func TestHub_FullQueueDropsWithoutBlocking(t *testing.T) {
	h := stream.NewHub()
	_, remove := h.Register()
	defer remove()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			h.Broadcast(&store.ActivityLog{ID: "x", LogType: "mcp_request"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full connection queue instead of dropping")
	}
}

func TestHub_EmptyFilterMatchesEverything(t *testing.T) {
	h := stream.NewHub()
	conn, remove := h.Register()
	defer remove()

	h.Broadcast(&store.ActivityLog{ID: "1", LogType: "alert", Level: "error"})

	select {
	case msg := <-conn.Messages():
		if msg.ID != "1" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected default (empty) filter to pass every log entry")
	}
}
