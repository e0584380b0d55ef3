package events

import (
	"testing"
	"time"

	"github.com/pitchforge/pitchforge/pkg/types"
)

// recv pulls one event or fails the test after a short wait.
func recv(t *testing.T, sub *Subscription) DocumentStatus {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return DocumentStatus{}
}

// TestPublishReachesSubscriber verifies basic delivery and payload shape.
func TestPublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	defer h.Close()

	sub := h.Subscribe("tenant-a")
	defer sub.Close()

	h.PublishDocumentStatus("tenant-a", "doc-1", types.DocIndexed, "")

	ev := recv(t, sub)
	if ev.Type != TypeDocumentStatus {
		t.Errorf("type = %q, want %q", ev.Type, TypeDocumentStatus)
	}
	if ev.DocumentID != "doc-1" || ev.Status != types.DocIndexed {
		t.Errorf("event = %+v", ev)
	}
	if ev.Error != "" {
		t.Errorf("error = %q, want empty", ev.Error)
	}
}

// TestPublishCarriesErrorDetail verifies failure events include the detail.
func TestPublishCarriesErrorDetail(t *testing.T) {
	h := NewHub()
	defer h.Close()

	sub := h.Subscribe("tenant-a")
	defer sub.Close()

	h.PublishDocumentStatus("tenant-a", "doc-1", types.DocFailed, "EXTRACTION_ERROR: unsupported mime")

	ev := recv(t, sub)
	if ev.Status != types.DocFailed {
		t.Errorf("status = %q, want FAILED", ev.Status)
	}
	if ev.Error == "" {
		t.Error("error detail missing")
	}
}

// TestTenantIsolation verifies events never cross tenants.
func TestTenantIsolation(t *testing.T) {
	h := NewHub()
	defer h.Close()

	subA := h.Subscribe("tenant-a")
	defer subA.Close()
	subB := h.Subscribe("tenant-b")
	defer subB.Close()

	h.PublishDocumentStatus("tenant-a", "doc-1", types.DocProcessing, "")

	recv(t, subA)
	select {
	case ev := <-subB.Events():
		t.Errorf("tenant B received tenant A event: %+v", ev)
	default:
	}
}

// TestSlowSubscriberDropsNotBlocks verifies a full buffer never blocks the
// publisher.
func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	h := NewHub()
	defer h.Close()

	sub := h.Subscribe("tenant-a")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			h.PublishDocumentStatus("tenant-a", "doc-1", types.DocProcessing, "")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	if got := len(sub.ch); got != subscriberBuffer {
		t.Errorf("buffered events = %d, want %d", got, subscriberBuffer)
	}
}

// TestCloseSubscriptionStopsDelivery verifies a closed subscription is
// removed from the hub.
func TestCloseSubscriptionStopsDelivery(t *testing.T) {
	h := NewHub()
	defer h.Close()

	sub := h.Subscribe("tenant-a")
	sub.Close()
	sub.Close() // double close is safe

	if _, ok := <-sub.Events(); ok {
		t.Error("channel still open after Close")
	}

	// Publishing after unsubscribe must not panic.
	h.PublishDocumentStatus("tenant-a", "doc-1", types.DocIndexed, "")
}

// TestHubClose verifies hub shutdown closes all subscriptions and silences
// later publishes.
func TestHubClose(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("tenant-a")

	h.Close()
	h.Close() // idempotent

	if _, ok := <-sub.Events(); ok {
		t.Error("channel still open after hub close")
	}

	h.PublishDocumentStatus("tenant-a", "doc-1", types.DocIndexed, "")
	if got := h.Subscribe("tenant-b"); got != nil {
		if _, ok := <-got.Events(); ok {
			t.Error("subscription on closed hub delivered events")
		}
	}
}
