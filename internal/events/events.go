// Package events is the in-process pub/sub hub for document lifecycle
// notifications. Ingestion publishes a status event whenever a document
// changes state; WebSocket handlers subscribe per tenant and forward the
// events to connected clients.
//
// Delivery is best-effort: a subscriber that stops draining its channel
// loses events rather than blocking the publisher. The store remains the
// source of truth, the feed only saves clients from polling.
package events

import (
	"log/slog"
	"sync"

	"github.com/pitchforge/pitchforge/pkg/types"
)

// TypeDocumentStatus is the event type for document lifecycle changes.
const TypeDocumentStatus = "document.status"

// subscriberBuffer is the per-subscription channel capacity.
const subscriberBuffer = 16

// DocumentStatus is one lifecycle notification.
type DocumentStatus struct {
	Type       string               `json:"type"`
	DocumentID string               `json:"document_id"`
	Status     types.DocumentStatus `json:"status"`
	Error      string               `json:"error,omitempty"`
}

// Subscription is one tenant-scoped event stream. Close it when done or the
// hub keeps publishing into its buffer.
type Subscription struct {
	tenantID string
	ch       chan DocumentStatus
	hub      *Hub
	once     sync.Once
}

// Events returns the stream. The channel is closed when the subscription or
// the hub is closed.
func (s *Subscription) Events() <-chan DocumentStatus { return s.ch }

// Close unsubscribes and closes the event channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub fans document events out to per-tenant subscribers. Safe for
// concurrent use.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new tenant-scoped subscription. On a closed hub the
// returned subscription's channel is already closed.
func (h *Hub) Subscribe(tenantID string) *Subscription {
	sub := &Subscription{
		tenantID: tenantID,
		ch:       make(chan DocumentStatus, subscriberBuffer),
		hub:      h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[*Subscription]struct{})
	}
	h.subs[tenantID][sub] = struct{}{}
	return sub
}

// Subscribers reports how many subscriptions the tenant currently holds.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if set, ok := h.subs[s.tenantID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.tenantID)
		}
	}
	close(s.ch)
}

// PublishDocumentStatus sends a document.status event to every subscriber
// of the tenant. Never blocks: a full subscriber buffer drops the event.
func (h *Hub) PublishDocumentStatus(tenantID, documentID string, status types.DocumentStatus, errDetail string) {
	ev := DocumentStatus{
		Type:       TypeDocumentStatus,
		DocumentID: documentID,
		Status:     status,
		Error:      errDetail,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs[tenantID] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("dropping event for slow subscriber",
				"tenant_id", tenantID,
				"document_id", documentID,
				"status", status)
		}
	}
}

// Close shuts the hub down and closes every subscriber channel. Publishes
// after Close are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() {})
			close(sub.ch)
		}
	}
	h.subs = nil
}
