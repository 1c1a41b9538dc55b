package realtime

import (
	"context"
	"sync"

	"github.com/platinummonkey/cohort/pkg/observability"
)

// Publisher broadcasts an event to a group
type Publisher interface {
	Publish(ctx context.Context, group string, ev Event) error
}

// Subscription is one connection's membership in a set of groups
type Subscription struct {
	ID     string
	Groups []string

	ch     chan Event
	closed bool
}

// Events delivers the subscription's events. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Hub is the in-process group registry. Delivery never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	groups  map[string]map[*Subscription]struct{}
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHub creates an empty hub
func NewHub(logger *observability.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Hub{
		groups:  make(map[string]map[*Subscription]struct{}),
		logger:  logger.WithComponent("realtime_hub"),
		metrics: metrics,
	}
}

// Subscribe registers connID in every group
func (h *Hub) Subscribe(connID string, groups []string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		ID:     connID,
		Groups: append([]string(nil), groups...),
		ch:     make(chan Event, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range sub.Groups {
		members, ok := h.groups[g]
		if !ok {
			members = make(map[*Subscription]struct{})
			h.groups[g] = members
		}
		members[sub] = struct{}{}
	}
	h.metrics.RealtimeConnected(1)
	return sub
}

// Unsubscribe removes every membership of sub and closes its channel. It is
// safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	for _, g := range sub.Groups {
		members := h.groups[g]
		delete(members, sub)
		if len(members) == 0 {
			delete(h.groups, g)
		}
	}
	sub.closed = true
	close(sub.ch)
	h.metrics.RealtimeConnected(-1)
}

// Deliver fans ev out to the local members of group and returns how many
// subscribers received it.
func (h *Hub) Deliver(group string, ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.groups[group] {
		select {
		case sub.ch <- ev:
			delivered++
			h.metrics.RecordRealtimeEvent(group, true)
		default:
			h.metrics.RecordRealtimeEvent(group, false)
			h.logger.WithField("group", group).WithField("connection_id", sub.ID).
				Warn("subscriber buffer full, dropping event")
		}
	}
	return delivered
}

// Publish delivers to local subscribers only
func (h *Hub) Publish(ctx context.Context, group string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.Deliver(group, ev)
	return nil
}

// Members returns the number of local subscribers in group
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
