package agent

import (
	"sync"
	"time"
)

// Event is one item on the agent's event stream.
type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

const (
	EventStateChange = "state_change"
	EventCycleStart  = "cycle_start"
	EventCycleEnd    = "cycle_end"
	EventSignal      = "signal"
	EventOpened      = "opened"
	EventClosed      = "closed"
	EventRejected    = "rejected"
	EventFault       = "fault"
)

// Hub fans events out to subscribers over bounded channels. A subscriber
// that stops draining loses events rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	size int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[chan Event]struct{}), size: buffer}
}

// Subscribe returns a receive channel and a cancel func.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.size)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(evtType string, payload any) {
	evt := Event{Type: evtType, At: time.Now().UTC(), Payload: payload}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default: // slow subscriber, drop
		}
	}
}

// Close drops all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
