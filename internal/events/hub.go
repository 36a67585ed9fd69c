// Package events fans export stage transitions out to live subscribers.
// Every event belongs to one caller and is only delivered to that caller.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the export pipeline.
const (
	TypeStage     = "export.stage"
	TypeSucceeded = "export.succeeded"
	TypeFailed    = "export.failed"
)

type Event struct {
	ID     int64           `json:"id"`
	Type   string          `json:"type"`
	Caller string          `json:"-"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data"`
}

type subscriber struct {
	caller string
	ch     chan Event
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]subscriber
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish records an event for caller and delivers it to that caller's
// subscribers. Slow subscribers miss events rather than block the pipeline.
func (h *Hub) Publish(caller, eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	// IDs are assigned under the lock so delivery order matches ID order.
	ev := Event{
		ID:     h.nextID.Add(1),
		Type:   eventType,
		Caller: caller,
		At:     time.Now().UTC(),
		Data:   payload,
	}
	h.pushLocked(ev)
	for _, sub := range h.subs {
		if sub.caller != caller {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a channel of caller's future events and a cancel func
// that closes it.
func (h *Hub) Subscribe(caller string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = subscriber{caller: caller, ch: ch}

	cancel := func() {
		h.mu.Lock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns caller's buffered events with ID > lastID, oldest-first.
// If lastID is 0, all of the caller's buffered events are returned.
func (h *Hub) SnapshotSince(caller string, lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.Caller != caller {
			continue
		}
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
