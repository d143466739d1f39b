package state

import (
	"sync"

	"github.com/backtrue/omakase-app/internal/types"
)

// Hub fans persisted events out to live subscribers, so a connected SSE
// reader gets pushes instead of polling the log. Subscribers that fall
// behind are dropped rather than blocking the producer; the reader then
// catches up from the event store by sequence number.
type Hub struct {
	mu   sync.RWMutex
	subs map[types.JobID]map[chan *types.Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[types.JobID]map[chan *types.Event]struct{})}
}

// Subscribe registers a listener for a job's events. The returned cancel
// function must be called when the reader disconnects.
func (h *Hub) Subscribe(jobID types.JobID) (<-chan *types.Event, func()) {
	ch := make(chan *types.Event, 64)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan *types.Event]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[jobID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every live subscriber of its job.
func (h *Hub) Publish(event *types.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// HasSubscribers reports whether anyone is listening for the job.
func (h *Hub) HasSubscribers(jobID types.JobID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID]) > 0
}
