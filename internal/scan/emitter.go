package scan

import (
	"time"

	"github.com/backtrue/omakase-app/internal/types"
)

// Emitter receives the event stream of one scan session. The direct SSE
// handler and the persisting job runner both implement it. Calls arrive from
// the session goroutine only and in emission order; Done is always last.
type Emitter interface {
	Status(p types.StatusPayload)
	MenuData(p types.MenuDataPayload)
	ImageUpdate(p types.ImageUpdatePayload)
	Fail(p types.ErrorPayload)
	Done(p types.DonePayload)
	Heartbeat()
}

// menuThrottle coalesces menu_data snapshots: at most one emission per
// interval, with Flush forcing out a pending dirty snapshot at phase
// boundaries so the client never misses the final state.
type menuThrottle struct {
	interval time.Duration
	last     time.Time
	dirty    bool
}

func newMenuThrottle(interval time.Duration) *menuThrottle {
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	return &menuThrottle{interval: interval}
}

// Mark records that the aggregate changed since the last emission.
func (t *menuThrottle) Mark() { t.dirty = true }

// ShouldEmit reports whether a snapshot should go out now, and if so resets
// the throttle state.
func (t *menuThrottle) ShouldEmit(now time.Time) bool {
	if !t.dirty {
		return false
	}
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	t.dirty = false
	return true
}

// Flush reports whether a dirty snapshot is pending, resetting the state.
// Used at phase boundaries where the interval does not apply.
func (t *menuThrottle) Flush(now time.Time) bool {
	if !t.dirty {
		return false
	}
	t.last = now
	t.dirty = false
	return true
}
