package scan

import (
	"context"
	"errors"
	"time"
)

// Attempt is one rung of a model fallback chain: which model to call and the
// wall-clock deadline its work must finish by.
type Attempt struct {
	Model      string
	Deadline   time.Time
	IsFallback bool
}

// RecognitionChain builds the ordered attempts for the recognition phase.
// The primary model gets the primary-attempt budget; the fallback gets the
// remainder up to the overall-attempt deadline. An empty fallback model
// yields a single-attempt chain.
func RecognitionChain(budget Budget, primaryModel, fallbackModel string) []Attempt {
	chain := []Attempt{{
		Model:    primaryModel,
		Deadline: earliest(budget.PrimaryAttempt, budget.HardCap),
	}}
	if fallbackModel != "" && fallbackModel != primaryModel {
		chain = append(chain, Attempt{
			Model:      fallbackModel,
			Deadline:   earliest(budget.OverallAttempt, budget.HardCap),
			IsFallback: true,
		})
	}
	return chain
}

// ErrUnitTimeout marks a unit abandoned at its deadline. The underlying call
// is cancelled but the session itself keeps going.
var ErrUnitTimeout = errors.New("unit deadline exceeded")

// isTimeout reports whether err is a deadline expiry rather than an upstream
// failure.
func isTimeout(err error) bool {
	return errors.Is(err, ErrUnitTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// awaitUnit runs fn in its own goroutine and waits for it with a heartbeat:
// onBeat fires every beat interval while the unit is in flight, so the
// session can keep its output stream alive during a long upstream call. At
// the deadline the unit's context is cancelled and ErrUnitTimeout returned;
// the goroutine drains into a buffered channel and cannot leak.
func awaitUnit[T any](ctx context.Context, deadline time.Time, beat time.Duration, onBeat func(), fn func(context.Context) (T, error)) (T, error) {
	var zero T

	unitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn(unitCtx)
		done <- result{val, err}
	}()

	if beat <= 0 {
		beat = 10 * time.Second
	}
	ticker := time.NewTicker(beat)
	defer ticker.Stop()

	expire := time.NewTimer(time.Until(deadline))
	defer expire.Stop()

	for {
		select {
		case r := <-done:
			return r.val, r.err
		case <-ticker.C:
			if onBeat != nil {
				onBeat()
			}
		case <-expire.C:
			cancel()
			return zero, ErrUnitTimeout
		case <-ctx.Done():
			cancel()
			return zero, ctx.Err()
		}
	}
}
