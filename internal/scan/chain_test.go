package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRecognitionChain(t *testing.T) {
	b := NewBudget(time.Now(), BudgetOptions{})

	chain := RecognitionChain(b, "primary", "fallback")
	if len(chain) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(chain))
	}
	if chain[0].IsFallback || !chain[1].IsFallback {
		t.Error("fallback flags wrong")
	}
	if chain[1].Deadline.Before(chain[0].Deadline) {
		t.Error("fallback deadline earlier than primary")
	}

	if got := RecognitionChain(b, "only", ""); len(got) != 1 {
		t.Errorf("empty fallback model should yield 1 attempt, got %d", len(got))
	}
	if got := RecognitionChain(b, "same", "same"); len(got) != 1 {
		t.Errorf("identical fallback model should yield 1 attempt, got %d", len(got))
	}
}

func TestAwaitUnitCompletes(t *testing.T) {
	got, err := awaitUnit(context.Background(), time.Now().Add(time.Second), time.Second, nil,
		func(ctx context.Context) (int, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("got %d", got)
	}
}

func TestAwaitUnitDeadlineCancelsWork(t *testing.T) {
	var cancelled atomic.Bool
	_, err := awaitUnit(context.Background(), time.Now().Add(30*time.Millisecond), time.Second, nil,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			cancelled.Store(true)
			return 0, ctx.Err()
		})
	if !errors.Is(err, ErrUnitTimeout) {
		t.Fatalf("err = %v, want ErrUnitTimeout", err)
	}
	// The unit's context must have been cancelled promptly.
	deadline := time.Now().Add(time.Second)
	for !cancelled.Load() {
		if time.Now().After(deadline) {
			t.Fatal("unit never saw cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAwaitUnitHeartbeats(t *testing.T) {
	var beats atomic.Int32
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = awaitUnit(context.Background(), time.Now().Add(2*time.Second), 20*time.Millisecond,
			func() { beats.Add(1) },
			func(ctx context.Context) (int, error) {
				<-release
				return 1, nil
			})
	}()

	deadline := time.Now().Add(time.Second)
	for beats.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no heartbeats fired while unit was in flight")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	<-done
}

func TestAwaitUnitCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := awaitUnit(ctx, time.Now().Add(time.Minute), time.Minute, nil,
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
