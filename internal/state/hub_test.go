package state

import (
	"testing"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
)

func TestHubPublishReachesSubscribers(t *testing.T) {
	hub := NewHub()
	jobID := types.NewJobID()

	ch, cancel := hub.Subscribe(jobID)
	defer cancel()

	if !hub.HasSubscribers(jobID) {
		t.Fatal("subscriber not registered")
	}

	hub.Publish(&types.Event{JobID: jobID, Seq: 1, Type: types.EventStatus})

	select {
	case event := <-ch:
		if event.Seq != 1 {
			t.Errorf("seq = %d", event.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHubIsolatesJobs(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe(types.JobID("job-a"))
	defer cancelA()

	hub.Publish(&types.Event{JobID: types.JobID("job-b"), Seq: 1})

	select {
	case e := <-a:
		t.Fatalf("received another job's event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCancelUnsubscribes(t *testing.T) {
	hub := NewHub()
	jobID := types.NewJobID()

	_, cancel := hub.Subscribe(jobID)
	cancel()
	cancel() // idempotent

	if hub.HasSubscribers(jobID) {
		t.Error("subscriber still registered after cancel")
	}
	// Publishing after cancel must not panic.
	hub.Publish(&types.Event{JobID: jobID, Seq: 1})
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	jobID := types.NewJobID()

	_, cancel := hub.Subscribe(jobID)
	defer cancel()

	// Overflow the buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Publish(&types.Event{JobID: jobID, Seq: int64(i + 1)})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
