package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
)

func TestEventStoreSequenceIsGapFree(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(t.TempDir(), 0)
	jobID := types.NewJobID()

	for i := 0; i < 5; i++ {
		event := &types.Event{
			JobID:   jobID,
			Type:    types.EventStatus,
			Payload: json.RawMessage(`{}`),
		}
		if err := store.Append(ctx, event); err != nil {
			t.Fatal(err)
		}
		if event.Seq != int64(i+1) {
			t.Errorf("seq = %d, want %d", event.Seq, i+1)
		}
	}

	count, err := store.Count(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("count = %d", count)
	}
}

func TestEventStoreAfterReplaysExactly(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(t.TempDir(), 0)
	jobID := types.NewJobID()

	for i := 0; i < 4; i++ {
		if err := store.Append(ctx, &types.Event{
			JobID:   jobID,
			Type:    types.EventMenuData,
			Payload: json.RawMessage(`{}`),
		}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := store.After(ctx, jobID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("replayed = %d, want 2", len(events))
	}
	if events[0].Seq != 3 || events[1].Seq != 4 {
		t.Errorf("seqs = %d, %d", events[0].Seq, events[1].Seq)
	}

	all, err := store.After(ctx, jobID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("full replay = %d", len(all))
	}

	// Unknown job replays nothing.
	none, err := store.After(ctx, types.NewJobID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unknown job replayed %d events", len(none))
	}
}

func TestEventStoreAssignsExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(t.TempDir(), time.Hour)
	jobID := types.NewJobID()

	event := &types.Event{JobID: jobID, Type: types.EventDone, Payload: json.RawMessage(`{}`)}
	if err := store.Append(ctx, event); err != nil {
		t.Fatal(err)
	}
	if event.ExpireAt.Before(event.At.Add(59 * time.Minute)) {
		t.Errorf("expiry too early: at=%v expire=%v", event.At, event.ExpireAt)
	}
}
