package state

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/backtrue/omakase-app/internal/imagestore"
	"github.com/backtrue/omakase-app/internal/scan"
	"github.com/backtrue/omakase-app/internal/types"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []types.JobID
}

func (n *fakeNotifier) ScanDone(_ context.Context, _ string, jobID types.JobID, _ types.JobStatus, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, jobID)
	return nil
}

func (n *fakeNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testRunner(t *testing.T) (*Runner, *JobStore, *EventStore, *fakeNotifier) {
	t.Helper()
	root := t.TempDir()
	jobs := NewJobStore(root)
	events := NewEventStore(root, 0)
	hub := NewHub()
	uploads := imagestore.NewMemory()
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))

	// No provider factory: sessions take the canned mock path.
	orchestrator := scan.New(nil, nil, nil, nil, logger, scan.Options{})
	runner := NewRunner(orchestrator, jobs, events, hub, uploads, notifier, logger, 2, 0)
	runner.Start(context.Background())
	t.Cleanup(runner.Stop)

	if err := uploads.Put(context.Background(), "uploads/u1", []byte("fake image"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	return runner, jobs, events, notifier
}

func waitForStatus(t *testing.T, jobs *JobStore, id types.JobID, want types.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		job, err := jobs.Get(context.Background(), id)
		if err == nil && job.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never reached %s (last: %+v, err: %v)", want, job, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunnerRunsJobToCompletion(t *testing.T) {
	runner, jobs, events, notifier := testRunner(t)

	job, err := runner.Submit(context.Background(), "uploads/u1", "zh-TW", "ExponentPushToken[test]")
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, jobs, job.JobID, types.JobCompleted)

	replay, err := events.After(context.Background(), job.JobID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(replay) == 0 {
		t.Fatal("no events persisted")
	}
	for i, event := range replay {
		if event.Seq != int64(i+1) {
			t.Errorf("event %d has seq %d", i, event.Seq)
		}
	}
	last := replay[len(replay)-1]
	if last.Type != types.EventDone {
		t.Errorf("last event = %s", last.Type)
	}

	snap, err := jobs.GetSnapshot(context.Background(), job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != types.JobCompleted {
		t.Errorf("snapshot status = %s", snap.Status)
	}
	if len(snap.Items) == 0 {
		t.Error("snapshot has no items")
	}

	if notifier.callCount() != 1 {
		t.Errorf("notifications = %d", notifier.callCount())
	}
}

func TestRunnerMissingUploadFailsJob(t *testing.T) {
	runner, jobs, events, _ := testRunner(t)

	job, err := runner.Submit(context.Background(), "uploads/nope", "zh-TW", "")
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, jobs, job.JobID, types.JobFailed)

	replay, err := events.After(context.Background(), job.JobID, 0)
	if err != nil {
		t.Fatal(err)
	}
	sawError := false
	for _, event := range replay {
		if event.Type == types.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("no error event persisted")
	}
	if replay[len(replay)-1].Type != types.EventDone {
		t.Error("done is not the last event")
	}
}

func TestRunnerLiveSubscriberSeesEvents(t *testing.T) {
	runner, jobs, _, _ := testRunner(t)

	job, err := runner.Submit(context.Background(), "uploads/u1", "zh-TW", "")
	if err != nil {
		t.Fatal(err)
	}
	ch, cancel := runner.hub.Subscribe(job.JobID)
	defer cancel()

	waitForStatus(t, jobs, job.JobID, types.JobCompleted)

	// Drain whatever arrived after subscription; ordering within the
	// received slice must be strictly increasing.
	var lastSeq int64
	for {
		select {
		case event := <-ch:
			if event.Seq <= lastSeq {
				t.Errorf("out of order: %d after %d", event.Seq, lastSeq)
			}
			lastSeq = event.Seq
		default:
			return
		}
	}
}
