package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
)

// EventStore is a JSONL-backed append-only event log, one file per job at
// jobs/<jobID>/events.jsonl. Append assigns gap-free sequence numbers
// starting at 1 and persists before returning, so an acknowledged event can
// always be replayed.
type EventStore struct {
	root string
	ttl  time.Duration

	mu    sync.Mutex
	locks map[types.JobID]*sync.Mutex
}

// NewEventStore creates a file-backed EventStore rooted at the given
// directory. Events expire ttl after emission; zero means the original
// 24-hour default.
func NewEventStore(root string, ttl time.Duration) *EventStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventStore{
		root:  root,
		ttl:   ttl,
		locks: make(map[types.JobID]*sync.Mutex),
	}
}

func (e *EventStore) getLock(jobID types.JobID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lock, ok := e.locks[jobID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.locks[jobID] = lock
	return lock
}

func (e *EventStore) eventsPath(jobID types.JobID) string {
	return filepath.Join(e.root, "jobs", string(jobID), "events.jsonl")
}

// count reads the event file and counts lines. Caller must hold the job lock.
func (e *EventStore) count(jobID types.JobID) (int64, error) {
	f, err := os.Open(e.eventsPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// Append adds an event to the job's log with the next sequence number.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	lock := e.getLock(event.JobID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(e.eventsPath(event.JobID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	existing, err := e.count(event.JobID)
	if err != nil {
		return err
	}
	event.Seq = existing + 1
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if event.ExpireAt.IsZero() {
		event.ExpireAt = event.At.Add(e.ttl)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(e.eventsPath(event.JobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return f.Sync()
}

// After returns the events with sequence numbers strictly greater than seq,
// in order. Pass 0 to replay from the start.
func (e *EventStore) After(_ context.Context, jobID types.JobID, seq int64) ([]*types.Event, error) {
	lock := e.getLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(e.eventsPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		if event.Seq > seq {
			events = append(events, &event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}
	return events, nil
}

// Count returns the number of events for the given job.
func (e *EventStore) Count(_ context.Context, jobID types.JobID) (int64, error) {
	lock := e.getLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	return e.count(jobID)
}
