// Package state persists resumable scan jobs on the filesystem: a JSON job
// index, a per-job result snapshot, and a per-job append-only event log with
// gap-free sequence numbers, plus the in-process hub and runner that drive
// live sessions.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
)

// JobStore is a JSON-file-backed job store. Index data lives in
// jobs/jobs.json; each job gets a directory at jobs/<jobID>/ holding its
// snapshot and event log.
type JobStore struct {
	root string
	mu   sync.RWMutex
}

// NewJobStore creates a file-backed JobStore rooted at the given directory.
func NewJobStore(root string) *JobStore {
	return &JobStore{root: root}
}

func (s *JobStore) jobsDir() string  { return filepath.Join(s.root, "jobs") }
func (s *JobStore) indexPath() string { return filepath.Join(s.jobsDir(), "jobs.json") }
func (s *JobStore) jobDir(id types.JobID) string {
	return filepath.Join(s.jobsDir(), string(id))
}
func (s *JobStore) snapshotPath(id types.JobID) string {
	return filepath.Join(s.jobDir(id), "snapshot.json")
}

func (s *JobStore) loadIndex() (map[types.JobID]*types.Job, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.JobID]*types.Job), nil
		}
		return nil, fmt.Errorf("read job index: %w", err)
	}

	var jobs []*types.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("unmarshal job index: %w", err)
	}

	index := make(map[types.JobID]*types.Job, len(jobs))
	for _, job := range jobs {
		index[job.JobID] = job
	}
	return index, nil
}

func (s *JobStore) saveIndex(index map[types.JobID]*types.Job) error {
	jobs := make([]*types.Job, 0, len(index))
	for _, job := range index {
		jobs = append(jobs, job)
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job index: %w", err)
	}

	if err := os.MkdirAll(s.jobsDir(), 0o755); err != nil {
		return fmt.Errorf("create jobs dir: %w", err)
	}
	return atomicWrite(s.indexPath(), data)
}

// atomicWrite writes data through a temp file and rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Create persists a new job and its initial empty snapshot.
func (s *JobStore) Create(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[job.JobID]; ok {
		return fmt.Errorf("job already exists: %s", job.JobID)
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	index[job.JobID] = job

	if err := s.saveIndex(index); err != nil {
		return err
	}
	if err := os.MkdirAll(s.jobDir(job.JobID), 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	snapshot := &types.JobSnapshot{
		JobID:     job.JobID,
		Status:    job.Status,
		Items:     []types.MenuItem{},
		CreatedAt: job.CreatedAt,
		UpdatedAt: now,
		ExpireAt:  job.ExpireAt,
	}
	return s.writeSnapshot(snapshot)
}

// Get returns the job with the given ID.
func (s *JobStore) Get(_ context.Context, id types.JobID) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	job, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return job, nil
}

// Update persists changes to the given job, setting UpdatedAt to now.
func (s *JobStore) Update(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[job.JobID]; !ok {
		return fmt.Errorf("job not found: %s", job.JobID)
	}

	job.UpdatedAt = time.Now()
	index[job.JobID] = job
	return s.saveIndex(index)
}

func (s *JobStore) writeSnapshot(snapshot *types.JobSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return atomicWrite(s.snapshotPath(snapshot.JobID), data)
}

// GetSnapshot returns the job's current result snapshot.
func (s *JobStore) GetSnapshot(_ context.Context, id types.JobID) (*types.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot not found: %s", id)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot types.JobSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// UpdateSnapshot replaces the snapshot's status and items.
func (s *JobStore) UpdateSnapshot(ctx context.Context, id types.JobID, status types.JobStatus, items []types.MenuItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.readSnapshotLocked(id)
	if err != nil {
		return err
	}
	snapshot.Status = status
	if items != nil {
		snapshot.Items = items
	}
	snapshot.UpdatedAt = time.Now()
	return s.writeSnapshot(snapshot)
}

func (s *JobStore) readSnapshotLocked(id types.JobID) (*types.JobSnapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(id))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snapshot types.JobSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// List returns all jobs.
func (s *JobStore) List(_ context.Context) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	jobs := make([]*types.Job, 0, len(index))
	for _, job := range index {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Delete removes a job from the index and its directory (snapshot and event
// log included).
func (s *JobStore) Delete(_ context.Context, id types.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[id]; !ok {
		return nil
	}
	delete(index, id)
	if err := s.saveIndex(index); err != nil {
		return err
	}
	if err := os.RemoveAll(s.jobDir(id)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}
