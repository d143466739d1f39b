package state

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/backtrue/omakase-app/internal/scan"
	"github.com/backtrue/omakase-app/internal/types"
)

// Runner executes resumable scan jobs: each enqueued job gets its own
// goroutine, with a global semaphore capping how many sessions hit the
// upstream models at once. Events are persisted before fan-out, the snapshot
// tracks every menu_data emission, and job status plus an optional push
// notification land on completion.
type Runner struct {
	orchestrator *scan.Orchestrator
	jobs         types.JobStore
	events       types.EventStore
	hub          *Hub
	uploads      types.ImageStore
	notifier     types.Notifier
	logger       *slog.Logger

	semaphore *semaphore.Weighted
	jobTTL    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner allowing up to maxConcurrent jobs in flight.
// jobTTL bounds how long finished jobs are kept; zero means the 7-day
// default.
func NewRunner(orchestrator *scan.Orchestrator, jobs types.JobStore, events types.EventStore, hub *Hub, uploads types.ImageStore, notifier types.Notifier, logger *slog.Logger, maxConcurrent int64, jobTTL time.Duration) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if jobTTL <= 0 {
		jobTTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		orchestrator: orchestrator,
		jobs:         jobs,
		events:       events,
		hub:          hub,
		uploads:      uploads,
		notifier:     notifier,
		logger:       logger,
		semaphore:    semaphore.NewWeighted(maxConcurrent),
		jobTTL:       jobTTL,
	}
}

// Start initialises the runner's context. Must be called before Enqueue.
func (r *Runner) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight jobs and waits for their goroutines.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Submit creates and enqueues a job for an uploaded image.
func (r *Runner) Submit(ctx context.Context, uploadRef, language, pushToken string) (*types.Job, error) {
	now := time.Now()
	job := &types.Job{
		JobID:     types.NewJobID(),
		UploadRef: uploadRef,
		Language:  language,
		Status:    types.JobPending,
		PushToken: pushToken,
		CreatedAt: now,
		ExpireAt:  now.Add(r.jobTTL),
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.process(job)
	}()
	return job, nil
}

func (r *Runner) process(job *types.Job) {
	if err := r.semaphore.Acquire(r.ctx, 1); err != nil {
		return
	}
	defer r.semaphore.Release(1)

	job.Status = types.JobRunning
	if err := r.jobs.Update(r.ctx, job); err != nil {
		r.logger.Error("job status update failed", "job_id", job.JobID, "error", err)
	}

	em := &persistingEmitter{runner: r, job: job}

	image, err := r.uploads.Get(r.ctx, job.UploadRef)
	if err != nil {
		r.logger.Error("upload fetch failed", "job_id", job.JobID, "upload_ref", job.UploadRef, "error", err)
		em.Fail(types.ErrorPayload{Code: "UPLOAD_NOT_FOUND", Message: "找不到上傳的圖片，請重新上傳。", Recoverable: false})
		em.Done(types.DonePayload{Status: "failed", SessionID: types.SessionID(job.JobID)})
		return
	}

	r.orchestrator.Run(r.ctx, scan.Request{
		SessionID:   types.SessionID(job.JobID),
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		Language:    job.Language,
	}, em)
}

// finish records the terminal job status and fires the completion notice.
func (r *Runner) finish(job *types.Job, done types.DonePayload) {
	status := types.JobCompleted
	if done.Status != "completed" {
		status = types.JobFailed
	}
	job.Status = status
	if err := r.jobs.Update(r.ctx, job); err != nil {
		r.logger.Error("job finish update failed", "job_id", job.JobID, "error", err)
	}
	if err := r.jobs.UpdateSnapshot(r.ctx, job.JobID, status, nil); err != nil {
		r.logger.Error("snapshot finish update failed", "job_id", job.JobID, "error", err)
	}

	if r.notifier != nil && job.PushToken != "" {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 10*time.Second)
		defer cancel()
		if err := r.notifier.ScanDone(notifyCtx, job.PushToken, job.JobID, status, done.Summary.ItemsCount); err != nil {
			r.logger.Warn("scan notification failed", "job_id", job.JobID, "error", err)
		}
	}
}

// persistingEmitter adapts the session event stream to the job log:
// every emission becomes a persisted, sequence-numbered event, published to
// the hub only after the append succeeds.
type persistingEmitter struct {
	runner *Runner
	job    *types.Job
}

func (p *persistingEmitter) emit(eventType types.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.runner.logger.Error("event payload marshal failed", "job_id", p.job.JobID, "type", eventType, "error", err)
		return
	}
	event := &types.Event{
		JobID:   p.job.JobID,
		Type:    eventType,
		Payload: data,
		At:      time.Now(),
	}
	if err := p.runner.events.Append(context.WithoutCancel(p.runner.ctx), event); err != nil {
		p.runner.logger.Error("event append failed", "job_id", p.job.JobID, "type", eventType, "error", err)
		return
	}
	p.runner.hub.Publish(event)
}

func (p *persistingEmitter) Status(payload types.StatusPayload) {
	p.emit(types.EventStatus, payload)
}

func (p *persistingEmitter) MenuData(payload types.MenuDataPayload) {
	p.emit(types.EventMenuData, payload)
	if err := p.runner.jobs.UpdateSnapshot(p.runner.ctx, p.job.JobID, types.JobRunning, payload.Items); err != nil {
		p.runner.logger.Error("snapshot update failed", "job_id", p.job.JobID, "error", err)
	}
}

func (p *persistingEmitter) ImageUpdate(payload types.ImageUpdatePayload) {
	p.emit(types.EventImageUpdate, payload)
}

func (p *persistingEmitter) Fail(payload types.ErrorPayload) {
	p.emit(types.EventError, payload)
}

func (p *persistingEmitter) Done(payload types.DonePayload) {
	p.emit(types.EventDone, payload)
	p.runner.finish(p.job, payload)
}

func (p *persistingEmitter) Heartbeat() {
	p.emit(types.EventHeartbeat, map[string]any{"ts": time.Now().UnixMilli()})
}
