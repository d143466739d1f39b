// Package httpapi exposes the scan service over HTTP: the direct SSE
// streaming endpoint, the resumable upload/job/event surface, generated
// asset serving, and health.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/backtrue/omakase-app/internal/scan"
	"github.com/backtrue/omakase-app/internal/state"
	"github.com/backtrue/omakase-app/internal/types"
)

const maxUploadBytes = 20 << 20

// Server routes the HTTP API.
type Server struct {
	orchestrator *scan.Orchestrator
	runner       *state.Runner
	jobs         types.JobStore
	events       types.EventStore
	hub          *state.Hub
	images       types.ImageStore
	logger       *slog.Logger
	mux          *http.ServeMux

	heartbeat   time.Duration
	idleTimeout time.Duration
}

// NewServer wires the handlers. heartbeat paces keep-alive frames on idle
// event streams; idleTimeout closes a stream that saw no events at all for
// that long.
func NewServer(orchestrator *scan.Orchestrator, runner *state.Runner, jobs types.JobStore, events types.EventStore, hub *state.Hub, images types.ImageStore, logger *slog.Logger, heartbeat, idleTimeout time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	s := &Server{
		orchestrator: orchestrator,
		runner:       runner,
		jobs:         jobs,
		events:       events,
		hub:          hub,
		images:       images,
		logger:       logger,
		mux:          http.NewServeMux(),
		heartbeat:    heartbeat,
		idleTimeout:  idleTimeout,
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/scan/stream", s.handleScanStream)
	s.mux.HandleFunc("POST /api/v1/uploads", s.handleUpload)
	s.mux.HandleFunc("POST /api/v1/scan/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /api/v1/scan/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /api/v1/scan/jobs/{id}/events", s.handleJobEvents)
	s.mux.HandleFunc("GET /assets/gen/{session}/{file}", s.handleAsset)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleScanStream runs a scan session inline, streaming its events as the
// SSE response. Client disconnect cancels the session.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	var req types.ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ImageBase64 == "" {
		http.Error(w, `{"error":"image_base64 is required"}`, http.StatusBadRequest)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	sessionID := types.NewSessionID()
	s.orchestrator.Run(r.Context(), scan.Request{
		SessionID:   sessionID,
		ImageBase64: req.ImageBase64,
		Language:    req.UserPreferences.Language,
	}, &streamEmitter{sse: sse})
}

type uploadRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// handleUpload stores an image and returns the reference a job can be
// created against.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil || len(data) == 0 {
		http.Error(w, `{"error":"image_base64 is not valid base64"}`, http.StatusBadRequest)
		return
	}

	ref := "uploads/" + string(types.NewUploadID())
	if err := s.images.Put(r.Context(), ref, data, "application/octet-stream"); err != nil {
		s.logger.Error("upload store failed", "error", err)
		http.Error(w, `{"error":"upload failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"upload_ref": ref})
}

type createJobRequest struct {
	UploadRef       string                `json:"upload_ref"`
	UserPreferences types.UserPreferences `json:"user_preferences"`
	PushToken       string                `json:"push_token"`
}

// handleCreateJob enqueues a resumable scan for a previously uploaded image.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.UploadRef == "" {
		http.Error(w, `{"error":"upload_ref is required"}`, http.StatusBadRequest)
		return
	}

	job, err := s.runner.Submit(r.Context(), req.UploadRef, req.UserPreferences.Language, req.PushToken)
	if err != nil {
		s.logger.Error("job submit failed", "error", err)
		http.Error(w, `{"error":"could not create job"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"job_id": string(job.JobID),
		"status": string(job.Status),
	})
}

// handleGetJob returns the job's current snapshot.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := types.JobID(r.PathValue("id"))
	snapshot, err := s.jobs.GetSnapshot(r.Context(), id)
	if err != nil {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// handleJobEvents streams a job's event log over SSE: replay everything
// after the client's resume position, then tail live through the hub with a
// polling safety net. The stream closes after the done event, on idle
// timeout (after a timeout frame), or when the client disconnects.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := types.JobID(r.PathValue("id"))
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	// Subscribe before replay so nothing can slip between the two.
	live, cancel := s.hub.Subscribe(id)
	defer cancel()

	lastSeq := parseLastEventID(r)
	send := func(event *types.Event) (terminal bool, err error) {
		if event.Seq <= lastSeq {
			return false, nil
		}
		if err := sse.SendRaw(event.Seq, event.Type, event.Payload); err != nil {
			return false, err
		}
		lastSeq = event.Seq
		return event.Type == types.EventDone, nil
	}

	replay, err := s.events.After(r.Context(), id, lastSeq)
	if err != nil {
		s.logger.Error("event replay failed", "job_id", id, "error", err)
		return
	}
	for _, event := range replay {
		terminal, err := send(event)
		if err != nil || terminal {
			return
		}
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()
	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	resetIdle := func() {
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.idleTimeout)
	}

	for {
		select {
		case event, ok := <-live:
			if !ok {
				return
			}
			terminal, err := send(event)
			if err != nil || terminal {
				return
			}
			resetIdle()
		case <-poll.C:
			// Safety net for events the hub dropped or produced before a
			// process restart.
			missed, err := s.events.After(r.Context(), id, lastSeq)
			if err != nil {
				continue
			}
			for _, event := range missed {
				terminal, err := send(event)
				if err != nil || terminal {
					return
				}
				resetIdle()
			}
		case <-heartbeat.C:
			if err := sse.Send(0, types.EventHeartbeat, map[string]int64{"ts": time.Now().UnixMilli()}); err != nil {
				return
			}
		case <-idle.C:
			sse.Send(0, types.EventTimeout, map[string]string{"message": "連線逾時，請重新整理後再試。"})
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleAsset serves a generated illustration.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	key := fmt.Sprintf("gen/%s/%s", r.PathValue("session"), r.PathValue("file"))
	data, err := s.images.Get(r.Context(), key)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}
