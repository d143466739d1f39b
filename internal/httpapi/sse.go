package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/backtrue/omakase-app/internal/types"
)

// sseWriter frames server-sent events onto an HTTP streaming response.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, nil
}

// Send writes one event frame. A positive id becomes the frame's SSE id so
// clients can resume with Last-Event-ID.
func (s *sseWriter) Send(id int64, event types.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// SendRaw writes a frame whose payload is already JSON.
func (s *sseWriter) SendRaw(id int64, event types.EventType, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// streamEmitter adapts the live scan event stream straight onto an SSE
// response for the non-resumable variant. Frames carry no ids; there is
// nothing to resume.
type streamEmitter struct {
	sse *sseWriter
}

func (e *streamEmitter) Status(p types.StatusPayload)       { e.sse.Send(0, types.EventStatus, p) }
func (e *streamEmitter) MenuData(p types.MenuDataPayload)   { e.sse.Send(0, types.EventMenuData, p) }
func (e *streamEmitter) ImageUpdate(p types.ImageUpdatePayload) {
	e.sse.Send(0, types.EventImageUpdate, p)
}
func (e *streamEmitter) Fail(p types.ErrorPayload) { e.sse.Send(0, types.EventError, p) }
func (e *streamEmitter) Done(p types.DonePayload)  { e.sse.Send(0, types.EventDone, p) }
func (e *streamEmitter) Heartbeat() {
	e.sse.Send(0, types.EventHeartbeat, map[string]int64{"ts": time.Now().UnixMilli()})
}

// parseLastEventID reads the resume position from the Last-Event-ID header
// or the last_event_id query parameter.
func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
