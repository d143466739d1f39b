// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// ImageStatus tracks the illustration lifecycle for a menu item.
type ImageStatus string

const (
	ImageNone    ImageStatus = "none"
	ImagePending ImageStatus = "pending"
	ImageReady   ImageStatus = "ready"
	ImageFailed  ImageStatus = "failed"
)

// MenuItem is the mutable unit of scan result state. Fields fill in over the
// session (recognition, knowledge overlay, translation) but are never
// overwritten once non-empty.
type MenuItem struct {
	ID             string      `json:"id"`
	OriginalName   string      `json:"original_name"`
	TranslatedName string      `json:"translated_name"`
	Description    string      `json:"description"`
	Tags           []string    `json:"tags"`
	IsTop          bool        `json:"is_top3"`
	ImageStatus    ImageStatus `json:"image_status"`
	ImagePrompt    string      `json:"image_prompt"`
	Romanization   string      `json:"romanji"`
}

// UserPreferences carries the client's chosen target language.
type UserPreferences struct {
	Language string `json:"language"`
}

// ScanRequest is the body of POST /api/v1/scan/stream.
type ScanRequest struct {
	ImageBase64     string          `json:"image_base64"`
	UserPreferences UserPreferences `json:"user_preferences"`
}

// EventType enumerates the SSE event types a scan session can emit.
type EventType string

const (
	EventStatus      EventType = "status"
	EventMenuData    EventType = "menu_data"
	EventImageUpdate EventType = "image_update"
	EventError       EventType = "error"
	EventDone        EventType = "done"
	EventHeartbeat   EventType = "heartbeat"
	EventTimeout     EventType = "timeout"
)

// Event is one persisted emission in the resumable job variant. Seq is
// assigned by the event store, strictly increasing and gap-free per job.
type Event struct {
	JobID    JobID           `json:"job_id"`
	Seq      int64           `json:"seq"`
	Type     EventType       `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	At       time.Time       `json:"at"`
	ExpireAt time.Time       `json:"expire_at"`
}

// StatusPayload is the payload of a "status" event.
type StatusPayload struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	SessionID SessionID `json:"session_id"`
}

// MenuDataPayload is the payload of a "menu_data" snapshot event.
type MenuDataPayload struct {
	SessionID SessionID  `json:"session_id"`
	Items     []MenuItem `json:"items"`
}

// ImageUpdatePayload is the payload of an "image_update" event.
type ImageUpdatePayload struct {
	SessionID   SessionID   `json:"session_id"`
	ItemID      string      `json:"item_id"`
	ImageStatus ImageStatus `json:"image_status"`
	ImageURL    string      `json:"image_url"`
}

// ErrorPayload is the payload of an "error" event.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Detail      string `json:"detail,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// Summary is carried by the terminal "done" event.
type Summary struct {
	ElapsedMS         int64 `json:"elapsed_ms"`
	ItemsCount        int   `json:"items_count"`
	UsedCache         bool  `json:"used_cache"`
	UsedFallback      bool  `json:"used_fallback"`
	UnknownItemsCount int   `json:"unknown_items_count"`
}

// DonePayload is the payload of the terminal "done" event.
type DonePayload struct {
	Status    string    `json:"status"`
	SessionID SessionID `json:"session_id"`
	Summary   Summary   `json:"summary"`
}

// JobStatus is the lifecycle state of a resumable scan job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is the persisted description of one resumable scan.
type Job struct {
	JobID     JobID     `json:"job_id"`
	UploadRef string    `json:"upload_ref"`
	Language  string    `json:"language"`
	Status    JobStatus `json:"status"`
	PushToken string    `json:"push_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpireAt  time.Time `json:"expire_at"`
}

// JobSnapshot is the current visible result set of a job, updated on every
// menu_data emission so a reconnecting client can catch up without replay.
type JobSnapshot struct {
	JobID     JobID      `json:"job_id"`
	Status    JobStatus  `json:"status"`
	Items     []MenuItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpireAt  time.Time  `json:"expire_at"`
}

// ScanRecord is the audit row persisted after a completed scan.
type ScanRecord struct {
	ScanID          SessionID  `json:"scan_id"`
	ImageHashSHA256 string     `json:"image_hash_sha256"`
	Language        string     `json:"language"`
	Items           []MenuItem `json:"items"`
}
