// internal/types/interfaces.go
package types

import (
	"context"
)

type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id JobID) (*Job, error)
	Update(ctx context.Context, job *Job) error
	GetSnapshot(ctx context.Context, id JobID) (*JobSnapshot, error)
	UpdateSnapshot(ctx context.Context, id JobID, status JobStatus, items []MenuItem) error
	List(ctx context.Context) ([]*Job, error)
	Delete(ctx context.Context, id JobID) error
}

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	After(ctx context.Context, jobID JobID, seq int64) ([]*Event, error)
	Count(ctx context.Context, jobID JobID) (int64, error)
}

type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// KnowledgeEntry is one cached (dish key, language) row.
type KnowledgeEntry struct {
	DishKey        string   `json:"dish_key"`
	TranslatedName string   `json:"translated_name"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Romanization   string   `json:"romanji"`
	SeenCount      int      `json:"seen_count"`
}

// KnowledgeStore is the read-mostly dish knowledge cache. Fetch misses and
// timeouts are non-fatal to a scan; UpsertMany merges on conflict, filling
// only empty fields and incrementing the seen count.
type KnowledgeStore interface {
	Fetch(ctx context.Context, dishKeys []string, language string) (map[string]KnowledgeEntry, error)
	UpsertMany(ctx context.Context, rows []KnowledgeEntry, language string, sourceScanID SessionID) error
	InsertScanRecord(ctx context.Context, rec *ScanRecord) error
}

// Notifier delivers an out-of-band completion notice for a resumable job.
type Notifier interface {
	ScanDone(ctx context.Context, pushToken string, jobID JobID, status JobStatus, itemCount int) error
}
