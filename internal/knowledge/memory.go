package knowledge

import (
	"context"
	"sync"

	"github.com/backtrue/omakase-app/internal/types"
)

// Memory is an in-memory KnowledgeStore with the same merge semantics as the
// Postgres store. Used in tests and when no database is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]types.KnowledgeEntry // key: language + "\x00" + dishKey
	records map[types.SessionID]*types.ScanRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]types.KnowledgeEntry),
		records: make(map[types.SessionID]*types.ScanRecord),
	}
}

func memKey(language, dishKey string) string { return language + "\x00" + dishKey }

func (m *Memory) Fetch(_ context.Context, dishKeys []string, language string) (map[string]types.KnowledgeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]types.KnowledgeEntry)
	for _, k := range dishKeys {
		if e, ok := m.entries[memKey(language, k)]; ok {
			out[k] = e
		}
	}
	return out, nil
}

func (m *Memory) UpsertMany(_ context.Context, rows []types.KnowledgeEntry, language string, _ types.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range rows {
		if in.DishKey == "" {
			continue
		}
		key := memKey(language, in.DishKey)
		cur, ok := m.entries[key]
		if !ok {
			in.SeenCount = 1
			m.entries[key] = in
			continue
		}
		if cur.TranslatedName == "" {
			cur.TranslatedName = in.TranslatedName
		}
		if cur.Description == "" {
			cur.Description = in.Description
		}
		if len(cur.Tags) == 0 {
			cur.Tags = in.Tags
		}
		if cur.Romanization == "" {
			cur.Romanization = in.Romanization
		}
		cur.SeenCount++
		m.entries[key] = cur
	}
	return nil
}

func (m *Memory) InsertScanRecord(_ context.Context, rec *types.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ScanID]; !ok {
		m.records[rec.ScanID] = rec
	}
	return nil
}

// Records returns the stored scan records, for tests.
func (m *Memory) Records() []*types.ScanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.ScanRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}
