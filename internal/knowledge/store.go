// Package knowledge persists what past scans learned about dishes: a
// (dish key, language) keyed cache of translations and descriptions, plus an
// audit record per scan. Backed by Postgres through the pgx stdlib driver; a
// Memory implementation serves tests and keyless local runs.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/backtrue/omakase-app/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS dish_knowledge (
	dish_key        TEXT NOT NULL,
	language        TEXT NOT NULL,
	translated_name TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	tags            JSONB NOT NULL DEFAULT '[]',
	romanji         TEXT NOT NULL DEFAULT '',
	seen_count      INTEGER NOT NULL DEFAULT 1,
	source_scan_id  TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (dish_key, language)
);
CREATE TABLE IF NOT EXISTS scan_records (
	scan_id           TEXT PRIMARY KEY,
	image_hash_sha256 TEXT NOT NULL,
	language          TEXT NOT NULL,
	items             JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store implements types.KnowledgeStore on Postgres.
type Store struct {
	db *sql.DB
}

// Open connects to the database, verifies the connection, and ensures the
// schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Fetch returns the cached entries for the given dish keys in one language.
// Missing keys are simply absent from the result.
func (s *Store) Fetch(ctx context.Context, dishKeys []string, language string) (map[string]types.KnowledgeEntry, error) {
	if len(dishKeys) == 0 {
		return map[string]types.KnowledgeEntry{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT dish_key, translated_name, description, tags, romanji, seen_count
		FROM dish_knowledge
		WHERE language = $1 AND dish_key = ANY($2)`,
		language, dishKeys)
	if err != nil {
		return nil, fmt.Errorf("fetch knowledge: %w", err)
	}
	defer rows.Close()

	out := make(map[string]types.KnowledgeEntry)
	for rows.Next() {
		var e types.KnowledgeEntry
		var tags []byte
		if err := rows.Scan(&e.DishKey, &e.TranslatedName, &e.Description, &tags, &e.Romanization, &e.SeenCount); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &e.Tags); err != nil {
				return nil, fmt.Errorf("decode tags for %s: %w", e.DishKey, err)
			}
		}
		out[e.DishKey] = e
	}
	return out, rows.Err()
}

// UpsertMany merges learned rows into the cache: new keys insert, existing
// keys fill only empty fields and bump the seen count.
func (s *Store) UpsertMany(ctx context.Context, entries []types.KnowledgeEntry, language string, sourceScanID types.SessionID) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO dish_knowledge
			(dish_key, language, translated_name, description, tags, romanji, seen_count, source_scan_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, now())
		ON CONFLICT (dish_key, language) DO UPDATE SET
			translated_name = CASE WHEN dish_knowledge.translated_name = ''
				THEN EXCLUDED.translated_name ELSE dish_knowledge.translated_name END,
			description = CASE WHEN dish_knowledge.description = ''
				THEN EXCLUDED.description ELSE dish_knowledge.description END,
			tags = CASE WHEN dish_knowledge.tags = '[]'::jsonb
				THEN EXCLUDED.tags ELSE dish_knowledge.tags END,
			romanji = CASE WHEN dish_knowledge.romanji = ''
				THEN EXCLUDED.romanji ELSE dish_knowledge.romanji END,
			seen_count = dish_knowledge.seen_count + 1,
			source_scan_id = EXCLUDED.source_scan_id,
			updated_at = now()`

	for _, e := range entries {
		if e.DishKey == "" {
			continue
		}
		tags := e.Tags
		if tags == nil {
			tags = []string{}
		}
		encoded, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("encode tags for %s: %w", e.DishKey, err)
		}
		if _, err := tx.ExecContext(ctx, q,
			e.DishKey, language, e.TranslatedName, e.Description, encoded, e.Romanization, string(sourceScanID)); err != nil {
			return fmt.Errorf("upsert %s: %w", e.DishKey, err)
		}
	}
	return tx.Commit()
}

// InsertScanRecord persists the audit row for one completed scan.
func (s *Store) InsertScanRecord(ctx context.Context, rec *types.ScanRecord) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("encode scan items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_records (scan_id, image_hash_sha256, language, items)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (scan_id) DO NOTHING`,
		string(rec.ScanID), rec.ImageHashSHA256, rec.Language, items)
	if err != nil {
		return fmt.Errorf("insert scan record: %w", err)
	}
	return nil
}
