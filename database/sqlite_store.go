package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	metric     TEXT NOT NULL DEFAULT 'cosine',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`

// SQLiteStore keeps vectors in a local SQLite file and searches them by
// brute-force cosine distance.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ VectorStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) dataDir/vectors.db.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "vectors.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, path: dbPath}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, metric) VALUES (?, 'cosine') ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection, id, content, metadata, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling metadata for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, r.ID, r.Content, string(meta), float32SliceToBytes(r.Vector), now); err != nil {
			return fmt.Errorf("upserting %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]VectorHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM records WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		rec, blob, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(rec.Metadata) {
			continue
		}
		rec.Vector = bytesToFloat32Slice(blob)
		dist, err := CosineDistance(vector, rec.Vector)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		hits = append(hits, VectorHit{Record: rec, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", collection, err)
	}
	return rankHits(hits, topK), nil
}

func (s *SQLiteStore) Get(ctx context.Context, collection string, ids []string) ([]VectorRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, content, metadata, embedding FROM records WHERE collection = ? AND id IN (%s)`,
		placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting records: %w", err)
	}
	defer rows.Close()

	var records []VectorRecord
	for rows.Next() {
		rec, blob, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.Vector = bytesToFloat32Slice(blob)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`DELETE FROM records WHERE collection = ? AND id IN (%s)`, placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Scan(ctx context.Context, collection string, filter Filter, fn func(VectorRecord) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, x'' FROM records WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", collection, err)
	}

	// collect first so fn may write to the store
	var matched []VectorRecord
	for rows.Next() {
		rec, _, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		if filter.Matches(rec.Metadata) {
			matched = append(matched, rec)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating %s: %w", collection, err)
	}
	rows.Close()

	for _, rec := range matched {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", collection, err)
	}
	return n, nil
}

func (s *SQLiteStore) Reset(ctx context.Context, collection string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("resetting %s: %w", collection, err)
	}
	return s.EnsureCollection(ctx, collection)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (VectorRecord, []byte, error) {
	var (
		rec  VectorRecord
		meta string
		blob []byte
	)
	if err := row.Scan(&rec.ID, &rec.Content, &meta, &blob); err != nil {
		return rec, nil, fmt.Errorf("scanning record: %w", err)
	}
	rec.Metadata = map[string]any{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return rec, nil, fmt.Errorf("decoding metadata of %s: %w", rec.ID, err)
		}
	}
	return rec, blob, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
