package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ItemStore is the durable, crash-safe item store backed by SQLite.
// WAL mode gives single-writer/multi-reader semantics: reads proceed
// concurrently, a write holds exclusivity only for its own commit.
type ItemStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenItemStore opens (creating if needed) the durable store at path.
func OpenItemStore(path string, logger zerolog.Logger) (*ItemStore, error) {
	if path == "" {
		return nil, &ConfigError{Field: "db_path", Reason: "must not be empty"}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	// WAL keeps readers unblocked while a commit is in flight.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("enable WAL: %w", err)}
	}

	s := &ItemStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *ItemStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			source_kind TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			metadata TEXT,
			embedding BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_items_created ON items(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return &StorageError{Op: "init schema", Err: err}
	}
	return nil
}

// Append durably commits one item. The row is written in a single INSERT,
// so readers never observe a partially-written item, even after an unclean
// shutdown.
func (s *ItemStore) Append(ctx context.Context, item Item) error {
	var metadataJSON sql.NullString
	if len(item.Metadata) > 0 {
		raw, err := json.Marshal(item.Metadata)
		if err != nil {
			return &StorageError{Op: "append", Err: fmt.Errorf("marshal metadata: %w", err)}
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var blob []byte
	if len(item.Embedding) > 0 {
		var err error
		blob, err = sqlite_vec.SerializeFloat32(item.Embedding)
		if err != nil {
			return &StorageError{Op: "append", Err: fmt.Errorf("serialize embedding: %w", err)}
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO items (id, text, source_kind, created_at, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?)",
		item.ID, item.Text, string(item.Source), item.CreatedAt.UnixNano(), metadataJSON, blob,
	)
	if err != nil {
		return &StorageError{Op: "append", Err: err}
	}
	return nil
}

// Get returns the item with the given id, or ErrNotFound.
func (s *ItemStore) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, text, source_kind, created_at, metadata, embedding FROM items WHERE id = ?", id)
	item, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return item, nil
}

// ScanAll streams every item in insertion order. Used for startup index
// rebuild. Iteration stops at the first callback error.
func (s *ItemStore) ScanAll(ctx context.Context, fn func(Item) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, source_kind, created_at, metadata, embedding FROM items ORDER BY rowid")
	if err != nil {
		return &StorageError{Op: "scan", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return &StorageError{Op: "scan", Err: err}
		}
		if err := fn(*item); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &StorageError{Op: "scan", Err: err}
	}
	return nil
}

// Delete removes the item with the given id. Deleting an absent id is a
// no-op.
func (s *ItemStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	return nil
}

// IDsOlderThan returns ids of items created strictly before cutoff, used
// by the retention sweeper.
func (s *ItemStore) IDsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM items WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return nil, &StorageError{Op: "expired ids", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "expired ids", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "expired ids", Err: err}
	}
	return ids, nil
}

// Count returns the number of stored items.
func (s *ItemStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// Close closes the underlying database.
func (s *ItemStore) Close() error {
	return s.db.Close()
}

func scanItem(scan func(dest ...any) error) (*Item, error) {
	var (
		item         Item
		source       string
		createdAt    int64
		metadataJSON sql.NullString
		blob         []byte
	)
	if err := scan(&item.ID, &item.Text, &source, &createdAt, &metadataJSON, &blob); err != nil {
		return nil, err
	}

	item.Source = SourceKind(source)
	item.CreatedAt = time.Unix(0, createdAt).UTC()

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &item.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	if len(blob) > 0 {
		vec, err := deserializeFloat32(blob)
		if err != nil {
			return nil, err
		}
		item.Embedding = vec
	}

	return &item, nil
}

// deserializeFloat32 decodes the sqlite-vec blob format (little-endian
// float32 array). The bindings only export the encoder.
func deserializeFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}
