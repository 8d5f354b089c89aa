package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roundrop/new-tab-text/internal/note"
)

// Keys under which the primary local copy and the backup copy live.
// Same physical medium, distinct rows, so corruption of one key leaves
// the other intact.
const (
	localKey  = "note"
	backupKey = "note.backup"
)

// SQLiteStore owns the database shared by the local and backup replicas.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		key        TEXT PRIMARY KEY,
		id         TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  INTEGER NOT NULL,
		last_saved TEXT NOT NULL DEFAULT ''
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the shared database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Local returns the primary device-local replica.
func (s *SQLiteStore) Local(capacity int, timeout time.Duration) *SQLiteReplica {
	return &SQLiteReplica{store: s, name: "local", key: localKey, capacity: capacity, timeout: timeout}
}

// Backup returns the second copy on the same medium.
func (s *SQLiteStore) Backup(capacity int, timeout time.Duration) *SQLiteReplica {
	return &SQLiteReplica{store: s, name: "backup", key: backupKey, capacity: capacity, timeout: timeout}
}

// SQLiteReplica is one keyed row of the shared database.
type SQLiteReplica struct {
	store    *SQLiteStore
	name     string
	key      string
	capacity int
	timeout  time.Duration
}

func (r *SQLiteReplica) Name() string      { return r.name }
func (r *SQLiteReplica) Capacity() int     { return r.capacity }
func (r *SQLiteReplica) TimeoutRisk() bool { return false }

func (r *SQLiteReplica) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *SQLiteReplica) Write(ctx context.Context, n *note.Note) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO notes (key, id, content, timestamp, last_saved)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			id = excluded.id,
			content = excluded.content,
			timestamp = excluded.timestamp,
			last_saved = excluded.last_saved`,
		r.key, n.ID, n.Content, n.Timestamp, n.LastSaved)
	if err != nil {
		return fmt.Errorf("sqlite write %s: %w", r.key, err)
	}
	return nil
}

func (r *SQLiteReplica) Read(ctx context.Context) (*note.Note, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var n note.Note
	err := r.store.db.QueryRowContext(ctx,
		`SELECT id, content, timestamp, last_saved FROM notes WHERE key = ?`, r.key).
		Scan(&n.ID, &n.Content, &n.Timestamp, &n.LastSaved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read %s: %w", r.key, err)
	}
	return &n, nil
}

func (r *SQLiteReplica) Ping(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.store.db.PingContext(ctx)
}
