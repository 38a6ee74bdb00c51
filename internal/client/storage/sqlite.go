package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftsync/internal/datasite"
	"github.com/openmined/syftsync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
    owner TEXT NOT NULL,
    path TEXT NOT NULL,
    hash TEXT NOT NULL,
    signature TEXT NOT NULL,
    size INTEGER NOT NULL,
    last_modified TEXT NOT NULL, -- RFC3339Nano, UTC
    PRIMARY KEY (owner, path)
);

CREATE INDEX IF NOT EXISTS idx_sync_state_owner ON sync_state(owner);
`

const (
	snapshotCacheSize = 64
	// sqlite caps bound parameters per statement
	deleteChunkSize = 500
)

// dbRecord is a row of sync_state. Time is stored as TEXT.
type dbRecord struct {
	Owner        string `db:"owner"`
	Path         string `db:"path"`
	Hash         string `db:"hash"`
	Signature    string `db:"signature"`
	Size         int64  `db:"size"`
	LastModified string `db:"last_modified"`
}

func toRow(owner string, r *datasite.FileMetadata) dbRecord {
	return dbRecord{
		Owner:        owner,
		Path:         r.Path,
		Hash:         r.Hash,
		Signature:    r.Signature,
		Size:         r.Size,
		LastModified: r.LastModified.UTC().Format(time.RFC3339Nano),
	}
}

func (row *dbRecord) toMetadata() (*datasite.FileMetadata, error) {
	modTime, err := time.Parse(time.RFC3339Nano, row.LastModified)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp for %s: %w", row.Path, err)
	}
	return &datasite.FileMetadata{
		Path:         row.Path,
		Hash:         row.Hash,
		Signature:    row.Signature,
		Size:         row.Size,
		LastModified: modTime.UTC(),
	}, nil
}

// SqliteStorage persists the believed state so it survives restarts.
// Per-owner snapshots are cached and dropped on every write to that owner.
type SqliteStorage struct {
	db    *sqlx.DB
	path  string
	cache *lru.Cache[string, datasite.Snapshot]

	// held by writers so a concurrent read cannot repopulate the cache with
	// rows from before the write
	mu sync.RWMutex
}

var _ Storage = (*SqliteStorage)(nil)

// NewSqliteStorage opens or creates the state database at path. An empty
// path keeps the database in memory.
func NewSqliteStorage(path string) (*SqliteStorage, error) {
	opts := []db.SqliteOption{db.WithMaxOpenConns(1)}
	if path != "" {
		opts = append(opts, db.WithPath(path))
	}

	conn, err := db.NewSqliteDB(opts...)
	if err != nil {
		return nil, fmt.Errorf("open sync state: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize sync state schema: %w", err)
	}

	cache, err := lru.New[string, datasite.Snapshot](snapshotCacheSize)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}

	return &SqliteStorage{db: conn, path: path, cache: cache}, nil
}

func (s *SqliteStorage) ReadState(ctx context.Context) (datasite.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []dbRecord
	err := s.db.SelectContext(ctx, &rows, "SELECT owner, path, hash, signature, size, last_modified FROM sync_state")
	if err != nil {
		return nil, fmt.Errorf("query sync state: %w", err)
	}

	state := make(datasite.State)
	for _, row := range rows {
		meta, err := row.toMetadata()
		if err != nil {
			slog.Warn("sync state skip corrupt row", "owner", row.Owner, "path", row.Path, "error", err)
			continue
		}
		state.Put(row.Owner, meta)
	}
	return state, nil
}

func (s *SqliteStorage) ReadSnapshot(ctx context.Context, owner string) (datasite.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if snap, ok := s.cache.Get(owner); ok {
		return snap.Clone(), nil
	}

	var rows []dbRecord
	err := s.db.SelectContext(ctx, &rows,
		"SELECT owner, path, hash, signature, size, last_modified FROM sync_state WHERE owner = ?", owner)
	if err != nil {
		return nil, fmt.Errorf("query snapshot %s: %w", owner, err)
	}

	snap := make(datasite.Snapshot, len(rows))
	for _, row := range rows {
		meta, err := row.toMetadata()
		if err != nil {
			slog.Warn("sync state skip corrupt row", "owner", row.Owner, "path", row.Path, "error", err)
			continue
		}
		snap.Put(meta)
	}

	s.cache.Add(owner, snap)
	return snap.Clone(), nil
}

// UnionMerge inserts records, replacing stored records that share a path.
// Every other record of the owner is left untouched.
func (s *SqliteStorage) UnionMerge(ctx context.Context, owner string, records []*datasite.FileMetadata) error {
	if err := validateRecords(owner, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cache.Remove(owner)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin union merge: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT OR REPLACE INTO sync_state (owner, path, hash, signature, size, last_modified)
	          VALUES (:owner, :path, :hash, :signature, :size, :last_modified)`
	for _, r := range records {
		if _, err := tx.NamedExecContext(ctx, query, toRow(owner, r)); err != nil {
			return fmt.Errorf("union merge %s: %w", r.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit union merge: %w", err)
	}
	slog.Debug("sync state merged", "owner", owner, "records", len(records))
	return nil
}

func (s *SqliteStorage) RemoveByPath(ctx context.Context, owner string, paths []string) error {
	if owner == "" {
		return ErrEmptyOwner
	}
	if len(paths) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cache.Remove(owner)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for start := 0; start < len(paths); start += deleteChunkSize {
		chunk := paths[start:min(start+deleteChunkSize, len(paths))]

		query, args, err := sqlx.In("DELETE FROM sync_state WHERE owner = ? AND path IN (?)", owner, chunk)
		if err != nil {
			return fmt.Errorf("build remove query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("remove paths of %s: %w", owner, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove: %w", err)
	}
	slog.Debug("sync state removed", "owner", owner, "paths", len(paths))
	return nil
}

// Count returns the number of stored records across every owner.
func (s *SqliteStorage) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM sync_state"); err != nil {
		return 0, fmt.Errorf("count sync state: %w", err)
	}
	return count, nil
}

func (s *SqliteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()
	if err := s.db.Close(); err != nil {
		slog.Error("sync state close", "error", err)
		return err
	}
	slog.Debug("sync state closed", "path", s.path)
	return nil
}
