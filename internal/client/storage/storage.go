package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmined/syftsync/internal/datasite"
)

const (
	BackendSqlite = "sqlite"
	BackendMemory = "memory"
)

var (
	ErrEmptyOwner     = errors.New("storage: empty owner")
	ErrUnknownBackend = errors.New("storage: unknown backend")
	ErrClosed         = errors.New("storage: closed")
)

// Storage holds the node's believed state of every datasite. Writes are
// additive unions keyed by path or path keyed removals; a snapshot is never
// replaced as a whole. Reads return copies the caller may keep.
type Storage interface {
	ReadState(ctx context.Context) (datasite.State, error)
	ReadSnapshot(ctx context.Context, owner string) (datasite.Snapshot, error)
	UnionMerge(ctx context.Context, owner string, records []*datasite.FileMetadata) error
	RemoveByPath(ctx context.Context, owner string, paths []string) error
	Close() error
}

// New opens the storage backend by name. path is ignored by the memory
// backend.
func New(backend string, path string) (Storage, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendSqlite, "":
		return NewSqliteStorage(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func validateRecords(owner string, records []*datasite.FileMetadata) error {
	if owner == "" {
		return ErrEmptyOwner
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}
