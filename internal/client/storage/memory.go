package storage

import (
	"context"
	"sync"

	"github.com/openmined/syftsync/internal/datasite"
)

// MemoryStorage keeps the state for the lifetime of the process only.
type MemoryStorage struct {
	mu     sync.RWMutex
	state  datasite.State
	closed bool
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{state: make(datasite.State)}
}

func (m *MemoryStorage) ReadState(ctx context.Context) (datasite.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.state.Clone(), nil
}

func (m *MemoryStorage) ReadSnapshot(ctx context.Context, owner string) (datasite.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.state.Snapshot(owner).Clone(), nil
}

func (m *MemoryStorage) UnionMerge(ctx context.Context, owner string, records []*datasite.FileMetadata) error {
	if err := validateRecords(owner, records); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, r := range records {
		m.state.Put(owner, r)
	}
	return nil
}

func (m *MemoryStorage) RemoveByPath(ctx context.Context, owner string, paths []string) error {
	if owner == "" {
		return ErrEmptyOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	snap, ok := m.state[owner]
	if !ok {
		return nil
	}
	for _, p := range paths {
		delete(snap, p)
	}
	if len(snap) == 0 {
		delete(m.state, owner)
	}
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.state = nil
	return nil
}
