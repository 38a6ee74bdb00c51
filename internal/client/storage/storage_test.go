package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/syftsync/internal/datasite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 4, 5, 6, 7, 890123456, time.UTC)

func rec(path, hash string) *datasite.FileMetadata {
	return &datasite.FileMetadata{
		Path:         path,
		Hash:         hash,
		Signature:    "c2ln",
		Size:         int64(len(path)),
		LastModified: baseTime,
	}
}

func backends(t *testing.T) map[string]Storage {
	t.Helper()

	sqlite, err := NewSqliteStorage(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	all := map[string]Storage{
		BackendMemory: NewMemoryStorage(),
		BackendSqlite: sqlite,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func TestStorage_UnionMergeKeepsUntouchedRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("a.txt", "H1"), rec("b.txt", "H2")}))

			// merging only the changed record must keep b.txt
			require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("a.txt", "H3")}))

			snap, err := s.ReadSnapshot(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, []string{"a.txt", "b.txt"}, snap.Paths())
			assert.Equal(t, "H3", snap["a.txt"].Hash)
			assert.Equal(t, "H2", snap["b.txt"].Hash)
		})
	}
}

func TestStorage_RoundTripIsExact(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			in := rec("dir/file.bin", "H1")
			in.LastModified = baseTime.In(time.FixedZone("X", 3*3600))
			require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{in}))

			snap, err := s.ReadSnapshot(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, snap.Contains(in))
		})
	}
}

func TestStorage_RemoveByPath(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("a", "1"), rec("b", "2")}))
			require.NoError(t, s.UnionMerge(ctx, "bob", []*datasite.FileMetadata{rec("a", "3")}))

			require.NoError(t, s.RemoveByPath(ctx, "alice", []string{"a", "missing"}))

			state, err := s.ReadState(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, state.Snapshot("alice").Paths())
			assert.Equal(t, []string{"a"}, state.Snapshot("bob").Paths())

			// emptied owners disappear
			require.NoError(t, s.RemoveByPath(ctx, "bob", []string{"a"}))
			state, err = s.ReadState(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"alice"}, state.Owners())
		})
	}
}

func TestStorage_ReadsAreCopies(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("a", "1")}))

			snap, err := s.ReadSnapshot(ctx, "alice")
			require.NoError(t, err)
			snap["a"].Hash = "mutated"
			delete(snap, "a")

			again, err := s.ReadSnapshot(ctx, "alice")
			require.NoError(t, err)
			require.Contains(t, again, "a")
			assert.Equal(t, "1", again["a"].Hash)
		})
	}
}

func TestStorage_UnknownOwnerIsEmpty(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snap, err := s.ReadSnapshot(t.Context(), "nobody")
			require.NoError(t, err)
			assert.Empty(t, snap)
		})
	}
}

func TestStorage_RejectsInvalidInput(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			assert.ErrorIs(t, s.UnionMerge(ctx, "", []*datasite.FileMetadata{rec("a", "1")}), ErrEmptyOwner)
			assert.ErrorIs(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{{Path: ""}}), datasite.ErrInvalidMetadata)
			assert.ErrorIs(t, s.RemoveByPath(ctx, "", []string{"a"}), ErrEmptyOwner)
		})
	}
}

func TestSqliteStorage_SurvivesRestart(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSqliteStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("a", "1"), rec("b", "2")}))
	require.NoError(t, s.Close())

	reopened, err := NewSqliteStorage(path)
	require.NoError(t, err)
	defer reopened.Close()

	state, err := reopened.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Len())
	assert.True(t, state.Snapshot("alice").Contains(rec("b", "2")))
}

func TestSqliteStorage_CacheInvalidatedOnWrite(t *testing.T) {
	ctx := t.Context()
	s, err := NewSqliteStorage("")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("a", "1")}))
	_, err = s.ReadSnapshot(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("a", "2")}))
	snap, err := s.ReadSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "2", snap["a"].Hash)

	require.NoError(t, s.RemoveByPath(ctx, "alice", []string{"a"}))
	snap, err = s.ReadSnapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestSqliteStorage_RemoveManyPaths(t *testing.T) {
	ctx := t.Context()
	s, err := NewSqliteStorage("")
	require.NoError(t, err)
	defer s.Close()

	var records []*datasite.FileMetadata
	var paths []string
	for i := range deleteChunkSize + 10 {
		p := fmt.Sprintf("f%04d", i)
		records = append(records, rec(p, "h"))
		paths = append(paths, p)
	}
	require.NoError(t, s.UnionMerge(ctx, "alice", records))
	require.NoError(t, s.UnionMerge(ctx, "alice", []*datasite.FileMetadata{rec("keep", "h")}))

	require.NoError(t, s.RemoveByPath(ctx, "alice", paths))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNew(t *testing.T) {
	s, err := New(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	_, err = New("redis", "")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
