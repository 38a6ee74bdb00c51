package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watchedDir(t *testing.T) string {
	t.Helper()
	// notify reports resolved paths, macOS temp dirs are symlinks
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestFileWatcherReportsWrites(t *testing.T) {
	dir := watchedDir(t)
	fw := NewFileWatcher(dir)
	fw.SetDebounceTimeout(20 * time.Millisecond)
	fw.FilterPaths(func(path string) bool {
		return strings.HasSuffix(path, ".tmp")
	})
	require.NoError(t, fw.Start(t.Context()))
	defer fw.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.tmp"), []byte("x"), 0o644))
	target := filepath.Join(dir, "data.txt")
	for i := range 5 {
		require.NoError(t, os.WriteFile(target, []byte{byte(i)}, 0o644))
	}

	select {
	case path := <-fw.Events():
		assert.Equal(t, target, path)
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}

	// the burst above folds into one event
	select {
	case path := <-fw.Events():
		t.Fatalf("unexpected event %s", path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileWatcherIgnoreOnce(t *testing.T) {
	dir := watchedDir(t)
	fw := NewFileWatcher(dir)
	fw.SetDebounceTimeout(20 * time.Millisecond)
	require.NoError(t, fw.Start(t.Context()))
	defer fw.Stop()

	ignored := filepath.Join(dir, "pulled.txt")
	fw.IgnoreOnce(ignored)
	require.NoError(t, os.WriteFile(ignored, []byte("from server"), 0o644))

	select {
	case path := <-fw.Events():
		t.Fatalf("unexpected event %s", path)
	case <-time.After(200 * time.Millisecond):
	}

	watched := filepath.Join(dir, "edited.txt")
	require.NoError(t, os.WriteFile(watched, []byte("by user"), 0o644))
	select {
	case path := <-fw.Events():
		assert.Equal(t, watched, path)
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
}

func TestFileWatcherIgnoreOncePrunesExpired(t *testing.T) {
	fw := NewFileWatcher(t.TempDir())
	fw.SetIgnoreTimeout(10 * time.Millisecond)

	// atomic renames never fire a write for these paths
	for i := range 100 {
		fw.IgnoreOnce(fmt.Sprintf("/datasites/bob@example.com/f%d.txt", i))
	}
	time.Sleep(20 * time.Millisecond)

	last := "/datasites/bob@example.com/last.txt"
	fw.IgnoreOnce(last)

	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()
	assert.Len(t, fw.ignore, 1)
	assert.Contains(t, fw.ignore, last)
}

func TestFileWatcherStopClosesEvents(t *testing.T) {
	fw := NewFileWatcher(watchedDir(t))
	require.NoError(t, fw.Start(t.Context()))
	fw.Stop()
	fw.Stop()

	_, open := <-fw.Events()
	assert.False(t, open)
}
