package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "alice@example.com"

func newMemWorkspace(t *testing.T) (*Workspace, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	w, err := NewWorkspace(t.TempDir(), alice, WithFs(fs))
	require.NoError(t, err)
	return w, fs
}

func TestNormPath(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty-is-local-dir", "", "."},
		{"unix-relative", "./path/to/test/path", "path/to/test/path"},
		{"unix-absolute", "/var/lib/check/path", "var/lib/check/path"},
		{"windows-relative", "\\SyftSync\\user@example.com\\test.txt", "SyftSync/user@example.com/test.txt"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, NormPath(c.input))
		})
	}
}

func TestHasDatasiteOwner(t *testing.T) {
	assert.True(t, HasDatasiteOwner("user@example.com/path"))
	assert.True(t, HasDatasiteOwner("test.user@domain.co.uk/file.txt"))
	assert.False(t, HasDatasiteOwner("notanemail/path"))
	assert.False(t, HasDatasiteOwner("user@domain.com"))
}

func TestLocalPath(t *testing.T) {
	w, _ := newMemWorkspace(t)
	want := filepath.Join(w.DatasitesDir, alice, "public", "a.txt")

	for _, in := range []string{
		"alice@example.com/public/a.txt",
		"/alice@example.com/public/a.txt",
		"public/a.txt",
	} {
		got, err := w.LocalPath(alice, in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := w.LocalPath(alice, "../../etc/passwd")
	assert.Error(t, err)

	_, err = w.LocalPath(alice, "alice@example.com")
	assert.Error(t, err)
}

func TestDatasitePath(t *testing.T) {
	w, _ := newMemWorkspace(t)

	owner, path, err := w.DatasitePath(filepath.Join(w.DatasitesDir, "bob@example.com", "x", "y.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", owner)
	assert.Equal(t, "bob@example.com/x/y.txt", path)

	_, _, err = w.DatasitePath(filepath.Join(w.Root, "logs", "a.log"))
	assert.ErrorIs(t, err, ErrNotInWorkspace)

	_, _, err = w.DatasitePath(filepath.Join(w.DatasitesDir, "stray.txt"))
	assert.ErrorIs(t, err, ErrNotInWorkspace)
}

func TestWriteReadRemove(t *testing.T) {
	w, fs := newMemWorkspace(t)
	path := "alice@example.com/deep/dir/a.bin"

	require.NoError(t, w.WriteFile(alice, path, []byte("v1")))
	require.NoError(t, w.WriteFile(alice, path, []byte("v2")))

	data, err := w.ReadFile(alice, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
	assert.True(t, w.Exists(alice, path))

	// no staging files left behind
	entries, err := afero.ReadDir(fs, filepath.Join(w.DatasitesDir, alice, "deep", "dir"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, w.Remove(alice, path))
	assert.False(t, w.Exists(alice, path))
	require.NoError(t, w.Remove(alice, path), "removing twice is fine")
}

func TestWorkspaceSetup_CreatesLayout(t *testing.T) {
	w, err := NewWorkspace(t.TempDir(), alice)
	require.NoError(t, err)

	require.NoError(t, w.Setup())
	t.Cleanup(func() { _ = w.Unlock() })

	assert.DirExists(t, w.MetadataDir)
	assert.DirExists(t, w.DatasitesDir)
	assert.DirExists(t, w.UserDir)
	assert.DirExists(t, w.LogsDir)
	assert.Equal(t, filepath.Join(w.MetadataDir, "state.db"), w.StatePath())
}

func TestWorkspaceLocking_SingleInstance(t *testing.T) {
	root := t.TempDir()

	w1, err := NewWorkspace(root, alice)
	require.NoError(t, err)
	w2, err := NewWorkspace(root, alice)
	require.NoError(t, err)

	require.NoError(t, w1.Lock())

	err = w2.Lock()
	require.ErrorIs(t, err, ErrWorkspaceLocked)

	lockPath := filepath.Join(root, ".data", "syftsync.lock")
	assert.FileExists(t, lockPath)

	require.NoError(t, w1.Unlock())
	_, statErr := os.Stat(lockPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	require.NoError(t, w2.Lock())
	t.Cleanup(func() { _ = w2.Unlock() })
}
