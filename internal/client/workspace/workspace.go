package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/spf13/afero"
)

const (
	datasitesDir = "datasites"
	logsDir      = "logs"
	metadataDir  = ".data"
	lockFile     = "syftsync.lock"
	stateFile    = "state.db"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
	ErrNotInWorkspace  = errors.New("path outside of datasites directory")
)

// Workspace is the on-disk home of the synced datasites. All file content
// goes through Fs so tests can run on a memory filesystem.
type Workspace struct {
	Owner        string
	Root         string
	DatasitesDir string
	MetadataDir  string
	LogsDir      string
	UserDir      string

	fs    afero.Fs
	flock *flock.Flock
}

type Option func(*Workspace)

// WithFs replaces the OS filesystem. The lock file always lives on disk.
func WithFs(fs afero.Fs) Option {
	return func(w *Workspace) {
		w.fs = fs
	}
}

func NewWorkspace(rootDir string, user string, opts ...Option) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	w := &Workspace{
		Owner:        user,
		Root:         root,
		DatasitesDir: filepath.Join(root, datasitesDir),
		MetadataDir:  filepath.Join(root, metadataDir),
		LogsDir:      filepath.Join(root, logsDir),
		fs:           afero.NewOsFs(),
		flock:        flock.New(filepath.Join(root, metadataDir, lockFile)),
	}
	w.UserDir = filepath.Join(w.DatasitesDir, user)

	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *Workspace) Lock() error {
	// a lock file so that other syftsync instances cannot use the workspace
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates its directories.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	for _, dir := range []string{w.DatasitesDir, w.UserDir, w.LogsDir} {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// StatePath is where the durable sync state is kept
func (w *Workspace) StatePath() string {
	return filepath.Join(w.MetadataDir, stateFile)
}

// LocalPath maps a datasite path of owner to its location on disk. Server
// paths may or may not carry the owner prefix, both land in the owner's dir.
func (w *Workspace) LocalPath(owner, path string) (string, error) {
	rel, err := utils.CleanRelPath(path)
	if err != nil {
		return "", err
	}
	rel = strings.TrimPrefix(rel, owner+"/")
	if rel == owner || rel == "" {
		return "", fmt.Errorf("%w: %q is a datasite root", utils.ErrEmptyPath, path)
	}
	return filepath.Join(w.DatasitesDir, owner, filepath.FromSlash(rel)), nil
}

// DatasitePath is the inverse of LocalPath: it returns the owner and the
// slash separated datasite path ("owner/...") of a file on disk.
func (w *Workspace) DatasitePath(absPath string) (owner string, path string, err error) {
	rel, err := filepath.Rel(w.DatasitesDir, absPath)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrNotInWorkspace, absPath)
	}
	rel = NormPath(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", "", fmt.Errorf("%w: %s", ErrNotInWorkspace, absPath)
	}
	if !HasDatasiteOwner(rel) {
		return "", "", fmt.Errorf("%w: %s has no datasite owner", ErrNotInWorkspace, absPath)
	}
	owner, _, _ = strings.Cut(rel, "/")
	return owner, rel, nil
}

func (w *Workspace) ReadFile(owner, path string) ([]byte, error) {
	local, err := w.LocalPath(owner, path)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(w.fs, local)
}

// WriteFile replaces the content of a datasite file. The content is staged
// in a temp file next to the target and renamed into place, so readers never
// see a partial file.
func (w *Workspace) WriteFile(owner, path string, data []byte) error {
	local, err := w.LocalPath(owner, path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(local)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(w.fs, dir, ".syftsync-*.tmp")
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		w.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		w.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("close %s: %w", path, err)
	}

	if err := w.fs.Rename(tmpName, local); err != nil {
		w.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

// Remove deletes a datasite file. A file that is already gone is not an
// error.
func (w *Workspace) Remove(owner, path string) error {
	local, err := w.LocalPath(owner, path)
	if err != nil {
		return err
	}
	if err := w.fs.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (w *Workspace) Exists(owner, path string) bool {
	local, err := w.LocalPath(owner, path)
	if err != nil {
		return false
	}
	ok, _ := afero.Exists(w.fs, local)
	return ok
}

// NormPath normalizes a path by cleaning it, replacing backslashes with slashes, and trimming leading slashes
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	return path
}
