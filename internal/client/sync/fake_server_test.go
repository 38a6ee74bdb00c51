package sync

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/openmined/syftsync/internal/syftsdk"
	"github.com/stretchr/testify/require"
)

var serverTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFile struct {
	content   []byte
	hash      string
	signature string
	modified  time.Time
}

// fakeServer is an in-memory sync server speaking the /sync and /auth api.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu    gosync.Mutex
	files map[string]*fakeFile
	calls map[string]int

	// requireToken rejects every request not carrying this bearer token
	requireToken string
	// races makes another writer win the next n applies of a path
	races map[string]int
	// failDownload answers a download of the path with a 500
	failDownload map[string]bool
	// dropFromBundle leaves the path out of bulk bundles
	dropFromBundle map[string]bool
	failBulk       bool
	statesDelay    time.Duration
	statesInFlight int
	statesMaxSeen  int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:              t,
		files:          make(map[string]*fakeFile),
		calls:          make(map[string]int),
		races:          make(map[string]int),
		failDownload:   make(map[string]bool),
		dropFromBundle: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/datasite_states", fs.handleStates)
	mux.HandleFunc("POST /sync/get_metadata", fs.handleMetadata)
	mux.HandleFunc("POST /sync/get_diff", fs.handleGetDiff)
	mux.HandleFunc("POST /sync/apply_diff", fs.handleApplyDiff)
	mux.HandleFunc("POST /sync/create", fs.handleCreate)
	mux.HandleFunc("POST /sync/delete", fs.handleDelete)
	mux.HandleFunc("POST /sync/download", fs.handleDownload)
	mux.HandleFunc("POST /sync/download_bulk", fs.handleBulk)

	fs.srv = httptest.NewServer(fs.auth(mux))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) sdk(email string) *syftsdk.SyftSDK {
	sdk, err := syftsdk.New(&syftsdk.SyftSDKConfig{
		BaseURL:     fs.srv.URL,
		Email:       email,
		AccessToken: "initial",
	})
	require.NoError(fs.t, err)
	fs.t.Cleanup(sdk.Close)
	return sdk
}

func hashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:8])
}

// put stores a file as if another client had uploaded it.
func (fs *fakeServer) put(path string, content []byte) *FileMetadata {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := &fakeFile{
		content:   content,
		hash:      hashOf(content),
		signature: base64.StdEncoding.EncodeToString([]byte("sig:" + string(content))),
		modified:  serverTime,
	}
	fs.files[path] = f
	return f.metadata(path)
}

func (fs *fakeServer) get(path string) (*fakeFile, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[path]
	return f, ok
}

func (fs *fakeServer) callCount(endpoint string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls[endpoint]
}

func (f *fakeFile) metadata(path string) *FileMetadata {
	return &FileMetadata{
		Path:         path,
		Hash:         f.hash,
		Signature:    f.signature,
		Size:         int64(len(f.content)),
		LastModified: f.modified,
	}
}

func (f *fakeFile) wire(path string) map[string]any {
	return map[string]any{
		"path":          path,
		"hash":          f.hash,
		"signature":     f.signature,
		"file_size":     len(f.content),
		"last_modified": f.modified.Format(time.RFC3339Nano),
	}
}

func (fs *fakeServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.calls[r.URL.Path]++
		required := fs.requireToken
		fs.mu.Unlock()

		if required != "" && r.Header.Get("Authorization") != "Bearer "+required {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, out any) {
	_ = json.NewDecoder(r.Body).Decode(out)
}

func (fs *fakeServer) handleStates(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	fs.statesInFlight++
	fs.statesMaxSeen = max(fs.statesMaxSeen, fs.statesInFlight)
	delay := fs.statesDelay
	fs.mu.Unlock()

	time.Sleep(delay)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.statesInFlight--

	out := make(map[string][]any)
	for path, f := range fs.files {
		owner, _, _ := strings.Cut(path, "/")
		out[owner] = append(out[owner], f.wire(path))
	}
	writeJSON(w, http.StatusOK, out)
}

func (fs *fakeServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PathLike string `json:"path_like"`
	}
	readJSON(r, &req)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[req.PathLike]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, f.wire(req.PathLike))
}

// handleGetDiff returns the signature itself as the diff; the fake applies a
// diff by taking it as the new content.
func (fs *fakeServer) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		Signature string `json:"signature"`
	}
	readJSON(r, &req)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[req.Path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "hash": f.hash, "diff": req.Signature})
}

func (fs *fakeServer) handleApplyDiff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path         string `json:"path"`
		Diff         string `json:"diff"`
		ExpectedHash string `json:"expected_hash"`
	}
	readJSON(r, &req)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[req.Path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
		return
	}
	if fs.races[req.Path] > 0 {
		fs.races[req.Path]--
		f.content = append(f.content, []byte("+race")...)
		f.hash = hashOf(f.content)
	}
	if f.hash != req.ExpectedHash {
		writeJSON(w, http.StatusConflict, map[string]string{"code": syftsdk.CodeHashMismatch, "error": "hash mismatch"})
		return
	}

	diff, _ := base64.StdEncoding.DecodeString(req.Diff)
	previous := f.hash
	f.content = diff
	f.hash = hashOf(diff)
	f.signature = req.Diff
	f.modified = f.modified.Add(time.Minute)
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "current_hash": f.hash, "previous_hash": previous})
}

func (fs *fakeServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		_, params, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if params["name"] != "file" {
			continue
		}
		content, _ := io.ReadAll(part)
		path := params["filename"]

		fs.mu.Lock()
		fs.files[path] = &fakeFile{
			content:   content,
			hash:      hashOf(content),
			signature: base64.StdEncoding.EncodeToString([]byte("sig:" + string(content))),
			modified:  serverTime,
		}
		fs.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"path": path})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "no file"})
}

func (fs *fakeServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	readJSON(r, &req)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, req.Path)
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (fs *fakeServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	readJSON(r, &req)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[req.Path]
	if !ok || fs.failDownload[req.Path] {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(f.content)
}

func (fs *fakeServer) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
	}
	readJSON(r, &req)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.failBulk {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "bulk unavailable"})
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range req.Paths {
		f, ok := fs.files[p]
		if !ok || fs.dropFromBundle[p] {
			continue
		}
		entry, _ := zw.Create(p)
		_, _ = entry.Write(f.content)
	}
	_ = zw.Close()

	w.Header().Set("Content-Type", "application/zip")
	_, _ = w.Write(buf.Bytes())
}

// with mutates the server's knobs under its lock.
func (fs *fakeServer) with(fn func(*fakeServer)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fn(fs)
}
