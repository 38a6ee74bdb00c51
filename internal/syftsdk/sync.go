package syftsdk

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/syftsync/internal/datasite"
)

const (
	v1DatasiteStates = "/sync/datasite_states"
	v1DirState       = "/sync/dir_state"
	v1GetMetadata    = "/sync/get_metadata"
	v1GetDiff        = "/sync/get_diff"
	v1ApplyDiff      = "/sync/apply_diff"
	v1Create         = "/sync/create"
	v1Delete         = "/sync/delete"
	v1Download       = "/sync/download"
	v1DownloadBulk   = "/sync/download_bulk"
)

// SyncAPI is the request/response surface of the sync server. Every call is
// independent and none of them retries.
type SyncAPI struct {
	client      *req.Client
	bulkTimeout time.Duration
}

func newSyncAPI(client *req.Client, bulkTimeout time.Duration) *SyncAPI {
	return &SyncAPI{client: client, bulkTimeout: bulkTimeout}
}

// DatasiteStates returns every datasite snapshot the server knows about.
func (s *SyncAPI) DatasiteStates(ctx context.Context) (datasite.State, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		Post(v1DatasiteStates)
	if err := handleAPIError(resp, err, "datasite states"); err != nil {
		return nil, err
	}

	var raw map[string][]*wireMetadata
	if err := decodeJSON(resp, "datasite states", &raw); err != nil {
		return nil, err
	}

	state := make(datasite.State, len(raw))
	for owner, items := range raw {
		snap, err := toSnapshot(items)
		if err != nil {
			return nil, malformed("datasite states", resp.StatusCode, fmt.Errorf("%s: %w", owner, err))
		}
		state[owner] = snap
	}
	return state, nil
}

// DirState returns the server's filtered view of one directory, usually a
// datasite or a subtree of one.
func (s *SyncAPI) DirState(ctx context.Context, dir string) (datasite.Snapshot, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&DirStateRequest{Dir: dir}).
		Post(v1DirState)
	if err := handleAPIError(resp, err, "dir state"); err != nil {
		return nil, err
	}

	var items []*wireMetadata
	if err := decodeJSON(resp, "dir state", &items); err != nil {
		return nil, err
	}

	snap, err := toSnapshot(items)
	if err != nil {
		return nil, malformed("dir state", resp.StatusCode, err)
	}
	return snap, nil
}

// GetMetadata looks up one path. Absent paths fail with ErrNotFound.
func (s *SyncAPI) GetMetadata(ctx context.Context, path string) (*datasite.FileMetadata, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&MetadataRequest{PathLike: path}).
		Post(v1GetMetadata)
	if err := handleAPIError(resp, err, "get metadata"); err != nil {
		return nil, err
	}

	var item wireMetadata
	if err := decodeJSON(resp, "get metadata", &item); err != nil {
		return nil, err
	}

	meta, err := item.toMetadata()
	if err != nil {
		return nil, malformed("get metadata", resp.StatusCode, err)
	}
	return meta, nil
}

// GetDiff asks the server for the delta between its stored content and the
// content described by signature.
func (s *SyncAPI) GetDiff(ctx context.Context, path string, signature []byte) (*Delta, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&DiffRequest{
			Path:      path,
			Signature: base64.StdEncoding.EncodeToString(signature),
		}).
		Post(v1GetDiff)
	if err := handleAPIError(resp, err, "get diff"); err != nil {
		return nil, err
	}

	var diffResp DiffResponse
	if err := decodeJSON(resp, "get diff", &diffResp); err != nil {
		return nil, err
	}

	delta, err := diffResp.toDelta()
	if err != nil {
		return nil, malformed("get diff", resp.StatusCode, err)
	}
	if delta.Path == "" {
		delta.Path = path
	}
	return delta, nil
}

// ApplyDiff asks the server to apply diff to path. The server only accepts it
// when its current hash equals expectedHash, otherwise the call fails with
// ErrHashMismatch and nothing is applied.
func (s *SyncAPI) ApplyDiff(ctx context.Context, path string, diff []byte, expectedHash string) (*ApplyResult, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&ApplyDiffRequest{
			Path:         path,
			Diff:         base64.StdEncoding.EncodeToString(diff),
			ExpectedHash: expectedHash,
		}).
		Post(v1ApplyDiff)
	if err := handleAPIError(resp, err, "apply diff"); err != nil {
		return nil, err
	}

	var result ApplyResult
	if err := decodeJSON(resp, "apply diff", &result); err != nil {
		return nil, err
	}
	if result.CurrentHash == "" {
		return nil, malformed("apply diff", resp.StatusCode, fmt.Errorf("missing current_hash for %s", path))
	}
	if result.Path == "" {
		result.Path = path
	}
	return &result, nil
}

// Create uploads a file that has no record on the server yet.
func (s *SyncAPI) Create(ctx context.Context, path string, data []byte) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetFileBytes("file", path, data).
		Post(v1Create)
	return handleAPIError(resp, err, "create")
}

// Delete removes a file on the server.
func (s *SyncAPI) Delete(ctx context.Context, path string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&PathRequest{Path: path}).
		Post(v1Delete)
	return handleAPIError(resp, err, "delete")
}

// Download fetches the full content of one file. Any refusal other than an
// authorization failure is reported as ErrNotFound.
func (s *SyncAPI) Download(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&PathRequest{Path: path}).
		Post(v1Download)
	if err := handleAPIError(resp, err, "download"); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.isUnauthorized() {
			apiErr.Code = CodeNotFound
		}
		return nil, err
	}
	return resp.Bytes(), nil
}

// DownloadBulk fetches many files in one zip bundle. It is bounded by the
// configured BulkTimeout in addition to the caller's deadline. A timeout is a
// TransportError.
func (s *SyncAPI) DownloadBulk(ctx context.Context, paths []string) (Bundle, error) {
	if len(paths) == 0 {
		return Bundle{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.bulkTimeout)
	defer cancel()

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&BulkDownloadRequest{Paths: paths}).
		Post(v1DownloadBulk)
	if err := handleAPIError(resp, err, "download bulk"); err != nil {
		return nil, err
	}

	bundle, err := UnpackBundle(resp.Bytes())
	if err != nil {
		return nil, malformed("download bulk", resp.StatusCode, err)
	}
	return bundle, nil
}

func toSnapshot(items []*wireMetadata) (datasite.Snapshot, error) {
	snap := make(datasite.Snapshot, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		meta, err := item.toMetadata()
		if err != nil {
			return nil, err
		}
		snap.Put(meta)
	}
	return snap, nil
}
