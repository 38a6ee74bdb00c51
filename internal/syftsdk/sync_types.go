package syftsdk

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/openmined/syftsync/internal/datasite"
)

// wireMetadata is FileMetadata as the server encodes it.
type wireMetadata struct {
	Path         string `json:"path"`
	Hash         string `json:"hash"`
	Signature    string `json:"signature"`
	FileSize     int64  `json:"file_size"`
	LastModified string `json:"last_modified"`
}

// servers written in other languages do not always emit a zone offset
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (w *wireMetadata) toMetadata() (*datasite.FileMetadata, error) {
	modTime, err := parseTimestamp(w.LastModified)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.Path, err)
	}

	meta := &datasite.FileMetadata{
		Path:         w.Path,
		Hash:         w.Hash,
		Signature:    w.Signature,
		Size:         w.FileSize,
		LastModified: modTime,
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// ===================================================================================================

// DirStateRequest asks for the server side snapshot of a subtree
type DirStateRequest struct {
	Dir string `json:"dir"`
}

// MetadataRequest looks up a single path
type MetadataRequest struct {
	PathLike string `json:"path_like"`
}

type PathRequest struct {
	Path string `json:"path"`
}

type BulkDownloadRequest struct {
	Paths []string `json:"paths"`
}

// ===================================================================================================

type DiffRequest struct {
	Path      string `json:"path"`
	Signature string `json:"signature"` // base64
}

type DiffResponse struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Diff string `json:"diff"` // base64
}

// Delta is the decoded DiffResponse: the bytes transform the content implied
// by the signature into the content the server stores under ServerHash.
type Delta struct {
	Path       string
	ServerHash string
	Diff       []byte
}

func (r *DiffResponse) toDelta() (*Delta, error) {
	diff, err := base64.StdEncoding.DecodeString(r.Diff)
	if err != nil {
		return nil, fmt.Errorf("decode diff for %s: %w", r.Path, err)
	}
	return &Delta{Path: r.Path, ServerHash: r.Hash, Diff: diff}, nil
}

type ApplyDiffRequest struct {
	Path         string `json:"path"`
	Diff         string `json:"diff"` // base64
	ExpectedHash string `json:"expected_hash"`
}

// ApplyResult confirms the server applied a delta under the hash guard.
type ApplyResult struct {
	Path         string `json:"path"`
	CurrentHash  string `json:"current_hash"`
	PreviousHash string `json:"previous_hash"`
}
