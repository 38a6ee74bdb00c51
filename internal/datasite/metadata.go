package datasite

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidMetadata = errors.New("invalid file metadata")

// FileMetadata describes one file of a datasite. Records are values: a
// content or metadata change produces a new record, the old one is never
// mutated in place.
type FileMetadata struct {
	Path         string    `json:"path"`
	Hash         string    `json:"hash"`
	Signature    string    `json:"signature"`
	Size         int64     `json:"file_size"`
	LastModified time.Time `json:"last_modified"`
}

// recordKey is the comparable form of a record used for set operations.
// Time is reduced to an instant so records from different decoders compare
// equal when they describe the same moment.
type recordKey struct {
	path      string
	hash      string
	signature string
	size      int64
	modSec    int64
	modNsec   int
}

func (m *FileMetadata) key() recordKey {
	return recordKey{
		path:      m.Path,
		hash:      m.Hash,
		signature: m.Signature,
		size:      m.Size,
		modSec:    m.LastModified.Unix(),
		modNsec:   m.LastModified.Nanosecond(),
	}
}

// Equal reports whether both records match on every field.
func (m *FileMetadata) Equal(other *FileMetadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.key() == other.key()
}

func (m *FileMetadata) Clone() *FileMetadata {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// WithHash returns a copy of the record carrying a new content hash.
func (m *FileMetadata) WithHash(hash string) *FileMetadata {
	c := m.Clone()
	c.Hash = hash
	return c
}

// SignatureBytes decodes the base64 signature carried by the record.
func (m *FileMetadata) SignatureBytes() ([]byte, error) {
	if m.Signature == "" {
		return nil, nil
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature %q: %w", m.Path, err)
	}
	return sig, nil
}

func (m *FileMetadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidMetadata)
	}
	if m.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidMetadata)
	}
	if m.Size < 0 {
		return fmt.Errorf("%w: negative size %d for %q", ErrInvalidMetadata, m.Size, m.Path)
	}
	return nil
}

func (m *FileMetadata) String() string {
	return fmt.Sprintf("%s@%s(%d)", m.Path, m.Hash, m.Size)
}
