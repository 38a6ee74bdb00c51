package delta

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmined/syftsync/internal/datasite"
)

var ErrNoLocalRecord = errors.New("delta: no local record")

// Signer produces the signature of the local copy of a path.
type Signer interface {
	Sign(ctx context.Context, path string) ([]byte, error)
}

// SnapshotReader is the part of the storage a RecordSigner needs.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, owner string) (datasite.Snapshot, error)
}

// RecordSigner signs with the signature carried by the stored local record.
// Signatures are computed by whoever records local content; the sync client
// only forwards them.
type RecordSigner struct {
	Storage SnapshotReader
	Owner   string
}

var _ Signer = (*RecordSigner)(nil)

func (s *RecordSigner) Sign(ctx context.Context, path string) ([]byte, error) {
	snap, err := s.Storage.ReadSnapshot(ctx, s.Owner)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", s.Owner, err)
	}
	rec, ok := snap.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLocalRecord, path)
	}
	return rec.SignatureBytes()
}
