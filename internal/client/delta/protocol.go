package delta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/syftsync/internal/datasite"
	"github.com/openmined/syftsync/internal/syftsdk"
)

const DefaultMaxAttempts = 3

var (
	// ErrRejected is returned once the hash guard refused every attempt
	ErrRejected = errors.New("delta: rejected by hash guard")
	// errDirty marks an attempt abandoned because of a local write
	errDirty = errors.New("delta: local write during transfer")
)

// Remote is the server side of the protocol. *syftsdk.SyncAPI implements it.
type Remote interface {
	GetMetadata(ctx context.Context, path string) (*datasite.FileMetadata, error)
	GetDiff(ctx context.Context, path string, signature []byte) (*syftsdk.Delta, error)
	ApplyDiff(ctx context.Context, path string, diff []byte, expectedHash string) (*syftsdk.ApplyResult, error)
}

// Transfer is one file to move through the protocol.
type Transfer struct {
	Path string
	// ExpectedHash is the server hash the client believes is current
	ExpectedHash string
	// LocalSize is used to tell whether a full upload would have been smaller
	LocalSize int64
}

// Outcome describes how a transfer ended.
type Outcome struct {
	Path        string
	State       State
	Attempts    int
	Restarts    int
	Transitions []State
	ServerHash  string
	PreferFull  bool
	Result      *syftsdk.ApplyResult
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Transitions = append(o.Transitions, s)
}

// Protocol runs the per-file state machine:
// Unknown -> SignatureComputed -> DeltaFetched -> DeltaApplied | Rejected.
// Steps of one path run strictly in order; the caller runs paths in parallel.
type Protocol struct {
	remote      Remote
	signer      Signer
	dirty       *DirtyTracker
	maxAttempts int
}

type Option func(*Protocol)

func WithMaxAttempts(n int) Option {
	return func(p *Protocol) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithDirtyTracker(d *DirtyTracker) Option {
	return func(p *Protocol) {
		p.dirty = d
	}
}

func New(remote Remote, signer Signer, opts ...Option) *Protocol {
	p := &Protocol{
		remote:      remote,
		signer:      signer,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run moves t through the protocol. A hash guard rejection re-resolves the
// server hash and fetches a fresh delta, a local write after signing starts
// over from Unknown; both count as attempts. Errors other than a rejection
// end the transfer immediately and are returned as is, so callers can tell
// ErrNotFound apart.
func (p *Protocol) Run(ctx context.Context, t Transfer) (*Outcome, error) {
	out := &Outcome{Path: t.Path}
	out.enter(Unknown)

	expected := t.ExpectedHash
	var (
		signature []byte
		gen       uint64
		lastErr   error
	)

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Attempts = attempt

		if signature == nil {
			gen = p.dirty.Generation(t.Path)
			sig, err := p.signer.Sign(ctx, t.Path)
			if err != nil {
				return out, fmt.Errorf("sign %s: %w", t.Path, err)
			}
			signature = sig
			if signature == nil {
				signature = []byte{}
			}
		}
		out.enter(SignatureComputed)

		delta, err := p.remote.GetDiff(ctx, t.Path, signature)
		if err != nil {
			return out, err
		}
		out.enter(DeltaFetched)
		out.ServerHash = delta.ServerHash
		out.PreferFull = t.LocalSize > 0 && int64(len(delta.Diff)) >= t.LocalSize

		if p.dirty.Changed(t.Path, gen) {
			slog.Debug("delta restart", "path", t.Path, "attempt", attempt, "reason", "local write")
			lastErr = errDirty
			out.Restarts++
			out.enter(Unknown)
			signature = nil
			continue
		}

		result, err := p.remote.ApplyDiff(ctx, t.Path, delta.Diff, expected)
		if err == nil {
			out.Result = result
			out.enter(DeltaApplied)
			return out, nil
		}
		if !errors.Is(err, syftsdk.ErrHashMismatch) {
			return out, err
		}

		out.enter(Rejected)
		lastErr = err
		slog.Debug("delta rejected", "path", t.Path, "attempt", attempt, "expected", expected)
		if attempt == p.maxAttempts {
			break
		}

		meta, err := p.remote.GetMetadata(ctx, t.Path)
		if err != nil {
			return out, err
		}
		expected = meta.Hash
	}

	if out.State != Rejected {
		out.enter(Rejected)
	}
	return out, fmt.Errorf("%w: %s after %d attempts: %w", ErrRejected, t.Path, out.Attempts, lastErr)
}
