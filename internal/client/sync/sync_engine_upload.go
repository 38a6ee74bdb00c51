package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftsync/internal/client/delta"
	"github.com/openmined/syftsync/internal/syftsdk"
)

// handlePush sends one changed file of the own datasite. Files the server
// does not know are created, the others go through the delta protocol
// guarded by the hash the server reported this cycle.
func (se *SyncEngine) handlePush(ctx context.Context, op *SyncOperation, report *SyncReport) {
	path := op.Path()
	gen := se.dirty.Generation(path)
	se.syncStatus.SetSyncing(path, OpPush)

	if op.Remote == nil {
		se.handleCreate(ctx, op, gen, report)
		return
	}

	out, err := se.protocol.Run(ctx, delta.Transfer{
		Path:         path,
		ExpectedHash: op.Remote.Hash,
		LocalSize:    op.Local.Size,
	})
	if errors.Is(err, syftsdk.ErrNotFound) {
		// gone on the server since the state was fetched
		se.handleCreate(ctx, op, gen, report)
		return
	}
	if err != nil {
		se.recordError(op, report, err)
		return
	}

	if out.PreferFull {
		slog.Debug("sync delta not smaller than file", "path", path, "size", op.Local.Size)
	}

	se.commitPush(ctx, op, gen, out.Result.CurrentHash)
	se.syncStatus.SetCompleted(path)
	report.succeed(op, OpPush, op.Local.Size, out.Attempts)
	slog.Info("sync", "op", OpPush, "status", "Completed", "path", path,
		"hash", out.Result.CurrentHash, "previous", out.Result.PreviousHash, "attempts", out.Attempts)
}

func (se *SyncEngine) handleCreate(ctx context.Context, op *SyncOperation, gen uint64, report *SyncReport) {
	path := op.Path()

	data, err := se.workspace.ReadFile(op.Owner, path)
	if err != nil {
		se.recordError(op, report, fmt.Errorf("read local content: %w", err))
		return
	}
	if err := se.remote.Create(ctx, path, data); err != nil {
		se.recordError(op, report, err)
		return
	}

	se.commitPush(ctx, op, gen, "")
	se.syncStatus.SetCompleted(path)
	report.succeed(op, OpCreate, int64(len(data)), 1)
	slog.Info("sync", "op", OpCreate, "status", "Completed", "path", path, "size", humanize.Bytes(uint64(len(data))))
}

// commitPush records what the server now holds for a pushed path. The
// server's own record is preferred so the next cycle sees no difference;
// without it the local record is kept with the hash the server confirmed.
// A local write since the push started wins and is pushed next cycle.
func (se *SyncEngine) commitPush(ctx context.Context, op *SyncOperation, gen uint64, currentHash string) {
	path := op.Path()
	if se.dirty.Changed(path, gen) {
		slog.Debug("sync keep newer local record", "path", path)
		return
	}

	record := op.Local
	if currentHash != "" {
		record = record.WithHash(currentHash)
	}
	if meta, err := se.remote.GetMetadata(ctx, path); err == nil && (currentHash == "" || meta.Hash == currentHash) {
		record = meta
	} else if err != nil {
		slog.Debug("sync metadata after push", "path", path, "error", err)
	}

	if err := se.storage.UnionMerge(ctx, op.Owner, []*FileMetadata{record}); err != nil {
		// the server has the content, the next cycle sees a harmless difference
		slog.Warn("sync record push", "path", path, "error", err)
	}
}

func (se *SyncEngine) handleRemoteDelete(ctx context.Context, op *SyncOperation, report *SyncReport) {
	path := op.Path()
	se.syncStatus.SetSyncing(path, OpDeleteRemote)

	if err := se.remote.Delete(ctx, path); err != nil && !errors.Is(err, syftsdk.ErrNotFound) {
		se.recordError(op, report, err)
		return
	}
	se.dirty.Forget(path)

	se.syncStatus.SetCompleted(path)
	report.succeed(op, OpDeleteRemote, op.Remote.Size, 1)
	slog.Info("sync", "op", OpDeleteRemote, "status", "Completed", "path", path)
}
