package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftsync/internal/queue"
	"github.com/openmined/syftsync/internal/syftsdk"
	"golang.org/x/sync/errgroup"
)

const (
	downloadBatchSize = 100
)

// schedulePulls queues pulls smallest first, prioritized paths ahead of all.
// Large pull sets go through bulk downloads, one task per chunk.
func (se *SyncEngine) schedulePulls(ctx context.Context, g *errgroup.Group, pulls []*SyncOperation, report *SyncReport) {
	if len(pulls) == 0 {
		return
	}

	pq := queue.NewPriorityQueue[*SyncOperation]()
	for _, op := range pulls {
		pq.Enqueue(op, se.priorityList.Priority(op.Remote))
	}

	if len(pulls) <= se.config.BulkThreshold {
		for _, op := range pq.DequeueAll() {
			g.Go(func() error {
				se.handlePull(ctx, op, report)
				return nil
			})
		}
		return
	}

	for pq.Len() > 0 {
		chunk := pq.DequeueN(downloadBatchSize)
		g.Go(func() error {
			se.handleBulkPull(ctx, chunk, report)
			return nil
		})
	}
}

// handleBulkPull downloads a chunk in one bundle. Files missing from the
// bundle, or the whole chunk if the bundle failed, fall back to single
// downloads.
func (se *SyncEngine) handleBulkPull(ctx context.Context, chunk []*SyncOperation, report *SyncReport) {
	paths := make([]string, 0, len(chunk))
	for _, op := range chunk {
		paths = append(paths, op.Path())
		se.syncStatus.SetSyncing(op.Path(), OpPull)
	}

	bundle, err := se.remote.DownloadBulk(ctx, paths)
	if err != nil {
		if errors.Is(err, syftsdk.ErrUnauthorized) || ctx.Err() != nil {
			for _, op := range chunk {
				se.recordError(op, report, err)
			}
			return
		}
		slog.Warn("sync bulk download failed, falling back", "files", len(chunk), "error", err)
		bundle = syftsdk.Bundle{}
	}

	for _, op := range chunk {
		data, ok := bundle.Get(op.Path())
		if !ok {
			se.handlePull(ctx, op, report)
			continue
		}
		if err := se.commitPull(ctx, op, data); err != nil {
			se.recordError(op, report, err)
			continue
		}
		report.succeed(op, OpPull, op.Remote.Size, 1)
	}
}

func (se *SyncEngine) handlePull(ctx context.Context, op *SyncOperation, report *SyncReport) {
	se.syncStatus.SetSyncing(op.Path(), OpPull)

	data, err := se.remote.Download(ctx, op.Path())
	if err != nil {
		se.recordError(op, report, err)
		return
	}
	if err := se.commitPull(ctx, op, data); err != nil {
		se.recordError(op, report, err)
		return
	}
	report.succeed(op, OpPull, op.Remote.Size, 1)
}

// commitPull writes the content first and records it second, so the state
// never claims a file the workspace does not hold.
func (se *SyncEngine) commitPull(ctx context.Context, op *SyncOperation, data []byte) error {
	path := op.Path()
	if se.watcher != nil {
		if local, err := se.workspace.LocalPath(op.Owner, path); err == nil {
			se.watcher.IgnoreOnce(local)
		}
	}

	if err := se.workspace.WriteFile(op.Owner, path, data); err != nil {
		return err
	}
	if err := se.storage.UnionMerge(ctx, op.Owner, []*FileMetadata{op.Remote}); err != nil {
		return err
	}

	se.syncStatus.SetCompleted(path)
	slog.Info("sync", "op", OpPull, "status", "Completed", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

func (se *SyncEngine) handleLocalDelete(ctx context.Context, op *SyncOperation, report *SyncReport) {
	path := op.Path()
	se.syncStatus.SetSyncing(path, OpDeleteLocal)

	if err := se.workspace.Remove(op.Owner, path); err != nil {
		se.recordError(op, report, err)
		return
	}
	if err := se.storage.RemoveByPath(ctx, op.Owner, []string{path}); err != nil {
		se.recordError(op, report, err)
		return
	}
	se.dirty.Forget(path)

	se.syncStatus.SetCompleted(path)
	report.succeed(op, OpDeleteLocal, op.Local.Size, 1)
	slog.Info("sync", "op", OpDeleteLocal, "status", "Completed", "path", path)
}
