package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/client/delta"
	"github.com/openmined/syftsync/internal/client/storage"
	"github.com/openmined/syftsync/internal/client/workspace"
	"github.com/openmined/syftsync/internal/datasite"
	"github.com/openmined/syftsync/internal/syftsdk"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval      = 10 * time.Second
	DefaultWorkers       = 8
	DefaultBulkThreshold = 8

	statusCleanupAge = 10 * time.Minute
)

var ErrNotOwner = errors.New("path is not in the own datasite")

// Remote is the part of the server api a sync cycle uses.
// *syftsdk.SyncAPI implements it.
type Remote interface {
	delta.Remote
	DatasiteStates(ctx context.Context) (datasite.State, error)
	Create(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	Download(ctx context.Context, path string) ([]byte, error)
	DownloadBulk(ctx context.Context, paths []string) (syftsdk.Bundle, error)
}

// Authenticator keeps the credential of the remote valid between cycles.
type Authenticator interface {
	EnsureAuth(ctx context.Context) error
	Reauthenticate(ctx context.Context) error
}

type SyncEngineConfig struct {
	// Owner is the datasite of this node. Local is authoritative for it.
	Owner         string
	Workers       int
	BulkThreshold int
	MaxAttempts   int
	Interval      time.Duration
	Retry         RetryPolicy
	Clock         clockwork.Clock
}

func (c *SyncEngineConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.BulkThreshold <= 0 {
		c.BulkThreshold = DefaultBulkThreshold
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = delta.DefaultMaxAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = DefaultRetryPolicy
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// SyncEngine runs sync cycles between the storage and the server. Cycles are
// serialized; within a cycle files move in parallel.
type SyncEngine struct {
	config       SyncEngineConfig
	remote       Remote
	storage      storage.Storage
	workspace    *workspace.Workspace
	auth         Authenticator
	ignoreList   *SyncIgnoreList
	priorityList *SyncPriorityList
	watcher      *FileWatcher
	syncStatus   *SyncStatus
	dirty        *delta.DirtyTracker
	protocol     *delta.Protocol

	muSync     sync.Mutex
	published  bool // a push of the own datasite committed without failures, guarded by muSync
	lastReport *SyncReport
	reportMu   sync.RWMutex
	wg         sync.WaitGroup
}

type EngineOption func(*SyncEngine)

func WithAuthenticator(auth Authenticator) EngineOption {
	return func(se *SyncEngine) {
		se.auth = auth
	}
}

func WithIgnoreList(ignore *SyncIgnoreList) EngineOption {
	return func(se *SyncEngine) {
		se.ignoreList = ignore
	}
}

func WithPriorityList(priority *SyncPriorityList) EngineOption {
	return func(se *SyncEngine) {
		se.priorityList = priority
	}
}

// WithFileWatcher feeds local writes reported by watcher into the dirty
// tracker while the engine runs.
func WithFileWatcher(watcher *FileWatcher) EngineOption {
	return func(se *SyncEngine) {
		se.watcher = watcher
	}
}

func NewSyncEngine(
	config SyncEngineConfig,
	remote Remote,
	store storage.Storage,
	ws *workspace.Workspace,
	opts ...EngineOption,
) (*SyncEngine, error) {
	if config.Owner == "" {
		return nil, fmt.Errorf("sync engine: %w", storage.ErrEmptyOwner)
	}
	config.setDefaults()

	se := &SyncEngine{
		config:       config,
		remote:       remote,
		storage:      store,
		workspace:    ws,
		ignoreList:   NewSyncIgnoreList(ws.DatasitesDir),
		priorityList: NewSyncPriorityList(),
		syncStatus:   NewSyncStatus(config.Clock),
		dirty:        delta.NewDirtyTracker(),
	}
	for _, opt := range opts {
		opt(se)
	}

	se.protocol = delta.New(
		remote,
		&delta.RecordSigner{Storage: store, Owner: config.Owner},
		delta.WithMaxAttempts(config.MaxAttempts),
		delta.WithDirtyTracker(se.dirty),
	)
	return se, nil
}

// Start runs an initial cycle and then one cycle per interval until ctx is
// done. It returns once the loop is running.
func (se *SyncEngine) Start(ctx context.Context) error {
	slog.Info("sync start", "owner", se.config.Owner, "interval", se.config.Interval)
	se.ignoreList.Load()

	if se.watcher != nil {
		se.watcher.FilterPaths(func(path string) bool {
			_, p, err := se.workspace.DatasitePath(path)
			return err != nil || se.ignoreList.ShouldIgnore(p)
		})
		if err := se.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start file watcher: %w", err)
		}

		se.wg.Add(1)
		go func() {
			defer se.wg.Done()
			se.handleWatcherEvents(ctx)
		}()
	}

	se.wg.Add(1)
	go func() {
		defer se.wg.Done()

		se.runPeriodic(ctx)

		// a timer and not a ticker, a slow cycle must not queue ticks
		timer := se.config.Clock.NewTimer(se.config.Interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.Chan():
				se.runPeriodic(ctx)
				se.syncStatus.Cleanup(statusCleanupAge)
				timer.Reset(se.config.Interval)
			}
		}
	}()

	return nil
}

func (se *SyncEngine) runPeriodic(ctx context.Context) {
	if err := se.RunSync(ctx, true, true); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sync cycle", "error", err)
	}
}

// Stop waits for the loop started by Start. The caller cancels its context.
func (se *SyncEngine) Stop() {
	if se.watcher != nil {
		se.watcher.Stop()
	}
	se.wg.Wait()
	se.syncStatus.Close()
	slog.Info("sync stopped")
}

// RunSync runs one cycle and only reports whether it fully succeeded.
func (se *SyncEngine) RunSync(ctx context.Context, pull, push bool) error {
	_, err := se.Sync(ctx, pull, push)
	return err
}

// Sync runs one cycle. pull applies remote changes of other datasites
// locally, push sends changes of the own datasite to the server. The error
// joins every per-file failure; the report is returned even then. A cycle
// failing on an expired credential is retried once after reauthenticating.
func (se *SyncEngine) Sync(ctx context.Context, pull, push bool) (*SyncReport, error) {
	se.muSync.Lock()
	defer se.muSync.Unlock()

	if se.auth != nil {
		if err := se.auth.EnsureAuth(ctx); err != nil {
			return nil, fmt.Errorf("ensure auth: %w", err)
		}
	}

	report, err := se.runCycle(ctx, pull, push)
	if err != nil && se.auth != nil && errors.Is(err, syftsdk.ErrUnauthorized) {
		slog.Warn("sync unauthorized, reauthenticating", "cycle", report.ID)
		if authErr := se.auth.Reauthenticate(ctx); authErr != nil {
			return report, errors.Join(err, fmt.Errorf("reauthenticate: %w", authErr))
		}
		report, err = se.runCycle(ctx, pull, push)
	}

	se.reportMu.Lock()
	se.lastReport = report
	se.reportMu.Unlock()

	return report, err
}

func (se *SyncEngine) runCycle(ctx context.Context, pull, push bool) (*SyncReport, error) {
	tStart := se.config.Clock.Now()
	report := newSyncReport(uuid.NewString(), pull, push, tStart)
	log := slog.With("cycle", report.ID)

	remoteState, err := se.fetchRemoteState(ctx)
	if err != nil {
		return report, fmt.Errorf("get remote state: %w", err)
	}
	tRemoteState := se.config.Clock.Since(tStart)

	localState, err := se.storage.ReadState(ctx)
	if err != nil {
		return report, fmt.Errorf("read local state: %w", err)
	}

	remoteState, ignoredRemote := se.ignoreList.Filter(remoteState)
	localState, ignoredLocal := se.ignoreList.Filter(localState)
	report.Ignored = ignoredRemote + ignoredLocal

	rec := datasite.Reconcile(localState, remoteState)
	ops := se.planOperations(rec, localState, remoteState, pull, push)
	if len(ops.all()) > 0 {
		log.Debug("sync plan",
			"pull", len(ops.pulls),
			"push", len(ops.pushes),
			"deleteLocal", len(ops.localDeletes),
			"deleteRemote", len(ops.remoteDeletes),
		)
	}

	if err := se.adoptRemote(ctx, ops.adopted); err != nil {
		return report, err
	}

	se.executeOperations(ctx, ops, report)
	if push && ctx.Err() == nil && report.failedFor(se.config.Owner) == 0 {
		se.published = true
	}
	report.Duration = se.config.Clock.Since(tStart)

	if report.Changes() > 0 || report.Failed > 0 {
		log.Info("sync",
			"pulled", report.Pulled,
			"pushed", report.Pushed,
			"created", report.Created,
			"deletedLocal", report.DeletedLocal,
			"deletedRemote", report.DeletedRemote,
			"failed", report.Failed,
			"ignored", report.Ignored,
			"bytesIn", humanize.Bytes(uint64(ops.pullBytes())),
			"tsRemoteState", tRemoteState,
			"tsTotal", report.Duration,
		)
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, report.Err()
}

// operations is the plan of one cycle after the direction policy.
type operations struct {
	pulls         []*SyncOperation
	pushes        []*SyncOperation
	localDeletes  []*SyncOperation
	remoteDeletes []*SyncOperation
	adopted       []*FileMetadata
}

func (o *operations) all() []*SyncOperation {
	all := make([]*SyncOperation, 0, len(o.pulls)+len(o.pushes)+len(o.localDeletes)+len(o.remoteDeletes))
	all = append(all, o.pulls...)
	all = append(all, o.pushes...)
	all = append(all, o.localDeletes...)
	return append(all, o.remoteDeletes...)
}

func (o *operations) pullBytes() int64 {
	var total int64
	for _, op := range o.pulls {
		total += op.Remote.Size
	}
	return total
}

// planOperations applies the direction policy to a reconciliation. Pull
// covers every datasite except the own one, whose local copy is the latest.
// Push covers only the own datasite, the only one this node may write.
func (se *SyncEngine) planOperations(rec *datasite.Reconciliation, local, remote datasite.State, pull, push bool) *operations {
	owner := se.config.Owner
	ops := &operations{}

	if pull {
		for _, o := range rec.Pull.Without(owner).Owners() {
			for _, r := range rec.Pull[o].Records() {
				localRec, _ := local.Snapshot(o).Get(r.Path)
				ops.pulls = append(ops.pulls, &SyncOperation{Type: OpPull, Owner: o, Remote: r, Local: localRec})
			}
		}
		for _, o := range rec.DeleteLocal.Without(owner).Owners() {
			for _, r := range rec.DeleteLocal[o].Records() {
				ops.localDeletes = append(ops.localDeletes, &SyncOperation{Type: OpDeleteLocal, Owner: o, Local: r})
			}
		}
	}

	if push {
		for _, r := range rec.Push.Snapshot(owner).Records() {
			remoteRec, _ := remote.Snapshot(owner).Get(r.Path)
			ops.pushes = append(ops.pushes, &SyncOperation{Type: OpPush, Owner: owner, Local: r, Remote: remoteRec})
		}

		// a fresh local state misses files it never saw. Until the first
		// clean push only paths this process wrote or forgot are deleted,
		// the others are adopted as they are on the server.
		for _, r := range rec.DeleteRemote.Snapshot(owner).Records() {
			if !se.published && se.dirty.Generation(r.Path) == 0 {
				ops.adopted = append(ops.adopted, r)
				continue
			}
			ops.remoteDeletes = append(ops.remoteDeletes, &SyncOperation{Type: OpDeleteRemote, Owner: owner, Remote: r})
		}
	}

	for _, op := range ops.all() {
		se.syncStatus.SetPending(op.Path(), op.Type)
	}
	return ops
}

// adoptRemote stores server records of the own datasite as local state. A
// path written locally since it was planned keeps the local record.
func (se *SyncEngine) adoptRemote(ctx context.Context, records []*FileMetadata) error {
	adopted := make([]*FileMetadata, 0, len(records))
	for _, r := range records {
		if se.dirty.Generation(r.Path) == 0 {
			adopted = append(adopted, r)
		}
	}
	if len(adopted) == 0 {
		return nil
	}
	if err := se.storage.UnionMerge(ctx, se.config.Owner, adopted); err != nil {
		return fmt.Errorf("adopt remote records: %w", err)
	}
	slog.Warn("sync skip remote deletes", "reason", "no push committed yet", "adopted", len(adopted))
	return nil
}

// executeOperations runs every operation on a bounded pool. A failing file
// is recorded and never cancels the others.
func (se *SyncEngine) executeOperations(ctx context.Context, ops *operations, report *SyncReport) {
	var g errgroup.Group
	g.SetLimit(se.config.Workers)

	se.schedulePulls(ctx, &g, ops.pulls, report)
	for _, op := range ops.pushes {
		g.Go(func() error {
			se.handlePush(ctx, op, report)
			return nil
		})
	}
	for _, op := range ops.localDeletes {
		g.Go(func() error {
			se.handleLocalDelete(ctx, op, report)
			return nil
		})
	}
	for _, op := range ops.remoteDeletes {
		g.Go(func() error {
			se.handleRemoteDelete(ctx, op, report)
			return nil
		})
	}

	_ = g.Wait()
}

func (se *SyncEngine) recordError(op *SyncOperation, report *SyncReport, err error) {
	path := op.Path()
	if errors.Is(err, delta.ErrRejected) {
		se.syncStatus.SetRejected(path, err)
	} else {
		se.syncStatus.SetError(path, err)
	}
	report.fail(op, err)
	slog.Error("sync", "op", op.Type, "status", "Error", "path", path, "error", err)
}

// MarkDirty records a local write to a datasite path. Transfers of that path
// that already signed start over.
func (se *SyncEngine) MarkDirty(path string) {
	se.dirty.MarkDirty(path)
}

// RecordLocal stores records describing new local content of the own
// datasite. They are pushed by the next cycle.
func (se *SyncEngine) RecordLocal(ctx context.Context, records ...*FileMetadata) error {
	for _, r := range records {
		if r == nil || !datasite.IsOwner(r.Path, se.config.Owner) {
			return fmt.Errorf("%w: %v", ErrNotOwner, r)
		}
	}
	if err := se.storage.UnionMerge(ctx, se.config.Owner, records); err != nil {
		return err
	}
	for _, r := range records {
		se.dirty.MarkDirty(r.Path)
	}
	return nil
}

// ForgetLocal removes own datasite paths from the local state. The next
// cycle deletes them on the server.
func (se *SyncEngine) ForgetLocal(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if !datasite.IsOwner(p, se.config.Owner) {
			return fmt.Errorf("%w: %s", ErrNotOwner, p)
		}
	}
	if err := se.storage.RemoveByPath(ctx, se.config.Owner, paths); err != nil {
		return err
	}
	for _, p := range paths {
		se.dirty.MarkDirty(p)
	}
	return nil
}

func (se *SyncEngine) Status() *SyncStatus {
	return se.syncStatus
}

// LastReport is the report of the most recent cycle, nil before the first.
func (se *SyncEngine) LastReport() *SyncReport {
	se.reportMu.RLock()
	defer se.reportMu.RUnlock()
	return se.lastReport
}

func (se *SyncEngine) Owner() string {
	return se.config.Owner
}

func (se *SyncEngine) handleWatcherEvents(ctx context.Context) {
	events := se.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-events:
			if !ok {
				return
			}
			if _, p, err := se.workspace.DatasitePath(path); err == nil {
				se.MarkDirty(p)
			}
		}
	}
}
