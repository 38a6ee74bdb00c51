package sync

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openmined/syftsync/internal/datasite"
)

type FileMetadata = datasite.FileMetadata

// FileResult is the outcome of one per-file operation of a cycle.
type FileResult struct {
	Op       OpType `json:"op"`
	Owner    string `json:"owner"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`

	err error
}

// SyncReport summarizes one cycle. Per-file failures are collected, they
// never stop the other files of the cycle.
type SyncReport struct {
	ID        string        `json:"id"`
	Pull      bool          `json:"pull"`
	Push      bool          `json:"push"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	Pulled        int `json:"pulled"`
	Pushed        int `json:"pushed"`
	Created       int `json:"created"`
	DeletedLocal  int `json:"deletedLocal"`
	DeletedRemote int `json:"deletedRemote"`
	Ignored       int `json:"ignored"`
	Failed        int `json:"failed"`

	Results []*FileResult `json:"results"`

	mu sync.Mutex
}

func newSyncReport(id string, pull, push bool, started time.Time) *SyncReport {
	return &SyncReport{ID: id, Pull: pull, Push: push, StartedAt: started}
}

func (r *SyncReport) add(res *FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Results = append(r.Results, res)
	if res.err != nil {
		res.Error = res.err.Error()
		r.Failed++
		return
	}
	switch res.Op {
	case OpPull:
		r.Pulled++
	case OpPush:
		r.Pushed++
	case OpCreate:
		r.Created++
	case OpDeleteLocal:
		r.DeletedLocal++
	case OpDeleteRemote:
		r.DeletedRemote++
	}
}

func (r *SyncReport) succeed(op *SyncOperation, resultOp OpType, size int64, attempts int) {
	r.add(&FileResult{Op: resultOp, Owner: op.Owner, Path: op.Path(), Size: size, Attempts: attempts})
}

func (r *SyncReport) fail(op *SyncOperation, err error) {
	r.add(&FileResult{Op: op.Type, Owner: op.Owner, Path: op.Path(), err: err})
}

// Changes is the number of files the cycle touched successfully.
func (r *SyncReport) Changes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Pulled + r.Pushed + r.Created + r.DeletedLocal + r.DeletedRemote
}

// failedFor counts the failed files of one datasite.
func (r *SyncReport) failedFor(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, res := range r.Results {
		if res.err != nil && res.Owner == owner {
			n++
		}
	}
	return n
}

// Err joins every per-file error, sorted by path so the message is stable.
func (r *SyncReport) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed := make([]*FileResult, 0, r.Failed)
	for _, res := range r.Results {
		if res.err != nil {
			failed = append(failed, res)
		}
	}
	slices.SortFunc(failed, func(a, b *FileResult) int {
		return strings.Compare(a.Path, b.Path)
	})

	errs := make([]error, 0, len(failed))
	for _, res := range failed {
		errs = append(errs, fmt.Errorf("%s %s: %w", res.Op, res.Path, res.err))
	}
	return errors.Join(errs...)
}

// Result returns the result recorded for path, if any.
func (r *SyncReport) Result(path string) (*FileResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.Results {
		if res.Path == path {
			return res, true
		}
	}
	return nil, false
}
