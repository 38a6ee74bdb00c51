package sync

import (
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const syncEventBufferSize = 16

// SyncState represents the state of a sync operation
type SyncState string

const (
	SyncStatePending   SyncState = "pending"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateError     SyncState = "error"
	SyncStateRejected  SyncState = "rejected"
)

// PathStatus is the last known sync status of one datasite path
type PathStatus struct {
	Op          OpType    `json:"op"`
	State       SyncState `json:"state"`
	Error       string    `json:"error,omitempty"`
	ErrorCount  int       `json:"errorCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// SyncStatusEvent represents a status change event for broadcasting
type SyncStatusEvent struct {
	Path   string
	Status PathStatus
}

// SyncStatusSummary counts paths per state
type SyncStatusSummary struct {
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Error    int `json:"error"`
	Rejected int `json:"rejected"`
}

// SyncStatus tracks the paths of the current and past cycles that are not
// clean. Completed paths are dropped from tracking.
type SyncStatus struct {
	files map[string]*PathStatus
	mu    sync.RWMutex
	clock clockwork.Clock

	eventSubs []chan *SyncStatusEvent
	eventMu   sync.RWMutex
}

func NewSyncStatus(clock clockwork.Clock) *SyncStatus {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SyncStatus{
		files: make(map[string]*PathStatus),
		clock: clock,
	}
}

// Subscribe returns a channel for receiving sync status events
func (s *SyncStatus) Subscribe() <-chan *SyncStatusEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *SyncStatusEvent, syncEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

// Unsubscribe removes a subscription channel
func (s *SyncStatus) Unsubscribe(ch <-chan *SyncStatusEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

func (s *SyncStatus) broadcastEvent(path string, status *PathStatus) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	event := &SyncStatusEvent{Path: path, Status: *status}
	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// slow subscriber, drop
		}
	}
}

func (s *SyncStatus) getOrCreateStatus(path string) *PathStatus {
	if status, exists := s.files[path]; exists {
		return status
	}

	status := &PathStatus{State: SyncStatePending}
	s.files[path] = status
	return status
}

func (s *SyncStatus) update(path string, fn func(*PathStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.getOrCreateStatus(path)
	fn(status)
	status.LastUpdated = s.clock.Now()

	s.broadcastEvent(path, status)
	if status.State == SyncStateCompleted {
		delete(s.files, path)
	}
}

func (s *SyncStatus) SetPending(path string, op OpType) {
	s.update(path, func(st *PathStatus) {
		st.Op = op
		st.State = SyncStatePending
	})
}

func (s *SyncStatus) SetSyncing(path string, op OpType) {
	s.update(path, func(st *PathStatus) {
		st.Op = op
		st.State = SyncStateSyncing
	})
}

// SetCompleted marks the path clean and stops tracking it
func (s *SyncStatus) SetCompleted(path string) {
	s.update(path, func(st *PathStatus) {
		st.State = SyncStateCompleted
		st.Error = ""
	})
}

func (s *SyncStatus) SetError(path string, err error) {
	s.update(path, func(st *PathStatus) {
		st.State = SyncStateError
		st.Error = err.Error()
		st.ErrorCount++
	})
}

// SetRejected marks a push the hash guard kept refusing
func (s *SyncStatus) SetRejected(path string, err error) {
	s.update(path, func(st *PathStatus) {
		st.State = SyncStateRejected
		st.Error = err.Error()
		st.ErrorCount++
	})
}

// GetStatus returns a copy of the status of one path
func (s *SyncStatus) GetStatus(path string) (PathStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, exists := s.files[path]
	if !exists {
		return PathStatus{}, false
	}
	return *status, true
}

func (s *SyncStatus) IsSyncing(path string) bool {
	st, ok := s.GetStatus(path)
	return ok && st.State == SyncStateSyncing
}

// GetAllStatus returns a copy of all tracked statuses
func (s *SyncStatus) GetAllStatus() map[string]PathStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]PathStatus, len(s.files))
	for path, status := range s.files {
		result[path] = *status
	}
	return result
}

func (s *SyncStatus) Summary() SyncStatusSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum SyncStatusSummary
	for _, status := range s.files {
		switch status.State {
		case SyncStatePending:
			sum.Pending++
		case SyncStateSyncing:
			sum.Syncing++
		case SyncStateError:
			sum.Error++
		case SyncStateRejected:
			sum.Rejected++
		}
	}
	return sum
}

// Cleanup drops error entries not updated within maxAge
func (s *SyncStatus) Cleanup(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-maxAge)
	maps.DeleteFunc(s.files, func(_ string, status *PathStatus) bool {
		return status.State != SyncStateSyncing && status.LastUpdated.Before(cutoff)
	})
}

func (s *SyncStatus) Close() {
	s.mu.Lock()
	s.files = make(map[string]*PathStatus)
	s.mu.Unlock()

	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	for _, sub := range s.eventSubs {
		close(sub)
	}
	s.eventSubs = nil
}
