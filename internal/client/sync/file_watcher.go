package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultIgnoreTimeout   = time.Second
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// FilterCallback is a function that returns true if the event should be filtered
type FilterCallback func(path string) bool

// FileWatcher reports local writes under a directory. Bursts of writes to
// one path are folded into a single event.
type FileWatcher struct {
	watchDir  string
	events    chan string
	rawEvents chan notify.EventInfo
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	ignore        map[string]time.Time
	ignoreMu      sync.Mutex
	ignoreTimeout time.Duration

	pending         map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration

	ignoreCallback FilterCallback
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		ignoreTimeout:   DefaultIgnoreTimeout,
		done:            make(chan struct{}),
		pending:         make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

func (fw *FileWatcher) SetDebounceTimeout(timeout time.Duration) {
	fw.debounceTimeout = timeout
}

func (fw *FileWatcher) SetIgnoreTimeout(timeout time.Duration) {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()
	fw.ignoreTimeout = timeout
}

// FilterPaths sets a callback that drops raw events before debouncing.
// Must be called before Start.
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.ignoreCallback = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan string, eventBufferSize)

	if err := notify.Watch(filepath.Join(fw.watchDir, "..."), fw.rawEvents, notify.Write, notify.Create); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		close(fw.done)
		if fw.rawEvents != nil {
			notify.Stop(fw.rawEvents)
		}
		fw.wg.Wait()
		slog.Info("file watcher stopped")
	})
}

// Events delivers absolute paths of written files. Closed on Stop.
func (fw *FileWatcher) Events() <-chan string {
	return fw.events
}

// IgnoreOnce drops the next write event of path, used for writes made by
// the sync engine itself. Writes that rename into place never fire, so
// expired entries are pruned here instead of waiting for their event.
func (fw *FileWatcher) IgnoreOnce(path string) {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	now := time.Now()
	for p, expiry := range fw.ignore {
		if !now.Before(expiry) {
			delete(fw.ignore, p)
		}
	}
	fw.ignore[path] = now.Add(fw.ignoreTimeout)
}

func (fw *FileWatcher) isPathTemporarilyIgnored(path string) bool {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	expiry, exists := fw.ignore[path]
	if !exists {
		return false
	}
	delete(fw.ignore, path)
	return time.Now().Before(expiry)
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer func() {
		fw.debounceMu.Lock()
		for path, timer := range fw.pending {
			timer.Stop()
			delete(fw.pending, path)
		}
		fw.debounceMu.Unlock()

		close(fw.events)
		fw.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			if fw.ignoreCallback != nil && fw.ignoreCallback(event.Path()) {
				continue
			}
			// inotify fires a burst of writes while a file is being written
			fw.debounce(event.Path())
		}
	}
}

func (fw *FileWatcher) debounce(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, exists := fw.pending[path]; exists {
		timer.Reset(fw.debounceTimeout)
		return
	}
	fw.pending[path] = time.AfterFunc(fw.debounceTimeout, func() {
		fw.flush(path)
	})
}

func (fw *FileWatcher) flush(path string) {
	fw.debounceMu.Lock()
	if _, exists := fw.pending[path]; !exists {
		fw.debounceMu.Unlock()
		return
	}
	delete(fw.pending, path)
	// hold the lock while sending so filterEvents cannot close the channel
	defer fw.debounceMu.Unlock()

	if fw.isPathTemporarilyIgnored(path) {
		return
	}

	select {
	case fw.events <- path:
		slog.Debug("file watcher", "path", path)
	default:
		slog.Warn("file watcher dropped", "reason", "channel full", "path", path)
	}
}
