package watcher

import (
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"devserve/internal/logging"
	"devserve/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultMaxWatches      = 4096
	defaultCleanupInterval = time.Minute
	maxRestartAttempts     = 3
	restartBaseDelay       = 200 * time.Millisecond
)

// Watcher is the concrete fsnotify-backed directory tree watcher.
type Watcher struct {
	watcher         *fsnotify.Watcher
	mutex           sync.Mutex
	root            string
	handler         func(Event)
	dirs            map[string]struct{}
	skipDir         func(rel string) bool
	events          chan fsnotify.Event
	errors          chan error
	done            chan struct{}
	closed          bool
	logger          *logging.Logger
	metrics         *metrics.Registry
	maxWatches      int
	cleanupInterval time.Duration
	errorHandler    func(error)

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int

	eventsDelivered uint64
	errorCount      uint64
}

// NewWithOptions creates a Watcher with custom options.
func NewWithOptions(options Options) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	cleanupInterval := options.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	skipDir := options.SkipDir
	if skipDir == nil {
		skipDir = func(string) bool { return false }
	}

	instance := &Watcher{
		watcher:         watcher,
		dirs:            make(map[string]struct{}),
		skipDir:         skipDir,
		events:          make(chan fsnotify.Event, 64),
		errors:          make(chan error, 4),
		done:            make(chan struct{}),
		logger:          logger,
		metrics:         options.Metrics,
		maxWatches:      maxWatches,
		cleanupInterval: cleanupInterval,
		errorHandler:    options.ErrorHandler,
	}

	instance.startForwarder(watcher)
	go instance.run()
	go instance.cleanupLoop()
	return instance, nil
}

// WatchTree registers root and every directory below it that is not skipped,
// and delivers each change to handler. Only one tree can be watched.
func (watcher *Watcher) WatchTree(root string, handler func(Event)) error {
	if watcher == nil {
		return errors.New("watcher is nil")
	}
	if root == "" {
		return errors.New("root is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrWatcherClosed
	}
	if watcher.handler != nil {
		watcher.mutex.Unlock()
		return errors.New("tree already watched")
	}
	watcher.root = absRoot
	watcher.handler = handler
	watcher.mutex.Unlock()

	if _, err := watcher.addTree(absRoot); err != nil {
		watcher.removeAll()
		return err
	}
	watcher.logger.Info("watching directory tree", withWatcherFields(map[string]string{
		"root":           absRoot,
		"active_watches": strconv.Itoa(watcher.activeCount()),
	}))
	return nil
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	watcher.dirs = make(map[string]struct{})
	current := watcher.watcher
	watcher.mutex.Unlock()

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMutex.Unlock()

	close(watcher.done)
	watcher.metrics.SetActiveWatches(0)
	if current == nil {
		return nil
	}
	return current.Close()
}

func (watcher *Watcher) run() {
	for {
		select {
		case event := <-watcher.events:
			watcher.handleEvent(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	watcher.mutex.Lock()
	if watcher.closed || watcher.handler == nil {
		watcher.mutex.Unlock()
		return
	}
	handler := watcher.handler
	root := watcher.root
	_, wasDir := watcher.dirs[event.Name]
	watcher.mutex.Unlock()

	rel, ok := relativeTo(root, event.Name)
	if !ok || rel == "" {
		return
	}

	if event.Has(fsnotify.Create) && isDir(event.Name) {
		created, err := watcher.addTree(event.Name)
		if err != nil {
			watcher.logWarn("watch new directory failed", map[string]string{
				"path":  event.Name,
				"error": err.Error(),
			})
		}
		// Files written before the watch was registered produce no events.
		for _, path := range created {
			fileRel, ok := relativeTo(root, path)
			if !ok {
				continue
			}
			watcher.deliver(handler, Event{Path: path, Rel: fileRel, Op: fsnotify.Create, Timestamp: time.Now().UTC()})
		}
		return
	}
	if wasDir && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
		watcher.forgetTree(event.Name)
	}

	watcher.deliver(handler, Event{
		Path:      event.Name,
		Rel:       rel,
		Op:        event.Op,
		Timestamp: time.Now().UTC(),
	})
}

func (watcher *Watcher) deliver(handler func(Event), event Event) {
	handler(event)
	atomic.AddUint64(&watcher.eventsDelivered, 1)
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Warn(message, withWatcherFields(fields))
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	fields := map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	}
	watcher.logger.Debug(message, withWatcherFields(fields))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["devserve.category"] = "watcher"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

func (watcher *Watcher) activeCount() int {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return len(watcher.dirs)
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	active := watcher.activeCount()
	watcher.restartMutex.Lock()
	restartAttempts := watcher.restartAttempts
	watcher.restartMutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: restartAttempts,
	}
}
