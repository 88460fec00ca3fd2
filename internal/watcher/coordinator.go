package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"devserve/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const reloadOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

// Coordinator watches a root directory for changes matching a PatternSet and
// calls onChange once per debounced batch.
type Coordinator struct {
	options CoordinatorOptions
	logger  *logging.Logger

	mutex     sync.Mutex
	watcher   *Watcher
	debouncer *debouncer
	patterns  *PatternSet
	started   bool
	closed    bool
}

func NewCoordinator(options CoordinatorOptions) *Coordinator {
	logger := options.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		options: options,
		logger:  logger,
	}
}

// ValidateRoot reports a *ConfigError when root is missing, not a directory
// or unreadable.
func ValidateRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return &ConfigError{Reason: "root directory is required"}
	}
	info, err := os.Stat(root)
	if err != nil {
		return &ConfigError{Reason: "root directory is not accessible", Path: root, Err: err}
	}
	if !info.IsDir() {
		return &ConfigError{Reason: "root is not a directory", Path: root}
	}
	if _, err := os.ReadDir(root); err != nil {
		return &ConfigError{Reason: "root directory is not readable", Path: root, Err: err}
	}
	return nil
}

// Start validates the patterns and root, registers the watches and returns.
// onChange runs on a timer goroutine; batches never overlap.
func (coordinator *Coordinator) Start(patterns []string, onChange func(Batch)) error {
	if onChange == nil {
		return errors.New("onChange is required")
	}
	set, err := NewPatternSet(patterns, coordinator.options.Ignore)
	if err != nil {
		return err
	}
	if err := ValidateRoot(coordinator.options.Root); err != nil {
		return err
	}

	coordinator.mutex.Lock()
	if coordinator.closed {
		coordinator.mutex.Unlock()
		return ErrWatcherClosed
	}
	if coordinator.started {
		coordinator.mutex.Unlock()
		return errors.New("coordinator already started")
	}
	coordinator.started = true
	coordinator.mutex.Unlock()

	fsWatcher, err := NewWithOptions(Options{
		Logger:     coordinator.logger,
		Metrics:    coordinator.options.Metrics,
		MaxWatches: coordinator.options.MaxWatches,
		SkipDir:    set.SkipDir,
		ErrorHandler: func(err error) {
			coordinator.logger.Error("filesystem watcher gave up restarting", withWatcherFields(map[string]string{
				"error": err.Error(),
			}))
		},
	})
	if err != nil {
		return err
	}

	var serial sync.Mutex
	batches := newDebouncer(coordinator.options.Clock, coordinator.options.Debounce, coordinator.options.MaxWait, func(batch Batch) {
		serial.Lock()
		defer serial.Unlock()
		coordinator.logger.Info("change detected", withWatcherFields(map[string]string{
			"paths":  summarizePaths(batch.Paths),
			"events": strconv.Itoa(batch.Events),
		}))
		onChange(batch)
	})

	coordinator.mutex.Lock()
	coordinator.watcher = fsWatcher
	coordinator.debouncer = batches
	coordinator.patterns = set
	coordinator.mutex.Unlock()

	root, _ := filepath.Abs(coordinator.options.Root)
	if err := fsWatcher.WatchTree(root, coordinator.handle); err != nil {
		_ = coordinator.Close()
		return err
	}
	coordinator.logger.Info("watching patterns", withWatcherFields(map[string]string{
		"patterns": strings.Join(set.Patterns(), ","),
	}))
	return nil
}

// Watch starts the coordinator and blocks until ctx is done, then releases
// every watch handle.
func (coordinator *Coordinator) Watch(ctx context.Context, patterns []string, onChange func(Batch)) error {
	if err := coordinator.Start(patterns, onChange); err != nil {
		return err
	}
	<-ctx.Done()
	return coordinator.Close()
}

func (coordinator *Coordinator) handle(event Event) {
	if event.Op&reloadOps == 0 {
		return
	}
	coordinator.mutex.Lock()
	set := coordinator.patterns
	batches := coordinator.debouncer
	coordinator.mutex.Unlock()

	if set == nil || batches == nil || !set.Match(event.Rel) {
		return
	}
	coordinator.options.Metrics.IncWatchEvent(opLabel(event.Op))
	coordinator.logger.Debug("change queued", withWatcherFields(map[string]string{
		"path": event.Rel,
		"op":   event.Op.String(),
	}))
	if batches.add(event) {
		coordinator.options.Metrics.IncWatchCoalesced()
	}
}

// Metrics reports the underlying watcher stats.
func (coordinator *Coordinator) Metrics() Metrics {
	coordinator.mutex.Lock()
	fsWatcher := coordinator.watcher
	coordinator.mutex.Unlock()
	return fsWatcher.Metrics()
}

// Close stops the debouncer and the filesystem watcher. It is idempotent.
func (coordinator *Coordinator) Close() error {
	coordinator.mutex.Lock()
	if coordinator.closed {
		coordinator.mutex.Unlock()
		return nil
	}
	coordinator.closed = true
	fsWatcher := coordinator.watcher
	batches := coordinator.debouncer
	coordinator.mutex.Unlock()

	if batches != nil {
		batches.stop()
	}
	return fsWatcher.Close()
}

func opLabel(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "other"
	}
}

func summarizePaths(paths []string) string {
	const limit = 5
	if len(paths) <= limit {
		return strings.Join(paths, ",")
	}
	return strings.Join(paths[:limit], ",") + ",+" + strconv.Itoa(len(paths)-limit) + " more"
}
