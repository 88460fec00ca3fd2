package watcher

import (
	"time"

	"devserve/internal/logging"
	"devserve/internal/metrics"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// Event represents a single filesystem change below the watched root.
type Event struct {
	Path      string
	Rel       string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Batch is the coalesced set of changes delivered to onChange.
type Batch struct {
	Paths     []string
	Events    int
	FirstSeen time.Time
	FlushedAt time.Time
}

// Options controls watcher behavior.
type Options struct {
	Logger          *logging.Logger
	Metrics         *metrics.Registry
	MaxWatches      int
	CleanupInterval time.Duration
	// SkipDir reports whether a directory, given relative to the root in
	// slash form, should not be watched.
	SkipDir      func(rel string) bool
	ErrorHandler func(error)
}

// CoordinatorOptions controls how change events become batches.
type CoordinatorOptions struct {
	Root       string
	Ignore     []string
	Debounce   time.Duration
	MaxWait    time.Duration
	MaxWatches int
	Clock      clockwork.Clock
	Logger     *logging.Logger
	Metrics    *metrics.Registry
}

// Metrics reports current watcher stats.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	Errors          uint64
	RestartAttempts int
}
