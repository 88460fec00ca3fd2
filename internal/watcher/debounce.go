package watcher

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultDebounce = 100 * time.Millisecond
	defaultMaxWait  = time.Second
)

// debouncer collects events until the stream has been quiet for duration,
// then hands the collected paths to flush as one Batch. maxWait bounds how
// long a continuous stream can postpone a flush.
type debouncer struct {
	clock    clockwork.Clock
	duration time.Duration
	maxWait  time.Duration
	flush    func(Batch)

	mutex      sync.Mutex
	timer      clockwork.Timer
	generation uint64
	pending    map[string]struct{}
	order      []string
	events     int
	firstSeen  time.Time
	stopped    bool
}

func newDebouncer(clock clockwork.Clock, duration, maxWait time.Duration, flush func(Batch)) *debouncer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if duration <= 0 {
		duration = defaultDebounce
	}
	if maxWait < duration {
		maxWait = defaultMaxWait
		if maxWait < duration {
			maxWait = duration
		}
	}
	return &debouncer{
		clock:    clock,
		duration: duration,
		maxWait:  maxWait,
		flush:    flush,
		pending:  make(map[string]struct{}),
	}
}

// add records event and (re)arms the quiet timer. It reports whether the
// event was folded into an already pending batch.
func (debouncer *debouncer) add(event Event) bool {
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	if debouncer.stopped {
		return false
	}

	now := debouncer.clock.Now()
	coalesced := debouncer.events > 0
	if !coalesced {
		debouncer.firstSeen = now
	}
	debouncer.events++
	if _, ok := debouncer.pending[event.Rel]; !ok {
		debouncer.pending[event.Rel] = struct{}{}
		debouncer.order = append(debouncer.order, event.Rel)
	}

	delay := debouncer.duration
	if remaining := debouncer.firstSeen.Add(debouncer.maxWait).Sub(now); remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}

	if debouncer.timer != nil {
		debouncer.timer.Stop()
	}
	debouncer.generation++
	generation := debouncer.generation
	debouncer.timer = debouncer.clock.AfterFunc(delay, func() {
		debouncer.fire(generation)
	})
	return coalesced
}

func (debouncer *debouncer) fire(generation uint64) {
	debouncer.mutex.Lock()
	if debouncer.stopped || generation != debouncer.generation || debouncer.events == 0 {
		debouncer.mutex.Unlock()
		return
	}
	paths := debouncer.order
	sort.Strings(paths)
	batch := Batch{
		Paths:     paths,
		Events:    debouncer.events,
		FirstSeen: debouncer.firstSeen,
		FlushedAt: debouncer.clock.Now(),
	}
	debouncer.pending = make(map[string]struct{})
	debouncer.order = nil
	debouncer.events = 0
	debouncer.timer = nil
	debouncer.mutex.Unlock()

	if debouncer.flush != nil {
		debouncer.flush(batch)
	}
}

// stop drops any pending batch; later adds are ignored.
func (debouncer *debouncer) stop() {
	debouncer.mutex.Lock()
	defer debouncer.mutex.Unlock()
	debouncer.stopped = true
	if debouncer.timer != nil {
		debouncer.timer.Stop()
		debouncer.timer = nil
	}
	debouncer.pending = nil
	debouncer.order = nil
	debouncer.events = 0
}
