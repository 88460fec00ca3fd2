package watcher

import "time"

func (watcher *Watcher) cleanupLoop() {
	ticker := time.NewTicker(watcher.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			watcher.cleanup()
		case <-watcher.done:
			return
		}
	}
}

// cleanup drops registrations for directories that no longer exist, covering
// removals whose events were lost while the watcher was restarting.
func (watcher *Watcher) cleanup() {
	if watcher == nil {
		return
	}
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	paths := make([]string, 0, len(watcher.dirs))
	for path := range watcher.dirs {
		paths = append(paths, path)
	}
	watcher.mutex.Unlock()

	stale := make([]string, 0)
	for _, path := range paths {
		if !isDir(path) {
			stale = append(stale, path)
		}
	}
	if len(stale) == 0 {
		return
	}

	watcher.mutex.Lock()
	for _, path := range stale {
		delete(watcher.dirs, path)
	}
	activeCount := len(watcher.dirs)
	current := watcher.watcher
	watcher.mutex.Unlock()

	for _, path := range stale {
		_ = current.Remove(path)
		watcher.logDebug("watch cleaned", path, activeCount)
	}
	watcher.metrics.SetActiveWatches(activeCount)
}
