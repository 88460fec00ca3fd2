package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func collectEvents() (chan Event, func(Event)) {
	events := make(chan Event, 64)
	return events, func(event Event) {
		select {
		case events <- event:
		default:
		}
	}
}

func TestWatcherDispatchesWriteEvent(t *testing.T) {
	watcher, err := NewWithOptions(Options{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.html")
	if err := os.WriteFile(path, []byte("<html></html>"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	events, handler := collectEvents()
	if err := watcher.WatchTree(dir, handler); err != nil {
		t.Fatalf("watch tree: %v", err)
	}

	if err := os.WriteFile(path, []byte("update"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	event, ok := waitForEventFor(events, "index.html")
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
}

func TestWatcherDispatchesNestedEvent(t *testing.T) {
	watcher, err := NewWithOptions(Options{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	nestedDir := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nestedDir, 0o755); err != nil {
		t.Fatalf("create nested dir: %v", err)
	}

	events, handler := collectEvents()
	if err := watcher.WatchTree(dir, handler); err != nil {
		t.Fatalf("watch tree: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 3 {
		t.Fatalf("expected 3 active watches, got %d", got)
	}

	if err := os.WriteFile(filepath.Join(nestedDir, "sample.js"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, ok := waitForEventFor(events, "a/b/sample.js"); !ok {
		t.Fatal("timed out waiting for nested event")
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	watcher, err := NewWithOptions(Options{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	events, handler := collectEvents()
	if err := watcher.WatchTree(dir, handler); err != nil {
		t.Fatalf("watch tree: %v", err)
	}

	newDir := filepath.Join(dir, "pages")
	if err := os.Mkdir(newDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for watcher.Metrics().ActiveWatches < 2 {
		if time.Now().After(deadline) {
			t.Fatal("new directory was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(newDir, "about.html"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, ok := waitForEventFor(events, "pages/about.html"); !ok {
		t.Fatal("timed out waiting for event in new directory")
	}
}

func TestWatcherSkipsIgnoredDirectories(t *testing.T) {
	watcher, err := NewWithOptions(Options{
		SkipDir: func(rel string) bool {
			return rel == "node_modules" || strings.HasPrefix(rel, "node_modules/")
		},
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, handler := collectEvents()
	if err := watcher.WatchTree(dir, handler); err != nil {
		t.Fatalf("watch tree: %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 2 {
		t.Fatalf("expected root and src to be watched, got %d watches", got)
	}
}

func TestWatcherMaxWatches(t *testing.T) {
	watcher, err := NewWithOptions(Options{MaxWatches: 1})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, handler := collectEvents()
	if err := watcher.WatchTree(dir, handler); err != ErrMaxWatchesExceeded {
		t.Fatalf("expected ErrMaxWatchesExceeded, got %v", err)
	}
	if got := watcher.Metrics().ActiveWatches; got != 0 {
		t.Fatalf("expected failed registration to be rolled back, got %d", got)
	}
}

func TestWatcherCleanupDropsVanishedDirectories(t *testing.T) {
	watcher, err := NewWithOptions(Options{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	_, handler := collectEvents()
	if err := watcher.WatchTree(dir, handler); err != nil {
		t.Fatalf("watch tree: %v", err)
	}

	ghost := filepath.Join(dir, "ghost")
	watcher.mutex.Lock()
	watcher.dirs[ghost] = struct{}{}
	watcher.mutex.Unlock()

	watcher.cleanup()

	watcher.mutex.Lock()
	_, ok := watcher.dirs[ghost]
	watcher.mutex.Unlock()
	if ok {
		t.Fatal("expected vanished directory to be dropped")
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	watcher, err := NewWithOptions(Options{})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := watcher.WatchTree(t.TempDir(), func(Event) {}); err != ErrWatcherClosed {
		t.Fatalf("expected ErrWatcherClosed, got %v", err)
	}
}

func waitForEventFor(events <-chan Event, rel string) (Event, bool) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Rel == rel {
				return event, true
			}
		case <-deadline:
			return Event{}, false
		}
	}
}
