package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// addTree registers dir and its subdirectories, skipping ignored ones, and
// returns the regular files found along the way.
func (watcher *Watcher) addTree(dir string) ([]string, error) {
	watcher.mutex.Lock()
	root := watcher.root
	watcher.mutex.Unlock()

	dirs, files, err := collectTree(root, dir, watcher.skipDir)
	if err != nil {
		return nil, err
	}
	for _, path := range dirs {
		if err := watcher.addDir(path); err != nil {
			return files, err
		}
	}
	return files, nil
}

// collectTree walks dir. Unreadable entries are skipped: a file deleted
// mid-walk must not abort the registration.
func collectTree(root, dir string, skipDir func(rel string) bool) ([]string, []string, error) {
	dirs := []string{}
	files := []string{}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			if entry.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		}
		if path != root {
			if rel, ok := relativeTo(root, path); ok && skipDir(rel) {
				return filepath.SkipDir
			}
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, files, err
}

func (watcher *Watcher) addDir(path string) error {
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return ErrWatcherClosed
	}
	if _, ok := watcher.dirs[path]; ok {
		watcher.mutex.Unlock()
		return nil
	}
	if len(watcher.dirs) >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return ErrMaxWatchesExceeded
	}
	watcher.dirs[path] = struct{}{}
	activeCount := len(watcher.dirs)
	current := watcher.watcher
	watcher.mutex.Unlock()

	if err := current.Add(path); err != nil {
		watcher.mutex.Lock()
		delete(watcher.dirs, path)
		watcher.mutex.Unlock()
		watcher.logWarn("watch add failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return err
	}
	watcher.metrics.SetActiveWatches(activeCount)
	watcher.logDebug("watch added", path, activeCount)
	return nil
}

// forgetTree drops dir and its descendants after a remove or rename. The
// kernel watch is already gone for removed directories, so Remove errors are
// expected and ignored.
func (watcher *Watcher) forgetTree(dir string) {
	watcher.mutex.Lock()
	removed := make([]string, 0)
	for path := range watcher.dirs {
		if isWithinPath(dir, path) {
			delete(watcher.dirs, path)
			removed = append(removed, path)
		}
	}
	activeCount := len(watcher.dirs)
	current := watcher.watcher
	watcher.mutex.Unlock()

	for _, path := range removed {
		_ = current.Remove(path)
		watcher.logDebug("watch removed", path, activeCount)
	}
	watcher.metrics.SetActiveWatches(activeCount)
}

func (watcher *Watcher) removeAll() {
	watcher.mutex.Lock()
	paths := make([]string, 0, len(watcher.dirs))
	for path := range watcher.dirs {
		paths = append(paths, path)
	}
	watcher.dirs = make(map[string]struct{})
	watcher.handler = nil
	current := watcher.watcher
	watcher.mutex.Unlock()

	for _, path := range paths {
		_ = current.Remove(path)
	}
	watcher.metrics.SetActiveWatches(0)
}

func relativeTo(root, path string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

func isWithinPath(parent, child string) bool {
	_, ok := relativeTo(filepath.Clean(parent), filepath.Clean(child))
	return ok
}

func isDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}
