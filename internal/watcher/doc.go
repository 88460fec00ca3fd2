// Package watcher turns filesystem activity under a root directory into
// debounced change batches.
//
// A Watcher registers every directory below the root with fsnotify and keeps
// the registration current as directories appear and disappear. A Coordinator
// filters the raw events through a PatternSet and coalesces bursts so that a
// save touching several files yields a single onChange call. Delivery is
// best-effort: transient watcher errors are logged and counted, never fatal.
package watcher
