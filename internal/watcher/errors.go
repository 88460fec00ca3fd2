package watcher

import (
	"errors"
	"fmt"
)

var (
	ErrMaxWatchesExceeded = errors.New("max watches exceeded")
	ErrNoPatterns         = errors.New("no watch patterns configured")
	ErrWatcherClosed      = errors.New("watcher is closed")
)

// ConfigError reports a watch configuration that cannot be started: an empty
// or invalid pattern set, or a root that is missing or unreadable.
type ConfigError struct {
	Reason string
	Path   string
	Err    error
}

func (e *ConfigError) Error() string {
	message := "watch config: " + e.Reason
	if e.Path != "" {
		message = fmt.Sprintf("%s (%s)", message, e.Path)
	}
	if e.Err != nil && !errors.Is(e.Err, ErrNoPatterns) {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
