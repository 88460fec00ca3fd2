package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestLoggerWritesKeyValueLine(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithOutput(LevelInfo, &output)

	logger.Info("started", map[string]string{"port": "3000", "addr": "localhost:3000"})

	line := strings.TrimSpace(output.String())
	if !strings.Contains(line, `level=info msg="started" addr="localhost:3000" port="3000"`) {
		t.Fatalf("unexpected log line: %q", line)
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithOutput(LevelWarning, &output)

	logger.Info("info", nil)
	logger.Warn("warn", nil)

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), output.String())
	}
	if !strings.Contains(lines[0], "level=warning") {
		t.Fatalf("expected warning level, got %q", lines[0])
	}
}

func TestLoggerWithMergesBaseContext(t *testing.T) {
	var output bytes.Buffer
	logger := NewLoggerWithOutput(LevelDebug, &output).With(map[string]string{
		"devserve.category": "watcher",
	})

	logger.Debug("watch added", map[string]string{"path": "site"})

	line := output.String()
	if !strings.Contains(line, `devserve.category="watcher"`) {
		t.Fatalf("expected base context in %q", line)
	}
	if !strings.Contains(line, `path="site"`) {
		t.Fatalf("expected field in %q", line)
	}
}

func TestLoggerConcurrentWritesStayLineAligned(t *testing.T) {
	var output safeBuffer
	logger := NewLoggerWithOutput(LevelInfo, &output)

	const total = 100
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("message", nil)
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != total {
		t.Fatalf("expected %d lines, got %d", total, len(lines))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warn":    LevelWarning,
		"warning": LevelWarning,
		"error":   LevelError,
	}
	for input, expected := range cases {
		level, ok := ParseLevel(input)
		if !ok || level != expected {
			t.Fatalf("ParseLevel(%q) = %q, %v", input, level, ok)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatal("expected unknown level to be rejected")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.Enabled(LevelError) {
		t.Fatal("nil logger should not be enabled")
	}
}

type safeBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}
