package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const timestampLayout = "2006/01/02 15:04:05"

// Logger writes key/value log lines of the form
// `2026/01/02 15:04:05 level=info msg="..." key="value"`.
type Logger struct {
	out         *lockedWriter
	minLevel    Level
	baseContext map[string]string
	colorize    bool
}

type lockedWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

func (w *lockedWriter) WriteLine(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = io.WriteString(w.writer, line+"\n")
}

// Options controls logger construction.
type Options struct {
	Level   Level
	Output  io.Writer
	NoColor bool
}

// NewLogger writes to stderr, coloring level names when stderr is a terminal.
func NewLogger(minLevel Level) *Logger {
	return New(Options{Level: minLevel, Output: os.Stderr})
}

// NewLoggerWithOutput writes uncolored lines to output. A nil output discards.
func NewLoggerWithOutput(minLevel Level, output io.Writer) *Logger {
	return New(Options{Level: minLevel, Output: output, NoColor: true})
}

func New(options Options) *Logger {
	output := options.Output
	if output == nil {
		output = io.Discard
	}
	colorize := !options.NoColor && !color.NoColor && isTerminal(output)
	return &Logger{
		out:      &lockedWriter{writer: output},
		minLevel: normalizeLevel(options.Level),
		colorize: colorize,
	}
}

// Nop returns a logger that drops everything.
func Nop() *Logger {
	return NewLoggerWithOutput(LevelError, io.Discard)
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		out:         l.out,
		minLevel:    l.minLevel,
		baseContext: cloneFields(l.baseContext, fields),
		colorize:    l.colorize,
	}
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.baseContext, fields),
	}
	if l.out != nil {
		l.out.WriteLine(entry.Timestamp.Format(timestampLayout) + " " + formatEntry(entry, l.colorize))
	}
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

func formatEntry(entry LogEntry, colorize bool) string {
	builder := strings.Builder{}
	builder.WriteString("level=")
	builder.WriteString(levelLabel(entry.Level, colorize))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	if len(entry.Context) == 0 {
		return builder.String()
	}

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(" ")
		builder.WriteString(fmt.Sprintf("%s=%s", key, strconv.Quote(entry.Context[key])))
	}
	return builder.String()
}

func levelLabel(level Level, colorize bool) string {
	if !colorize {
		return string(level)
	}
	var paint *color.Color
	switch level {
	case LevelDebug:
		paint = color.New(color.FgHiBlack)
	case LevelWarning:
		paint = color.New(color.FgYellow)
	case LevelError:
		paint = color.New(color.FgRed, color.Bold)
	default:
		paint = color.New(color.FgCyan)
	}
	paint.EnableColor()
	return paint.Sprint(string(level))
}

func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
