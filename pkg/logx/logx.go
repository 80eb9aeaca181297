// Package logx writes scope-tagged log lines and keeps the recent ones in memory for
// post-run dumps. Debug lines are off unless DEBUG is set and can be narrowed to
// domains with DEBUG_DOMAINS.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	timestampFormat = "2006-01-02T15:04:05.000Z"
	recentLimit     = 1000
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// LogEntry is one captured log line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Scope     string `json:"scope"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

// Logger tags every line with its scope (engine, sandbox, tool, ...).
type Logger struct {
	scope string
}

type ctxKey struct{}

// debugFilter gates debug lines. Nil domains admits every domain.
type debugFilter struct {
	enabled bool
	domains map[string]bool
}

var (
	mu      sync.Mutex
	out     io.Writer
	recent  []LogEntry
	filter  debugFilter
	filtMu  sync.RWMutex
	sysLog  = NewLogger("system")
	nowFunc = func() time.Time { return time.Now().UTC() }
)

func init() { //nolint:gochecknoinits // reads DEBUG once at startup
	filter = filterFromEnv(os.Getenv("DEBUG"), os.Getenv("DEBUG_DOMAINS"))
}

func filterFromEnv(debug, domains string) debugFilter {
	f := debugFilter{enabled: debug == "1" || strings.EqualFold(debug, "true")}
	for _, d := range strings.Split(domains, ",") {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if f.domains == nil {
			f.domains = make(map[string]bool)
		}
		f.domains[d] = true
	}
	return f
}

func debugOn(domain string) bool {
	filtMu.RLock()
	defer filtMu.RUnlock()
	if !filter.enabled {
		return false
	}
	return domain == "" || filter.domains == nil || filter.domains[domain]
}

func NewLogger(scope string) *Logger {
	return &Logger{scope: scope}
}

// WithScope returns a logger for a sub-component.
func (l *Logger) WithScope(scope string) *Logger {
	return &Logger{scope: scope}
}

// SetOutput redirects all loggers. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// emit formats, writes and buffers one line.
func emit(e LogEntry) {
	e.Timestamp = nowFunc().Format(timestampFormat)
	tag := ""
	if e.Domain != "" {
		tag = "[" + e.Domain + "] "
	}
	line := fmt.Sprintf("[%s] [%s] %s: %s%s", e.Timestamp, e.Scope, e.Level, tag, e.Message)

	mu.Lock()
	defer mu.Unlock()
	w := out
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprintln(w, line)

	recent = append(recent, e)
	if len(recent) > recentLimit {
		recent = recent[len(recent)-recentLimit:]
	}
}

// RecentEntries returns buffered entries at or above minLevel, oldest first.
func RecentEntries(minLevel Level) []LogEntry {
	mu.Lock()
	defer mu.Unlock()
	entries := make([]LogEntry, 0, len(recent))
	for _, e := range recent {
		if levelRank[Level(e.Level)] >= levelRank[minLevel] {
			entries = append(entries, e)
		}
	}
	return entries
}

func (l *Logger) log(level Level, format string, args ...any) {
	emit(LogEntry{Scope: l.scope, Level: string(level), Message: fmt.Sprintf(format, args...)})
}

func (l *Logger) Debug(format string, args ...any) {
	if debugOn("") {
		l.log(LevelDebug, format, args...)
	}
}

func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// Warnf logs a warning under the "system" scope.
func Warnf(format string, args ...any) {
	sysLog.Warn(format, args...)
}

// WithRunID attaches the run identifier that Debug lines are scoped by.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runID)
}

// RunIDFrom returns the run identifier stored by WithRunID, or "unknown".
func RunIDFrom(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// Debug logs under the run ID in ctx when debugging is on for domain.
//
//	DEBUG=1 DEBUG_DOMAINS=engine,tool codeloop -task "..."
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !debugOn(domain) {
		return
	}
	emit(LogEntry{
		Scope:   RunIDFrom(ctx),
		Level:   string(LevelDebug),
		Message: fmt.Sprintf(format, args...),
		Domain:  domain,
	})
}
