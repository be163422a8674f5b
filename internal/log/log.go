// Package log writes the daemon's structured log: leveled, categorized
// entries rendered as key=value text, appended to the log file and fanned
// out to in-process subscribers.
package log

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/adwd/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel converts a level name to a Level. Unknown names map to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Category groups related log messages.
type Category string

const (
	CatWebhook   Category = "webhook"   // Webhook ingestion and extraction
	CatGithub    Category = "github"    // Issue tracker comments via gh CLI
	CatAdmission Category = "admission" // Pre-flight admission checks
	CatDispatch  Category = "dispatch"  // Workflow spawn, stop, and tracking
	CatHub       Category = "hub"       // Broadcast hub and subscribers
	CatHistory   Category = "history"   // History indexer: scan, score, sync
	CatDB        Category = "db"        // Database operations
	CatConfig    Category = "config"    // Configuration loading/saving
	CatServer    Category = "server"    // HTTP server lifecycle
	CatWatcher   Category = "watcher"   // File watcher events
	CatCache     Category = "cache"     // Cache operations
	CatService   Category = "service"   // Sidecar service supervision
)

// Logger appends entries to one log file and republishes each of them to
// broker subscribers.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	minLevel Level
	broker   *pubsub.Broker[string]
}

var (
	defaultLogger *Logger
	initOnce      sync.Once
)

// Init opens the log file with every level enabled and installs the global
// logger. The returned cleanup closes the file and the subscriber broker.
// Only the first Init (or InitWithLevel) of the process takes effect.
func Init(path string) (func(), error) {
	return InitWithLevel(path, LevelDebug)
}

// InitWithLevel is Init with a minimum level; entries below it are dropped.
func InitWithLevel(path string, level Level) (func(), error) {
	var initErr error
	initOnce.Do(func() {
		defaultLogger, initErr = open(path, level)
	})
	if initErr != nil {
		return nil, initErr
	}
	if defaultLogger == nil {
		return nil, errors.New("logging already failed to start")
	}
	return defaultLogger.close, nil
}

func open(path string, level Level) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304 -- the operator chooses the log path
	if err != nil {
		return nil, err
	}
	return &Logger{
		file:     f,
		minLevel: level,
		broker:   pubsub.NewBroker[string](),
	}, nil
}

// close ends the subscriptions before the file so no entry races the close.
func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broker.Close()
	_ = l.file.Close()
	l.file = nil
}

func (l *Logger) log(level Level, cat Category, msg string, fields ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.minLevel || l.file == nil {
		return
	}

	entry := formatEntry(time.Now(), level, cat, msg, fields)
	_, _ = l.file.WriteString(entry)
	l.broker.Publish(pubsub.CreatedEvent, entry)
}

// formatEntry renders one line: timestamp [LEVEL] [category] message k=v ...
// An odd trailing field is kept as k=<missing> rather than dropped.
func formatEntry(at time.Time, level Level, cat Category, msg string, fields []any) string {
	var b strings.Builder
	b.WriteString(at.Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
		} else {
			fmt.Fprintf(&b, " %v=<missing>", fields[i])
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	defaultLogger.log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	defaultLogger.log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	defaultLogger.log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	defaultLogger.log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value as a trailing field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	value := "<nil>"
	if err != nil {
		value = err.Error()
	}
	defaultLogger.log(LevelError, cat, msg, append(fields, "error", value)...)
}

// LogEvent is a pubsub event carrying one rendered log line.
type LogEvent = pubsub.Event[string]

// Subscribe returns a channel of rendered log entries. The subscription ends
// when ctx is cancelled. Returns nil before Init.
func Subscribe(ctx context.Context) <-chan LogEvent {
	if defaultLogger == nil {
		return nil
	}
	return defaultLogger.broker.Subscribe(ctx)
}
