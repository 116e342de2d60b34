package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"taskmaster/config"
)

// Logger manages taskmaster's own log files. The controlling terminal
// belongs to the REPL, so supervisor activity goes to files under the
// settings log directory:
//
//	00_activity.log  - every state change, spawn, reap, reload
//	01_events.log    - one line per worker spawn/exit/kill
//	02_debug.log     - verbose diagnostics (populated when debug is on)
type Logger struct {
	settings     *config.Settings
	activityFile *os.File
	eventsFile   *os.File
	debugFile    *os.File
	debug        bool
	mu           sync.Mutex
}

// NewLogger creates a logger writing under the settings log directory.
func NewLogger(settings *config.Settings) (*Logger, error) {
	if err := os.MkdirAll(settings.LogsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	l := &Logger{settings: settings, debug: settings.Debug}

	var err error
	l.activityFile, err = os.OpenFile(filepath.Join(settings.LogsPath, "00_activity.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	l.eventsFile, err = os.OpenFile(filepath.Join(settings.LogsPath, "01_events.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.activityFile.Close()
		return nil, err
	}

	l.debugFile, err = os.OpenFile(filepath.Join(settings.LogsPath, "02_debug.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.activityFile.Close()
		l.eventsFile.Close()
		return nil, err
	}

	l.writeHeader()

	return l, nil
}

// Close closes all log files
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.activityFile != nil {
		l.activityFile.Close()
	}
	if l.eventsFile != nil {
		l.eventsFile.Close()
	}
	if l.debugFile != nil {
		l.debugFile.Close()
	}
}

func (l *Logger) writeHeader() {
	timestamp := time.Now().Format(time.RFC3339)

	fmt.Fprintf(l.activityFile, "taskmaster session - %s\n", timestamp)
	fmt.Fprintf(l.activityFile, "%s\n", strings.Repeat("=", 70))
}

func (l *Logger) line(f *os.File, level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] %-5s %s\n", timestamp, level, msg)
	f.Sync()
}

// Info logs supervisor activity
func (l *Logger) Info(format string, args ...any) {
	l.line(l.activityFile, "INFO", fmt.Sprintf(format, args...))
}

// Warn logs a non-fatal problem
func (l *Logger) Warn(format string, args ...any) {
	l.line(l.activityFile, "WARN", fmt.Sprintf(format, args...))
}

// Error logs a failure that the supervisor survived
func (l *Logger) Error(format string, args ...any) {
	l.line(l.activityFile, "ERROR", fmt.Sprintf(format, args...))
}

// Debug logs verbose diagnostics; a no-op unless debug is enabled
func (l *Logger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	l.line(l.debugFile, "DEBUG", fmt.Sprintf(format, args...))
}

// Event records one worker lifecycle event to the events log in addition to
// the activity log. Used for spawns, exits, and forced kills.
func (l *Logger) Event(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.line(l.eventsFile, "EVENT", msg)
	l.line(l.activityFile, "INFO", msg)
}
