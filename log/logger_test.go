package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskmaster/config"
)

func newTestLogger(t *testing.T, debug bool) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	logger, err := NewLogger(&config.Settings{LogsPath: dir, Debug: debug})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	return logger, dir
}

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return string(data)
}

func TestLogger_CreatesFiles(t *testing.T) {
	logger, dir := newTestLogger(t, false)
	defer logger.Close()

	for _, name := range []string{"00_activity.log", "01_events.log", "02_debug.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestLogger_Levels(t *testing.T) {
	logger, dir := newTestLogger(t, false)

	logger.Info("worker %s spawned", "web:0")
	logger.Warn("slow stop for %s", "web:0")
	logger.Error("spawn failed: %v", os.ErrNotExist)
	logger.Close()

	activity := readLog(t, dir, "00_activity.log")
	for _, want := range []string{
		"INFO  worker web:0 spawned",
		"WARN  slow stop for web:0",
		"ERROR spawn failed",
	} {
		if !strings.Contains(activity, want) {
			t.Errorf("activity log missing %q\ngot:\n%s", want, activity)
		}
	}
}

func TestLogger_Event(t *testing.T) {
	logger, dir := newTestLogger(t, false)

	logger.Event("web:0 exited code=0")
	logger.Close()

	events := readLog(t, dir, "01_events.log")
	if !strings.Contains(events, "web:0 exited code=0") {
		t.Errorf("events log missing event line, got:\n%s", events)
	}
	// Events are mirrored into the activity log.
	activity := readLog(t, dir, "00_activity.log")
	if !strings.Contains(activity, "web:0 exited code=0") {
		t.Errorf("activity log missing mirrored event, got:\n%s", activity)
	}
}

func TestLogger_DebugGate(t *testing.T) {
	logger, dir := newTestLogger(t, false)
	logger.Debug("hidden %d", 1)
	logger.Close()

	if debug := readLog(t, dir, "02_debug.log"); strings.Contains(debug, "hidden") {
		t.Error("debug line written with debug disabled")
	}

	logger, dir = newTestLogger(t, true)
	logger.Debug("visible %d", 2)
	logger.Close()

	if debug := readLog(t, dir, "02_debug.log"); !strings.Contains(debug, "visible 2") {
		t.Errorf("debug line missing with debug enabled, got:\n%s", debug)
	}
}
