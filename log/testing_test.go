package log

import "testing"

func TestMemoryLogger_CapturesLevels(t *testing.T) {
	m := NewMemoryLogger()
	m.Info("worker %s up", "web")
	m.Warn("slow")
	m.Error("boom %d", 1)
	m.Debug("noise")

	if got := len(m.Messages()); got != 4 {
		t.Fatalf("captured %d messages, want 4", got)
	}
	if !m.HasMessage("worker web up") {
		t.Error("formatted info message missing")
	}
	if m.CountByLevel("ERROR") != 1 {
		t.Errorf("ERROR count = %d, want 1", m.CountByLevel("ERROR"))
	}
}

func TestMemoryLogger_ImplementsLibraryLogger(t *testing.T) {
	var _ LibraryLogger = NewMemoryLogger()
	var _ LibraryLogger = NoOpLogger{}
	var _ LibraryLogger = StdoutLogger{}
}
