package config

import (
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Settings holds supervisor-side configuration: where taskmaster keeps its
// own activity logs and the history database, and how reloads are triggered.
// Settings are distinct from the program configuration given with -f; they
// come from an optional taskmaster.ini.
type Settings struct {
	// Paths
	SettingsPath string
	LogsPath     string
	HistoryPath  string

	// Reload behavior
	WatchConfig bool

	// Behavior
	Debug bool
}

// LoadSettings loads supervisor settings from an ini file. An empty path
// probes the standard locations; a missing file yields defaults.
func LoadSettings(path string) (*Settings, error) {
	s := &Settings{}

	if path == "" {
		for _, candidate := range []string{
			"/etc/taskmaster/taskmaster.ini",
			"/usr/local/etc/taskmaster/taskmaster.ini",
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	s.SettingsPath = path

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := s.parseINI(path); err != nil {
				return nil, &ParseError{Path: path, Err: err}
			}
		}
	}

	// Apply defaults for unset paths
	if s.LogsPath == "" {
		s.LogsPath = "taskmaster-logs"
	}
	if s.HistoryPath == "" {
		s.HistoryPath = filepath.Join(s.LogsPath, "taskmaster.db")
	}

	return s, nil
}

func (s *Settings) parseINI(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return err
	}

	paths := f.Section("paths")
	if v := paths.Key("logs").String(); v != "" {
		s.LogsPath = v
	}
	if v := paths.Key("history").String(); v != "" {
		s.HistoryPath = v
	}

	s.WatchConfig = f.Section("reload").Key("watch").MustBool(false)
	s.Debug = f.Section("debug").Key("enabled").MustBool(false)

	return nil
}
