package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SinkKind selects where a child's stdout or stderr goes.
type SinkKind int

const (
	// SinkDiscard attaches /dev/null.
	SinkDiscard SinkKind = iota
	// SinkInherit duplicates the supervisor's own stream.
	SinkInherit
	// SinkFile appends or truncates a regular file.
	SinkFile
	// SinkCombined shares one open file between stdout and stderr, so
	// interleaved writes stay ordered.
	SinkCombined
)

func (k SinkKind) String() string {
	switch k {
	case SinkDiscard:
		return "discard"
	case SinkInherit:
		return "inherit"
	case SinkFile:
		return "file"
	case SinkCombined:
		return "combined"
	}
	return "unknown"
}

// SinkMode selects how a file sink is opened.
type SinkMode int

const (
	// SinkTruncate truncates the file on every spawn.
	SinkTruncate SinkMode = iota
	// SinkAppend opens the file for append.
	SinkAppend
)

func (m SinkMode) String() string {
	if m == SinkAppend {
		return "append"
	}
	return "truncate"
}

// SinkSpec describes one stream binding. In YAML it is either a scalar
// ("discard", "inherit") or a mapping:
//
//	stdout: { file: /var/log/app.out, mode: append }
//	stdout: { combined: /var/log/app.log, mode: append }
//
// A combined sink on stdout duplexes stderr into the same open file; the
// stderr key must then be left unset.
type SinkSpec struct {
	Kind SinkKind
	Path string
	Mode SinkMode
}

type rawSink struct {
	File     string `yaml:"file"`
	Combined string `yaml:"combined"`
	Mode     string `yaml:"mode"`
}

// UnmarshalYAML decodes the scalar and mapping sink forms.
func (s *SinkSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		switch value.Value {
		case "discard":
			s.Kind = SinkDiscard
		case "inherit":
			s.Kind = SinkInherit
		default:
			return fmt.Errorf("%w: %q (want discard, inherit, or a file mapping)", ErrBadSink, value.Value)
		}
		return nil
	}

	var raw rawSink
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSink, err)
	}

	switch {
	case raw.File != "" && raw.Combined != "":
		return fmt.Errorf("%w: file and combined are mutually exclusive", ErrBadSink)
	case raw.File != "":
		s.Kind = SinkFile
		s.Path = raw.File
	case raw.Combined != "":
		s.Kind = SinkCombined
		s.Path = raw.Combined
	default:
		return fmt.Errorf("%w: mapping needs a file or combined key", ErrBadSink)
	}

	switch raw.Mode {
	case "", "truncate":
		s.Mode = SinkTruncate
	case "append":
		s.Mode = SinkAppend
	default:
		return fmt.Errorf("%w: mode %q (want truncate or append)", ErrBadSink, raw.Mode)
	}
	return nil
}

func (s SinkSpec) String() string {
	switch s.Kind {
	case SinkFile, SinkCombined:
		return fmt.Sprintf("%s(%s,%s)", s.Kind, s.Path, s.Mode)
	}
	return s.Kind.String()
}
