package proc

import (
	"os"

	"taskmaster/config"
)

// Sinks holds the open stream bindings for one spawn. Files are opened in
// the parent before fork and must be closed in the parent right after; Close
// never touches the supervisor's own inherited streams.
type Sinks struct {
	Stdout *os.File
	Stderr *os.File
	owned  []*os.File
}

// OpenSinks resolves a program's stdout/stderr specifications into open
// files. A combined stdout shares one open file description with stderr so
// interleaved writes stay ordered.
func OpenSinks(spec *config.ProgramSpec) (*Sinks, error) {
	s := &Sinks{}

	stdout, err := s.open(spec.Stdout, os.Stdout)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Stdout = stdout

	if spec.Stdout.Kind == config.SinkCombined {
		s.Stderr = stdout
		return s, nil
	}

	stderr, err := s.open(spec.Stderr, os.Stderr)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Stderr = stderr
	return s, nil
}

func (s *Sinks) open(sink config.SinkSpec, inherit *os.File) (*os.File, error) {
	switch sink.Kind {
	case config.SinkInherit:
		return inherit, nil
	case config.SinkFile, config.SinkCombined:
		flags := os.O_CREATE | os.O_WRONLY
		if sink.Mode == config.SinkAppend {
			flags |= os.O_APPEND
		} else {
			flags |= os.O_TRUNC
		}
		f, err := os.OpenFile(sink.Path, flags, 0644)
		if err != nil {
			return nil, err
		}
		s.owned = append(s.owned, f)
		return f, nil
	default: // discard
		f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, err
		}
		s.owned = append(s.owned, f)
		return f, nil
	}
}

// Close closes the files this spawn opened. Inherited supervisor streams
// are left alone.
func (s *Sinks) Close() {
	for _, f := range s.owned {
		f.Close()
	}
	s.owned = nil
}
