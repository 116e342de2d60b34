package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"taskmaster/util"
)

// RestartPolicy controls what happens when a running worker exits.
type RestartPolicy int

const (
	// RestartUnexpected restarts only on signals or unexpected exit codes.
	RestartUnexpected RestartPolicy = iota
	// RestartNever leaves the worker in EXITED.
	RestartNever
	// RestartAlways restarts on any exit.
	RestartAlways
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartNever:
		return "never"
	case RestartAlways:
		return "always"
	}
	return "unexpected"
}

// ProgramSpec is the immutable, validated description of one program. All
// defaults from the configuration reference are already applied.
type ProgramSpec struct {
	Name         string
	Command      []string
	NumProcs     int
	AutoStart    bool
	AutoRestart  RestartPolicy
	ExitCodes    []int
	StartTime    time.Duration
	StartRetries int
	StopTime     time.Duration
	StopSignal   syscall.Signal
	WorkingDir   string
	Umask        int // -1 when unset
	Env          map[string]string
	Stdout       SinkSpec
	Stderr       SinkSpec
}

// ExpectedExit reports whether an exit code is in the program's expected set.
func (p *ProgramSpec) ExpectedExit(code int) bool {
	return util.ContainsInt(p.ExitCodes, code)
}

// commandLine accepts either a YAML sequence (explicit argv) or a scalar
// that is split on whitespace.
type commandLine []string

func (c *commandLine) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*c = strings.Fields(value.Value)
		return nil
	}
	var argv []string
	if err := value.Decode(&argv); err != nil {
		return err
	}
	*c = argv
	return nil
}

// rawProgram mirrors the YAML document. Pointer fields distinguish "absent"
// from zero so defaults can be applied afterwards.
type rawProgram struct {
	Command      commandLine       `yaml:"command"`
	NumProcs     *int              `yaml:"numprocs"`
	AutoStart    *bool             `yaml:"autostart"`
	AutoRestart  *string           `yaml:"autorestart"`
	ExitCodes    *[]int            `yaml:"exitcodes"`
	StartTime    *float64          `yaml:"starttime"`
	StartRetries *int              `yaml:"startretries"`
	StopTime     *float64          `yaml:"stoptime"`
	StopSignal   *string           `yaml:"stopsignal"`
	WorkingDir   *string           `yaml:"workingdir"`
	Umask        *string           `yaml:"umask"`
	Env          map[string]string `yaml:"env"`
	Stdout       *SinkSpec         `yaml:"stdout"`
	Stderr       *SinkSpec         `yaml:"stderr"`
}

type rawConfig struct {
	Programs map[string]rawProgram `yaml:"programs"`
}

// Config is the validated program set from one configuration file.
type Config struct {
	Path     string
	Programs map[string]*ProgramSpec
}

// Names returns the program names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Programs))
	for name := range c.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and validates the program configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
			return nil, pe
		}
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes and validates a program configuration document. Unknown
// fields are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)

	var raw rawConfig
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Path: "config", Err: err}
	}
	if len(raw.Programs) == 0 {
		return nil, &ValidationError{Program: "", Err: ErrNoPrograms}
	}

	cfg := &Config{Programs: make(map[string]*ProgramSpec, len(raw.Programs))}
	for name, rp := range raw.Programs {
		spec, err := buildProgram(name, rp)
		if err != nil {
			return nil, err
		}
		cfg.Programs[name] = spec
	}
	return cfg, nil
}

// buildProgram applies defaults and validates one program entry.
func buildProgram(name string, raw rawProgram) (*ProgramSpec, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ValidationError{Program: name, Field: "name", Err: fmt.Errorf("must not be empty")}
	}
	if len(raw.Command) == 0 {
		return nil, &ValidationError{Program: name, Field: "command", Err: ErrNoCommand}
	}

	spec := &ProgramSpec{
		Name:         name,
		Command:      raw.Command,
		NumProcs:     1,
		AutoStart:    true,
		AutoRestart:  RestartUnexpected,
		ExitCodes:    []int{0},
		StartTime:    1 * time.Second,
		StartRetries: 3,
		StopTime:     10 * time.Second,
		StopSignal:   syscall.SIGTERM,
		Umask:        -1,
		Env:          map[string]string{},
		Stdout:       SinkSpec{Kind: SinkDiscard},
		Stderr:       SinkSpec{Kind: SinkDiscard},
	}

	if raw.NumProcs != nil {
		if *raw.NumProcs < 1 {
			return nil, &ValidationError{Program: name, Field: "numprocs", Err: ErrBadNumProcs}
		}
		spec.NumProcs = *raw.NumProcs
	}
	if raw.AutoStart != nil {
		spec.AutoStart = *raw.AutoStart
	}
	if raw.AutoRestart != nil {
		switch *raw.AutoRestart {
		case "never":
			spec.AutoRestart = RestartNever
		case "always":
			spec.AutoRestart = RestartAlways
		case "unexpected":
			spec.AutoRestart = RestartUnexpected
		default:
			return nil, &ValidationError{Program: name, Field: "autorestart",
				Err: fmt.Errorf("%q is not one of never, always, unexpected", *raw.AutoRestart)}
		}
	}
	if raw.ExitCodes != nil {
		spec.ExitCodes = append([]int(nil), (*raw.ExitCodes)...)
		sort.Ints(spec.ExitCodes)
	}
	if raw.StartTime != nil {
		if *raw.StartTime < 0 {
			return nil, &ValidationError{Program: name, Field: "starttime", Err: ErrNegativeTime}
		}
		spec.StartTime = time.Duration(*raw.StartTime * float64(time.Second))
	}
	if raw.StartRetries != nil {
		if *raw.StartRetries < 0 {
			return nil, &ValidationError{Program: name, Field: "startretries",
				Err: fmt.Errorf("must not be negative")}
		}
		spec.StartRetries = *raw.StartRetries
	}
	if raw.StopTime != nil {
		if *raw.StopTime < 0 {
			return nil, &ValidationError{Program: name, Field: "stoptime", Err: ErrNegativeTime}
		}
		spec.StopTime = time.Duration(*raw.StopTime * float64(time.Second))
	}
	if raw.StopSignal != nil {
		sig, err := util.ParseSignal(*raw.StopSignal)
		if err != nil {
			return nil, &ValidationError{Program: name, Field: "stopsignal", Err: err}
		}
		spec.StopSignal = sig
	}
	if raw.WorkingDir != nil {
		spec.WorkingDir = *raw.WorkingDir
	}
	if raw.Umask != nil {
		mask, err := parseUmask(*raw.Umask)
		if err != nil {
			return nil, &ValidationError{Program: name, Field: "umask", Err: err}
		}
		spec.Umask = mask
	}
	if raw.Env != nil {
		spec.Env = raw.Env
	}
	if raw.Stdout != nil {
		spec.Stdout = *raw.Stdout
	}
	if raw.Stderr != nil {
		spec.Stderr = *raw.Stderr
	}

	if err := validateSinks(name, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// validateSinks enforces the combined-sink contract: combined lives on
// stdout and claims stderr with it.
func validateSinks(name string, spec *ProgramSpec) error {
	if spec.Stderr.Kind == SinkCombined {
		return &ValidationError{Program: name, Field: "stderr",
			Err: fmt.Errorf("%w: declare combined on stdout", ErrBadSink)}
	}
	if spec.Stdout.Kind == SinkCombined && spec.Stderr.Kind != SinkDiscard {
		return &ValidationError{Program: name, Field: "stderr",
			Err: fmt.Errorf("%w: stderr must be unset when stdout is combined", ErrBadSink)}
	}
	return nil
}

func parseUmask(s string) (int, error) {
	mask, err := strconv.ParseInt(strings.TrimSpace(s), 8, 32)
	if err != nil || mask < 0 || mask > 0o777 {
		return 0, ErrBadUmask
	}
	return int(mask), nil
}
