package config

import (
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
programs:
  web:
    command: /usr/bin/myapp --serve
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	spec := cfg.Programs["web"]
	if spec == nil {
		t.Fatal("program web missing")
	}
	if len(spec.Command) != 2 || spec.Command[0] != "/usr/bin/myapp" || spec.Command[1] != "--serve" {
		t.Errorf("Command = %v, want [/usr/bin/myapp --serve]", spec.Command)
	}
	if spec.NumProcs != 1 {
		t.Errorf("NumProcs = %d, want 1", spec.NumProcs)
	}
	if !spec.AutoStart {
		t.Error("AutoStart = false, want true")
	}
	if spec.AutoRestart != RestartUnexpected {
		t.Errorf("AutoRestart = %v, want unexpected", spec.AutoRestart)
	}
	if len(spec.ExitCodes) != 1 || spec.ExitCodes[0] != 0 {
		t.Errorf("ExitCodes = %v, want [0]", spec.ExitCodes)
	}
	if spec.StartTime != 1*time.Second {
		t.Errorf("StartTime = %v, want 1s", spec.StartTime)
	}
	if spec.StartRetries != 3 {
		t.Errorf("StartRetries = %d, want 3", spec.StartRetries)
	}
	if spec.StopTime != 10*time.Second {
		t.Errorf("StopTime = %v, want 10s", spec.StopTime)
	}
	if spec.StopSignal != syscall.SIGTERM {
		t.Errorf("StopSignal = %v, want SIGTERM", spec.StopSignal)
	}
	if spec.Umask != -1 {
		t.Errorf("Umask = %d, want -1 (unset)", spec.Umask)
	}
	if spec.Stdout.Kind != SinkDiscard || spec.Stderr.Kind != SinkDiscard {
		t.Errorf("sinks = %v/%v, want discard/discard", spec.Stdout, spec.Stderr)
	}
}

func TestParse_ExplicitFields(t *testing.T) {
	cfg, err := Parse([]byte(`
programs:
  worker:
    command: ["/bin/worker", "-q", "jobs"]
    numprocs: 4
    autostart: false
    autorestart: always
    exitcodes: [0, 2]
    starttime: 5
    startretries: 1
    stoptime: 3
    stopsignal: USR1
    workingdir: /srv/worker
    umask: "022"
    env:
      PATH: /usr/bin
      LANG: C
    stdout: { file: /var/log/worker.out, mode: append }
    stderr: inherit
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	spec := cfg.Programs["worker"]
	if spec.NumProcs != 4 {
		t.Errorf("NumProcs = %d, want 4", spec.NumProcs)
	}
	if spec.AutoStart {
		t.Error("AutoStart = true, want false")
	}
	if spec.AutoRestart != RestartAlways {
		t.Errorf("AutoRestart = %v, want always", spec.AutoRestart)
	}
	if !spec.ExpectedExit(2) || spec.ExpectedExit(1) {
		t.Errorf("ExitCodes = %v, want expected {0,2}", spec.ExitCodes)
	}
	if spec.StartTime != 5*time.Second {
		t.Errorf("StartTime = %v, want 5s", spec.StartTime)
	}
	if spec.StopSignal != syscall.SIGUSR1 {
		t.Errorf("StopSignal = %v, want SIGUSR1", spec.StopSignal)
	}
	if spec.WorkingDir != "/srv/worker" {
		t.Errorf("WorkingDir = %q, want /srv/worker", spec.WorkingDir)
	}
	if spec.Umask != 0o022 {
		t.Errorf("Umask = %o, want 022", spec.Umask)
	}
	if spec.Env["LANG"] != "C" {
		t.Errorf("Env[LANG] = %q, want C", spec.Env["LANG"])
	}
	if spec.Stdout.Kind != SinkFile || spec.Stdout.Path != "/var/log/worker.out" || spec.Stdout.Mode != SinkAppend {
		t.Errorf("Stdout = %v, want file(/var/log/worker.out,append)", spec.Stdout)
	}
	if spec.Stderr.Kind != SinkInherit {
		t.Errorf("Stderr = %v, want inherit", spec.Stderr)
	}
}

func TestParse_CombinedSink(t *testing.T) {
	cfg, err := Parse([]byte(`
programs:
  app:
    command: /bin/app
    stdout: { combined: /var/log/app.log, mode: append }
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	spec := cfg.Programs["app"]
	if spec.Stdout.Kind != SinkCombined || spec.Stdout.Path != "/var/log/app.log" {
		t.Errorf("Stdout = %v, want combined(/var/log/app.log,append)", spec.Stdout)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name: "unknown field",
			yaml: `
programs:
  x:
    command: /bin/x
    bogus: 1
`,
			wantErr: nil, // ParseError, checked below
		},
		{
			name:    "no programs",
			yaml:    `programs: {}`,
			wantErr: ErrNoPrograms,
		},
		{
			name: "empty command",
			yaml: `
programs:
  x:
    command: ""
`,
			wantErr: ErrNoCommand,
		},
		{
			name: "zero numprocs",
			yaml: `
programs:
  x:
    command: /bin/x
    numprocs: 0
`,
			wantErr: ErrBadNumProcs,
		},
		{
			name: "bad autorestart",
			yaml: `
programs:
  x:
    command: /bin/x
    autorestart: sometimes
`,
		},
		{
			name: "bad signal",
			yaml: `
programs:
  x:
    command: /bin/x
    stopsignal: NOPE
`,
		},
		{
			name: "bad umask",
			yaml: `
programs:
  x:
    command: /bin/x
    umask: "999"
`,
			wantErr: ErrBadUmask,
		},
		{
			name: "negative starttime",
			yaml: `
programs:
  x:
    command: /bin/x
    starttime: -1
`,
			wantErr: ErrNegativeTime,
		},
		{
			name: "combined on stderr",
			yaml: `
programs:
  x:
    command: /bin/x
    stderr: { combined: /tmp/x.log }
`,
			wantErr: ErrBadSink,
		},
		{
			name: "combined stdout with explicit stderr",
			yaml: `
programs:
  x:
    command: /bin/x
    stdout: { combined: /tmp/x.log }
    stderr: inherit
`,
			wantErr: ErrBadSink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v in chain", err, tt.wantErr)
			}
		})
	}
}

func TestParse_ErrorKinds(t *testing.T) {
	// Decode failures are ParseError; field failures are ValidationError.
	_, err := Parse([]byte("programs: ["))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Errorf("malformed yaml error = %T, want *ParseError", err)
	}

	_, err = Parse([]byte("programs:\n  x:\n    command: /bin/x\n    numprocs: 0\n"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("bad field error = %T, want *ValidationError", err)
	}
	if ve != nil && ve.Program != "x" {
		t.Errorf("ValidationError.Program = %q, want x", ve.Program)
	}
}
