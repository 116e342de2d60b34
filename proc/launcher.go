package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"taskmaster/config"
)

// SpawnSpec is one fully resolved spawn request.
type SpawnSpec struct {
	Program *config.ProgramSpec
	Replica int
}

// ExecLauncher spawns real OS processes. It must only be driven from the
// supervisor core's single goroutine: the umask window around StartProcess
// relies on spawns being serialized.
type ExecLauncher struct{}

// NewExecLauncher creates the real launcher.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Spawn forks and execs one replica. The child is placed in a fresh process
// group (pgid = its own pid), receives exactly the spec's environment, and
// has fds 0/1/2 bound to /dev/null and the configured sinks.
func (l *ExecLauncher) Spawn(spec SpawnSpec) (Handle, error) {
	p := spec.Program

	path, err := exec.LookPath(p.Command[0])
	if err != nil {
		return Handle{}, &SpawnError{Kind: SpawnExecFailed, Program: p.Name, Replica: spec.Replica, Err: err}
	}

	sinks, err := OpenSinks(p)
	if err != nil {
		return Handle{}, &SpawnError{Kind: SpawnSinkFailed, Program: p.Name, Replica: spec.Replica, Err: err}
	}
	defer sinks.Close()

	stdin, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		return Handle{}, &SpawnError{Kind: SpawnSinkFailed, Program: p.Name, Replica: spec.Replica, Err: err}
	}
	defer stdin.Close()

	env := make([]string, 0, len(p.Env))
	for k, v := range p.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	attr := &os.ProcAttr{
		Dir:   p.WorkingDir,
		Env:   env,
		Files: []*os.File{stdin, sinks.Stdout, sinks.Stderr},
		Sys: &syscall.SysProcAttr{
			// New process group with the child as leader, so stop signals
			// and the kill escalation reach descendants too.
			Setpgid: true,
		},
	}

	if p.Umask >= 0 {
		old := unix.Umask(p.Umask)
		defer unix.Umask(old)
	}

	child, err := os.StartProcess(path, p.Command, attr)
	if err != nil {
		return Handle{}, &SpawnError{Kind: classifyStartError(err), Program: p.Name, Replica: spec.Replica, Err: err}
	}

	// The reaper owns the wait; drop the handle without waiting on it.
	pid := child.Pid
	child.Release()

	return Handle{PID: pid, SpawnID: uuid.New().String()}, nil
}

// Signal delivers sig to the child's process group. A negative pid target
// addresses the whole group.
func (l *ExecLauncher) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("no live process")
	}
	return unix.Kill(-pid, sig)
}

// classifyStartError separates "could not create the child" from "the child
// could not become the command".
func classifyStartError(err error) SpawnErrorKind {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM) {
		return SpawnForkFailed
	}
	return SpawnExecFailed
}
