package supervisor

import (
	"fmt"
	"time"

	"taskmaster/config"
	"taskmaster/proc"
)

// State is one worker's lifecycle position.
type State int

const (
	// StateStopped: no process, not asked to run.
	StateStopped State = iota
	// StateStarting: spawned, inside the startup grace window.
	StateStarting
	// StateRunning: survived the grace window.
	StateRunning
	// StateBackoff: a start attempt failed; waiting to retry.
	StateBackoff
	// StateStopping: stop signal sent, waiting for the exit.
	StateStopping
	// StateExited: process ended on its own and policy said stay down.
	StateExited
	// StateFatal: start attempts exhausted.
	StateFatal
	// StateUnknown: bookkeeping lost track (never expected).
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateBackoff:
		return "BACKOFF"
	case StateStopping:
		return "STOPPING"
	case StateExited:
		return "EXITED"
	case StateFatal:
		return "FATAL"
	}
	return "UNKNOWN"
}

type workerKey struct {
	program string
	replica int
}

// Worker is one replica of one program: the unit of state-machine
// ownership. All fields are owned by the core's event loop; nothing else
// reads or writes them.
type Worker struct {
	Program string
	Replica int
	Spec    *config.ProgramSpec

	State         State
	PID           int
	SpawnID       string
	StartAttempts int

	// Monotonic readings.
	SpawnedAt  time.Duration
	StateSince time.Duration

	LastExit *proc.ExitEvent

	// stopRequested suppresses autorestart: the operator (or shutdown)
	// wants this worker down.
	stopRequested bool
	// removeOnStop deletes the record once a terminal state is reached
	// (program removed or numprocs shrunk).
	removeOnStop bool
	// restartPending re-starts the worker as soon as the stop completes.
	restartPending bool
}

func newWorker(spec *config.ProgramSpec, replica int, now time.Duration) *Worker {
	return &Worker{
		Program:    spec.Name,
		Replica:    replica,
		Spec:       spec,
		State:      StateStopped,
		StateSince: now,
	}
}

func (w *Worker) key() workerKey {
	return workerKey{program: w.Program, replica: w.Replica}
}

// Label renders the worker for logs and status: "name" for single-replica
// programs, "name:index" otherwise.
func (w *Worker) Label() string {
	if w.Spec.NumProcs > 1 {
		return fmt.Sprintf("%s:%d", w.Program, w.Replica)
	}
	return w.Program
}

// Terminal reports whether the worker holds no process and no timer and
// will stay that way until commanded.
func (w *Worker) Terminal() bool {
	return w.State == StateStopped || w.State == StateExited || w.State == StateFatal
}

// HasProcess reports whether a live child may exist for this worker.
func (w *Worker) HasProcess() bool {
	return w.State == StateStarting || w.State == StateRunning || w.State == StateStopping
}

// shouldRestart applies the autorestart policy to an exit observed in
// RUNNING.
func (w *Worker) shouldRestart(ev proc.ExitEvent) bool {
	if w.stopRequested {
		return false
	}
	switch w.Spec.AutoRestart {
	case config.RestartAlways:
		return true
	case config.RestartNever:
		return false
	default: // unexpected
		return ev.Signaled || !w.Spec.ExpectedExit(ev.Code)
	}
}

func (w *Worker) setState(s State, now time.Duration) {
	w.State = s
	w.StateSince = now
	if !w.HasProcess() {
		w.PID = 0
	}
}
