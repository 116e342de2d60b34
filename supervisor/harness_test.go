package supervisor

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"taskmaster/clock"
	"taskmaster/config"
	"taskmaster/log"
	"taskmaster/proc"
)

// fakeLauncher hands out fake pids and records every spawn and signal, so
// tests can assert process churn without forking anything.
type fakeLauncher struct {
	mu      sync.Mutex
	nextPID int
	spawns  []fakeSpawn
	signals []fakeSignal
	// failing maps program names to a spawn error kind.
	failing map[string]proc.SpawnErrorKind
}

type fakeSpawn struct {
	program string
	replica int
	pid     int
	command []string
}

type fakeSignal struct {
	pid int
	sig syscall.Signal
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 1000, failing: make(map[string]proc.SpawnErrorKind)}
}

func (f *fakeLauncher) Spawn(spec proc.SpawnSpec) (proc.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if kind, ok := f.failing[spec.Program.Name]; ok {
		return proc.Handle{}, &proc.SpawnError{
			Kind: kind, Program: spec.Program.Name, Replica: spec.Replica,
			Err: errors.New("injected failure"),
		}
	}

	f.nextPID++
	f.spawns = append(f.spawns, fakeSpawn{
		program: spec.Program.Name,
		replica: spec.Replica,
		pid:     f.nextPID,
		command: append([]string(nil), spec.Program.Command...),
	})
	return proc.Handle{PID: f.nextPID, SpawnID: fmt.Sprintf("spawn-%d", f.nextPID)}, nil
}

func (f *fakeLauncher) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fakeSignal{pid: pid, sig: sig})
	return nil
}

func (f *fakeLauncher) failWith(program string, kind proc.SpawnErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[program] = kind
}

func (f *fakeLauncher) heal(program string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failing, program)
}

func (f *fakeLauncher) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawns)
}

func (f *fakeLauncher) lastSpawn() fakeSpawn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns[len(f.spawns)-1]
}

func (f *fakeLauncher) signalsFor(pid int) []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []syscall.Signal
	for _, s := range f.signals {
		if s.pid == pid {
			out = append(out, s.sig)
		}
	}
	return out
}

func (f *fakeLauncher) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

// harness runs a core against the fake launcher and fake clock.
type harness struct {
	t        *testing.T
	launcher *fakeLauncher
	sched    *clock.FakeScheduler
	exits    chan proc.ExitEvent
	sigs     chan os.Signal
	logs     *log.MemoryLogger
	core     *Core

	mu        sync.Mutex
	reloadCfg *config.Config
	reloadErr error
}

func mustConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return cfg
}

func newHarness(t *testing.T, doc string) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		launcher: newFakeLauncher(),
		sched:    clock.NewFakeScheduler(),
		exits:    make(chan proc.ExitEvent, 64),
		sigs:     make(chan os.Signal, 8),
		logs:     log.NewMemoryLogger(),
	}

	cfg := mustConfig(t, doc)
	h.core = NewCore(Options{
		Config: cfg,
		LoadConfig: func() (*config.Config, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.reloadErr != nil {
				return nil, h.reloadErr
			}
			if h.reloadCfg != nil {
				return h.reloadCfg, nil
			}
			return cfg, nil
		},
		Launcher:  h.launcher,
		Scheduler: h.sched,
		Exits:     h.exits,
		Signals:   h.sigs,
		Logger:    h.logs,
	})
	go h.core.Run()
	h.settle()
	return h
}

// setReload controls what the next reload command loads.
func (h *harness) setReload(cfg *config.Config, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadCfg = cfg
	h.reloadErr = err
}

// settle waits until the loop has drained every event queued before the
// call. Two round-trips: the first may overtake an in-flight event, the
// loop then services all pending exits and timers before taking the second.
func (h *harness) settle() {
	h.core.Snapshot()
	h.core.Snapshot()
}

// exit injects a reaped exit event and settles.
func (h *harness) exit(pid, code int) {
	h.exits <- proc.ExitEvent{PID: pid, Code: code, At: h.sched.Now()}
	h.settle()
}

// killed injects a death-by-signal event and settles.
func (h *harness) killed(pid int, sig syscall.Signal) {
	h.exits <- proc.ExitEvent{PID: pid, Signaled: true, Code: int(sig), At: h.sched.Now()}
	h.settle()
}

// advance moves the fake clock and settles.
func (h *harness) advance(d time.Duration) {
	h.sched.Advance(d)
	h.settle()
}

// worker fetches one worker's status; fails the test if it does not exist.
func (h *harness) worker(program string, replica int) WorkerStatus {
	h.t.Helper()
	for _, ws := range h.core.Snapshot() {
		if ws.Program == program && ws.Replica == replica {
			return ws
		}
	}
	h.t.Fatalf("no worker %s:%d", program, replica)
	return WorkerStatus{}
}

// hasWorker reports whether a worker record exists.
func (h *harness) hasWorker(program string, replica int) bool {
	for _, ws := range h.core.Snapshot() {
		if ws.Program == program && ws.Replica == replica {
			return true
		}
	}
	return false
}
