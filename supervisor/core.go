// Package supervisor contains the supervision engine: the per-worker state
// machine, the serialized event loop that owns every worker record, the
// reconciler that maps configuration deltas onto minimal process churn, and
// the shutdown coordinator.
//
// # Concurrency model
//
// The core runs one goroutine. Three event sources feed it: exit events from
// the reaper, timer expirations from the scheduler, and commands from the
// control plane (the OS signal pump rides the command priority). Per loop
// iteration the core services exits before timers and timers before
// commands, so a freshly dead child is always observed before a status or
// start command that arrived after the death.
//
// Nothing outside the loop ever touches a Worker. The reaper and REPL hold
// only channels.
package supervisor

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"taskmaster/clock"
	"taskmaster/config"
	"taskmaster/history"
	"taskmaster/log"
	"taskmaster/proc"
	"taskmaster/util"
)

// defaultBackoff is the delay between failed start attempts. Constant, which
// trivially satisfies the non-decreasing requirement.
const defaultBackoff = 1 * time.Second

// historyLimit bounds REPL history output.
const historyLimit = 20

// Journal is the slice of the history database the core writes to and the
// REPL reads through. A nil journal disables recording.
type Journal interface {
	SpawnStarted(rec *history.SpawnRecord) error
	SpawnFinished(spawnID, exitKind string, exitCode int, endTime time.Time) error
	Recent(program string, limit int) ([]*history.SpawnRecord, error)
}

// Result is the textual outcome of one control command.
type Result struct {
	Text string
	Err  error
}

type command struct {
	verb  string
	arg   string
	reply chan Result
}

// Options wires a Core. Config, Launcher, Scheduler, and Exits are
// mandatory; the rest default to inert implementations.
type Options struct {
	Config     *config.Config
	LoadConfig func() (*config.Config, error)
	Launcher   proc.Launcher
	Scheduler  clock.Scheduler
	Exits      <-chan proc.ExitEvent
	Signals    <-chan os.Signal
	Journal    Journal
	Logger     log.LibraryLogger
	Backoff    time.Duration
}

// Core owns the worker set and serializes every mutation through its event
// loop.
type Core struct {
	cfg        *config.Config
	loadConfig func() (*config.Config, error)
	workers    map[workerKey]*Worker
	launcher   proc.Launcher
	sched      clock.Scheduler
	exits      <-chan proc.ExitEvent
	sigs       <-chan os.Signal
	cmds       chan command
	journal    Journal
	logger     log.LibraryLogger
	backoff    time.Duration

	shuttingDown bool
	shutdownWait []chan Result
	snapshots    chan chan []WorkerStatus
	done         chan struct{}
}

// WorkerStatus is a point-in-time copy of one worker's externally visible
// state, taken inside the event loop.
type WorkerStatus struct {
	Program       string
	Replica       int
	NumProcs      int
	State         State
	PID           int
	StartAttempts int
	// TimeInState is how long the worker has been in its current state.
	TimeInState time.Duration
}

// NewCore builds a core; Run starts it.
func NewCore(opts Options) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Core{
		cfg:        opts.Config,
		loadConfig: opts.LoadConfig,
		workers:    make(map[workerKey]*Worker),
		launcher:   opts.Launcher,
		sched:      opts.Scheduler,
		exits:      opts.Exits,
		sigs:       opts.Signals,
		cmds:       make(chan command),
		journal:    opts.Journal,
		logger:     logger,
		backoff:    backoff,
		snapshots:  make(chan chan []WorkerStatus),
		done:       make(chan struct{}),
	}
}

// Done closes when the core has fully shut down.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// Post submits one control command and waits for its result. Safe to call
// from any goroutine.
func (c *Core) Post(verb, arg string) Result {
	cmd := command{verb: verb, arg: arg, reply: make(chan Result, 1)}
	select {
	case c.cmds <- cmd:
		return <-cmd.reply
	case <-c.done:
		return Result{Err: fmt.Errorf("supervisor is down")}
	}
}

// Run executes the event loop until shutdown completes. The initial
// configuration is applied as a reconcile against an empty worker set.
func (c *Core) Run() {
	defer close(c.done)

	initial := c.cfg
	c.cfg = &config.Config{Programs: map[string]*config.ProgramSpec{}}
	c.reconcile(initial)

	for {
		if c.shuttingDown && c.allTerminal() {
			c.finishShutdown()
			return
		}

		// Exits preempt everything else observed in the same iteration.
		select {
		case ev := <-c.exits:
			c.onExit(ev)
			continue
		default:
		}

		// Then timers.
		select {
		case ev := <-c.exits:
			c.onExit(ev)
			continue
		case f := <-c.sched.Fires():
			c.onTimer(f)
			continue
		default:
		}

		select {
		case ev := <-c.exits:
			c.onExit(ev)
		case f := <-c.sched.Fires():
			c.onTimer(f)
		case cmd := <-c.cmds:
			c.onCommand(cmd)
		case sig := <-c.sigs:
			c.onSignal(sig)
		case ch := <-c.snapshots:
			ch <- c.snapshot()
		}
	}
}

// Snapshot returns a copy of every worker's visible state, serialized
// through the event loop. Safe to call from any goroutine.
func (c *Core) Snapshot() []WorkerStatus {
	ch := make(chan []WorkerStatus, 1)
	select {
	case c.snapshots <- ch:
		return <-ch
	case <-c.done:
		return nil
	}
}

func (c *Core) snapshot() []WorkerStatus {
	now := c.sched.Now()
	var out []WorkerStatus
	for _, name := range c.sortedPrograms() {
		for _, w := range c.programWorkers(name) {
			out = append(out, WorkerStatus{
				Program:       w.Program,
				Replica:       w.Replica,
				NumProcs:      w.Spec.NumProcs,
				State:         w.State,
				PID:           w.PID,
				StartAttempts: w.StartAttempts,
				TimeInState:   now - w.StateSince,
			})
		}
	}
	return out
}

// ==================== event handlers ====================

func (c *Core) onExit(ev proc.ExitEvent) {
	w := c.workerByPID(ev.PID)
	if w == nil {
		c.logger.Warn("reaped unknown pid %d (%s)", ev.PID, ev.Describe())
		return
	}

	c.logger.Info("%s pid %d exited: %s (state %s)", w.Label(), ev.PID, ev.Describe(), w.State)
	c.recordExit(w, ev)
	evCopy := ev
	w.LastExit = &evCopy

	switch w.State {
	case StateStarting:
		// Died inside the grace window: a failed start attempt.
		c.sched.Cancel(clock.Key{Program: w.Program, Replica: w.Replica, Purpose: clock.PurposeStartup})
		c.startFailed(w)

	case StateRunning:
		if w.shouldRestart(ev) && !c.shuttingDown {
			c.logger.Info("%s restarting per policy %s", w.Label(), w.Spec.AutoRestart)
			c.spawn(w)
		} else {
			w.setState(StateExited, c.sched.Now())
			c.maybeRemove(w)
		}

	case StateStopping:
		c.sched.Cancel(clock.Key{Program: w.Program, Replica: w.Replica, Purpose: clock.PurposeStop})
		w.setState(StateStopped, c.sched.Now())
		if c.maybeRemove(w) {
			return
		}
		if w.restartPending && !c.shuttingDown {
			w.restartPending = false
			c.startWorker(w)
		}

	default:
		c.logger.Warn("%s exit in unexpected state %s", w.Label(), w.State)
	}
}

func (c *Core) onTimer(f clock.Fire) {
	w := c.workers[workerKey{program: f.Key.Program, replica: f.Key.Replica}]
	if w == nil {
		return
	}

	switch f.Key.Purpose {
	case clock.PurposeStartup:
		if w.State != StateStarting {
			return
		}
		// Survived the grace window: officially up, retry budget restored.
		w.StartAttempts = 0
		w.setState(StateRunning, c.sched.Now())
		c.logger.Info("%s running (pid %d)", w.Label(), w.PID)

	case clock.PurposeStop:
		if w.State != StateStopping || w.PID == 0 {
			return
		}
		// Grace expired: escalate to SIGKILL. No further timer; the kill
		// is not refusable.
		c.logger.Event("%s stop deadline expired, killing pid %d", w.Label(), w.PID)
		if err := c.launcher.Signal(w.PID, unix.SIGKILL); err != nil {
			c.logger.Error("%s kill failed: %v", w.Label(), err)
		}

	case clock.PurposeBackoff:
		if w.State != StateBackoff {
			return
		}
		c.spawn(w)
	}
}

func (c *Core) onSignal(sig os.Signal) {
	switch sig {
	case unix.SIGINT, unix.SIGTERM:
		if c.shuttingDown {
			c.logger.Warn("second %s, killing remaining children", sig)
			c.killAll()
			return
		}
		c.logger.Info("received %s, shutting down", sig)
		c.beginShutdown()

	case unix.SIGHUP:
		res := c.reload()
		if res.Err != nil {
			c.logger.Error("reload on SIGHUP failed: %v", res.Err)
		} else {
			c.logger.Info("reload on SIGHUP: %s", res.Text)
		}
	}
}

// ==================== state machine actions ====================

// startWorker handles an explicit start: operator command, autostart, or
// the tail of a restart. Resets the retry budget.
func (c *Core) startWorker(w *Worker) {
	w.StartAttempts = 0
	w.stopRequested = false
	c.spawn(w)
}

// spawn launches one child and arms the startup grace timer. Spawn failures
// feed the same failure path as an early exit.
func (c *Core) spawn(w *Worker) {
	now := c.sched.Now()
	w.setState(StateStarting, now)

	handle, err := c.launcher.Spawn(proc.SpawnSpec{Program: w.Spec, Replica: w.Replica})
	if err != nil {
		c.logger.Error("%s: %v", w.Label(), err)
		if se, ok := err.(*proc.SpawnError); ok {
			ev := se.SyntheticExit(now)
			w.LastExit = &ev
		}
		c.startFailed(w)
		return
	}

	w.PID = handle.PID
	w.SpawnID = handle.SpawnID
	w.SpawnedAt = now
	c.logger.Event("%s spawned pid %d", w.Label(), w.PID)
	c.recordSpawn(w)

	c.sched.Arm(clock.Key{Program: w.Program, Replica: w.Replica, Purpose: clock.PurposeStartup}, w.Spec.StartTime)
}

// startFailed counts a failed start attempt and decides between another try
// and giving up.
func (c *Core) startFailed(w *Worker) {
	w.StartAttempts++
	now := c.sched.Now()

	if c.shuttingDown || w.stopRequested {
		w.setState(StateStopped, now)
		c.maybeRemove(w)
		return
	}

	if w.StartAttempts >= w.Spec.StartRetries {
		w.setState(StateFatal, now)
		c.logger.Event("%s fatal after %d start attempts", w.Label(), w.StartAttempts)
		c.maybeRemove(w)
		return
	}

	w.setState(StateBackoff, now)
	c.logger.Info("%s backoff %s (attempt %d/%d)", w.Label(), c.backoff, w.StartAttempts, w.Spec.StartRetries)
	c.sched.Arm(clock.Key{Program: w.Program, Replica: w.Replica, Purpose: clock.PurposeBackoff}, c.backoff)
}

// stopWorker initiates a graceful stop. Valid from STARTING, RUNNING, and
// BACKOFF; reports false otherwise.
func (c *Core) stopWorker(w *Worker) bool {
	now := c.sched.Now()

	switch w.State {
	case StateBackoff:
		c.sched.Cancel(clock.Key{Program: w.Program, Replica: w.Replica, Purpose: clock.PurposeBackoff})
		w.stopRequested = true
		w.setState(StateStopped, now)
		if c.maybeRemove(w) {
			return true
		}
		if w.restartPending {
			w.restartPending = false
			c.startWorker(w)
		}
		return true

	case StateStarting, StateRunning:
		c.sched.Cancel(clock.Key{Program: w.Program, Replica: w.Replica, Purpose: clock.PurposeStartup})
		w.stopRequested = true
		w.setState(StateStopping, now)
		c.logger.Event("%s stopping pid %d (SIG%s, grace %s)", w.Label(), w.PID, util.SignalName(w.Spec.StopSignal), w.Spec.StopTime)
		if err := c.launcher.Signal(w.PID, w.Spec.StopSignal); err != nil {
			c.logger.Error("%s stop signal failed: %v", w.Label(), err)
		}
		c.sched.Arm(clock.Key{Program: w.Program, Replica: w.Replica, Purpose: clock.PurposeStop}, w.Spec.StopTime)
		return true
	}
	return false
}

// maybeRemove deletes a worker record slated for removal once terminal.
func (c *Core) maybeRemove(w *Worker) bool {
	if w.removeOnStop && w.Terminal() {
		c.sched.CancelWorker(w.Program, w.Replica)
		delete(c.workers, w.key())
		c.logger.Info("%s removed", w.Label())
		return true
	}
	return false
}

// ==================== journal ====================

func (c *Core) recordSpawn(w *Worker) {
	if c.journal == nil {
		return
	}
	err := c.journal.SpawnStarted(&history.SpawnRecord{
		SpawnID:   w.SpawnID,
		Program:   w.Program,
		Replica:   w.Replica,
		PID:       w.PID,
		StartTime: time.Now(),
	})
	if err != nil {
		c.logger.Error("journal spawn: %v", err)
	}
}

func (c *Core) recordExit(w *Worker, ev proc.ExitEvent) {
	if c.journal == nil || w.SpawnID == "" {
		return
	}
	kind := "exited"
	if ev.Signaled {
		kind = "signaled"
	}
	if err := c.journal.SpawnFinished(w.SpawnID, kind, ev.Code, time.Now()); err != nil {
		c.logger.Error("journal exit: %v", err)
	}
}

// ==================== helpers ====================

func (c *Core) workerByPID(pid int) *Worker {
	for _, w := range c.workers {
		if w.PID == pid && w.HasProcess() {
			return w
		}
	}
	return nil
}

// programWorkers returns the program's workers ordered by replica index.
func (c *Core) programWorkers(name string) []*Worker {
	var out []*Worker
	for _, w := range c.workers {
		if w.Program == name {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Replica < out[j].Replica })
	return out
}

func (c *Core) allTerminal() bool {
	for _, w := range c.workers {
		if !w.Terminal() {
			return false
		}
	}
	return true
}

func (c *Core) sortedPrograms() []string {
	names := make(map[string]bool)
	for _, w := range c.workers {
		names[w.Program] = true
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ==================== commands ====================

func (c *Core) onCommand(cmd command) {
	if c.shuttingDown && cmd.verb != "status" && cmd.verb != "shutdown" {
		cmd.reply <- Result{Err: fmt.Errorf("shutting down")}
		return
	}

	switch cmd.verb {
	case "status":
		cmd.reply <- c.statusCommand(cmd.arg)
	case "start":
		cmd.reply <- c.startCommand(cmd.arg)
	case "stop":
		cmd.reply <- c.stopCommand(cmd.arg)
	case "restart":
		cmd.reply <- c.restartCommand(cmd.arg)
	case "reload":
		cmd.reply <- c.reload()
	case "history":
		cmd.reply <- c.historyCommand(cmd.arg)
	case "shutdown":
		c.beginShutdown()
		// Replied when the last worker reaches a terminal state.
		c.shutdownWait = append(c.shutdownWait, cmd.reply)
	default:
		cmd.reply <- Result{Err: fmt.Errorf("unknown command %q", cmd.verb)}
	}
}

func (c *Core) statusCommand(arg string) Result {
	var names []string
	if arg != "" {
		if len(c.programWorkers(arg)) == 0 {
			return Result{Err: fmt.Errorf("unknown program %q", arg)}
		}
		names = []string{arg}
	} else {
		names = c.sortedPrograms()
	}

	var b strings.Builder
	now := c.sched.Now()
	for _, name := range names {
		for _, w := range c.programWorkers(name) {
			fmt.Fprintf(&b, "%-24s %-9s", w.Label(), w.State)
			if w.HasProcess() {
				fmt.Fprintf(&b, " pid %-7d", w.PID)
			} else {
				fmt.Fprintf(&b, " %-11s", "")
			}
			fmt.Fprintf(&b, " uptime %-8s retries %d\n",
				util.FormatDuration(int64((now-w.StateSince)/time.Second)), w.StartAttempts)
		}
	}
	return Result{Text: strings.TrimRight(b.String(), "\n")}
}

func (c *Core) startCommand(name string) Result {
	workers := c.programWorkers(name)
	if len(workers) == 0 {
		return Result{Err: fmt.Errorf("unknown program %q", name)}
	}

	started := 0
	for _, w := range workers {
		if w.Terminal() {
			c.startWorker(w)
			started++
		}
	}
	if started == 0 {
		return Result{Err: fmt.Errorf("%s: already running", name)}
	}
	return Result{Text: fmt.Sprintf("%s: started %d worker(s)", name, started)}
}

func (c *Core) stopCommand(name string) Result {
	workers := c.programWorkers(name)
	if len(workers) == 0 {
		return Result{Err: fmt.Errorf("unknown program %q", name)}
	}

	stopped := 0
	for _, w := range workers {
		if c.stopWorker(w) {
			stopped++
		}
	}
	if stopped == 0 {
		return Result{Err: fmt.Errorf("%s: not running", name)}
	}
	return Result{Text: fmt.Sprintf("%s: stopping %d worker(s)", name, stopped)}
}

func (c *Core) restartCommand(name string) Result {
	workers := c.programWorkers(name)
	if len(workers) == 0 {
		return Result{Err: fmt.Errorf("unknown program %q", name)}
	}

	for _, w := range workers {
		if w.Terminal() {
			c.startWorker(w)
		} else {
			// The start half runs when the stop completes.
			w.restartPending = true
			c.stopWorker(w)
		}
	}
	return Result{Text: fmt.Sprintf("%s: restarting %d worker(s)", name, len(workers))}
}

func (c *Core) reload() Result {
	if c.loadConfig == nil {
		return Result{Err: fmt.Errorf("no configuration source")}
	}

	// Parse and validate fully before touching any worker: a bad file
	// leaves the running set exactly as it was.
	newCfg, err := c.loadConfig()
	if err != nil {
		return Result{Err: fmt.Errorf("reload rejected: %w", err)}
	}

	summary := c.reconcile(newCfg)
	c.logger.Info("reload applied: %s", summary)
	return Result{Text: summary}
}

func (c *Core) historyCommand(arg string) Result {
	if c.journal == nil {
		return Result{Err: fmt.Errorf("history disabled")}
	}
	recs, err := c.journal.Recent(arg, historyLimit)
	if err != nil {
		return Result{Err: err}
	}
	if len(recs) == 0 {
		return Result{Text: "no history"}
	}

	var b strings.Builder
	for _, rec := range recs {
		label := rec.Program
		if rec.Replica > 0 {
			label = fmt.Sprintf("%s:%d", rec.Program, rec.Replica)
		}
		fmt.Fprintf(&b, "%s  %-24s pid %-7d", rec.StartTime.Format("2006-01-02 15:04:05"), label, rec.PID)
		if rec.EndTime.IsZero() {
			b.WriteString(" running\n")
		} else {
			fmt.Fprintf(&b, " %s %d after %s\n", rec.ExitKind, rec.ExitCode,
				util.FormatDuration(int64(rec.EndTime.Sub(rec.StartTime)/time.Second)))
		}
	}
	return Result{Text: strings.TrimRight(b.String(), "\n")}
}
