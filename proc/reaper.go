package proc

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"taskmaster/clock"
)

// Reaper turns SIGCHLD into exit events. The signal handler itself does no
// work: deliveries land in a 1-buffered channel and the reaper goroutine
// drains every terminated child with a non-blocking wait. A single SIGCHLD
// may stand for several deaths, so each wake loops until the kernel has
// nothing left to report.
type Reaper struct {
	sched  clock.Scheduler
	sigCh  chan os.Signal
	events chan ExitEvent
	stop   chan struct{}
	done   chan struct{}
}

// NewReaper creates a reaper; Start arms it.
func NewReaper(sched clock.Scheduler) *Reaper {
	return &Reaper{
		sched:  sched,
		sigCh:  make(chan os.Signal, 1),
		events: make(chan ExitEvent, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events is the exit event stream consumed by the supervisor core.
func (r *Reaper) Events() <-chan ExitEvent {
	return r.events
}

// Start subscribes to SIGCHLD and begins reaping.
func (r *Reaper) Start() {
	signal.Notify(r.sigCh, unix.SIGCHLD)
	go r.loop()
}

// Stop unsubscribes and waits for the reap goroutine to finish. A final
// drain pass catches children that died during shutdown.
func (r *Reaper) Stop() {
	signal.Reset(unix.SIGCHLD)
	close(r.stop)
	<-r.done
}

func (r *Reaper) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.sigCh:
			r.drain()
		case <-r.stop:
			r.drain()
			return
		}
	}
}

// drain reaps until wait reports no more terminated children.
func (r *Reaper) drain() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD, err != nil, pid <= 0:
			return
		}

		ev := ExitEvent{PID: pid, At: r.sched.Now()}
		if status.Signaled() {
			ev.Signaled = true
			ev.Code = int(status.Signal())
		} else {
			ev.Code = status.ExitStatus()
		}
		r.events <- ev
	}
}
