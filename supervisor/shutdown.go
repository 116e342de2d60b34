package supervisor

import (
	"golang.org/x/sys/unix"
)

// beginShutdown transitions every non-terminal worker toward STOPPED using
// its program's stop signal and grace period. The loop keeps draining exit
// events; Run returns once the last worker is terminal.
func (c *Core) beginShutdown() {
	if c.shuttingDown {
		return
	}
	c.shuttingDown = true
	c.logger.Info("shutdown: stopping all workers")

	for _, w := range c.workers {
		switch w.State {
		case StateStarting, StateRunning, StateBackoff:
			c.stopWorker(w)
		}
	}
}

// killAll escalates the shutdown: every still-live child group gets SIGKILL
// immediately. Invoked by a second SIGINT/SIGTERM.
func (c *Core) killAll() {
	for _, w := range c.workers {
		if w.HasProcess() && w.PID > 0 {
			c.logger.Event("%s killing pid %d", w.Label(), w.PID)
			if err := c.launcher.Signal(w.PID, unix.SIGKILL); err != nil {
				c.logger.Error("%s kill failed: %v", w.Label(), err)
			}
		}
	}
}

// finishShutdown releases REPL callers blocked on the shutdown command.
func (c *Core) finishShutdown() {
	c.logger.Info("shutdown complete")
	for _, reply := range c.shutdownWait {
		reply <- Result{Text: "shutdown complete"}
	}
	c.shutdownWait = nil
}
