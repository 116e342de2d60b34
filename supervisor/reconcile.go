package supervisor

import (
	"fmt"

	"taskmaster/config"
)

// reconcile moves the managed worker set to match newCfg with the minimum
// process churn. Programs are classified as added, removed, or common;
// common programs respawn only when their fingerprint (the process-image
// fields) changed. Reloading an identical configuration is a no-op.
//
// Removals are non-blocking: a live worker is told to stop and its record
// is deleted by the exit handler once it lands in a terminal state.
func (c *Core) reconcile(newCfg *config.Config) string {
	current := c.cfg
	var added, removed, respawned, unchanged int

	// Added programs.
	for name, spec := range newCfg.Programs {
		if _, ok := current.Programs[name]; ok {
			continue
		}
		added++
		c.addProgram(spec)
	}

	// Removed programs.
	for name := range current.Programs {
		if _, ok := newCfg.Programs[name]; ok {
			continue
		}
		removed++
		for _, w := range c.programWorkers(name) {
			c.retireWorker(w)
		}
	}

	// Common programs.
	for name, newSpec := range newCfg.Programs {
		oldSpec, ok := current.Programs[name]
		if !ok {
			continue
		}

		respawn := oldSpec.Fingerprint() != newSpec.Fingerprint()
		if respawn {
			respawned++
		} else {
			unchanged++
		}

		// Swap the spec in place; monitoring-only changes take effect
		// without touching the process.
		for _, w := range c.programWorkers(name) {
			w.Spec = newSpec
		}

		if respawn {
			for _, w := range c.programWorkers(name) {
				if w.Terminal() {
					continue
				}
				w.restartPending = true
				c.stopWorker(w)
			}
		}

		// Replica count changes are structural, not respawns.
		if newSpec.NumProcs > oldSpec.NumProcs {
			for i := oldSpec.NumProcs; i < newSpec.NumProcs; i++ {
				w := newWorker(newSpec, i, c.sched.Now())
				c.workers[w.key()] = w
				if newSpec.AutoStart {
					c.startWorker(w)
				}
			}
		} else if newSpec.NumProcs < oldSpec.NumProcs {
			// Highest indices go first.
			for _, w := range c.programWorkers(name) {
				if w.Replica >= newSpec.NumProcs {
					c.retireWorker(w)
				}
			}
		}
	}

	c.cfg = newCfg
	return fmt.Sprintf("%d added, %d removed, %d respawned, %d unchanged",
		added, removed, respawned, unchanged)
}

// addProgram creates the worker records for a new program and starts them
// when autostart asks for it.
func (c *Core) addProgram(spec *config.ProgramSpec) {
	for i := 0; i < spec.NumProcs; i++ {
		w := newWorker(spec, i, c.sched.Now())
		c.workers[w.key()] = w
		if spec.AutoStart {
			c.startWorker(w)
		}
	}
}

// retireWorker removes a worker from management: immediately when terminal,
// otherwise after its stop completes.
func (c *Core) retireWorker(w *Worker) {
	w.removeOnStop = true
	w.restartPending = false
	if w.Terminal() {
		c.maybeRemove(w)
		return
	}
	c.stopWorker(w)
}
