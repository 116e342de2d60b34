package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint digests the fields that shape the child process image:
// command, environment, working directory, umask, stop signal, and stream
// bindings. Monitoring-only fields (autostart, autorestart, exitcodes,
// startretries, starttime, stoptime) are excluded, as is numprocs: replica
// count changes are applied structurally by the reconciler without touching
// survivors.
//
// Two specs with equal fingerprints are interchangeable for a worker that is
// already running; a fingerprint change forces a respawn.
func (p *ProgramSpec) Fingerprint() string {
	var b strings.Builder

	writeList := func(tag string, items []string) {
		b.WriteString(tag)
		b.WriteByte('=')
		for _, it := range items {
			b.WriteString(it)
			b.WriteByte(0)
		}
		b.WriteByte('\n')
	}

	writeList("command", p.Command)

	env := make([]string, 0, len(p.Env))
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	writeList("env", env)

	fmt.Fprintf(&b, "workingdir=%s\n", p.WorkingDir)
	fmt.Fprintf(&b, "umask=%d\n", p.Umask)
	fmt.Fprintf(&b, "stopsignal=%d\n", int(p.StopSignal))
	fmt.Fprintf(&b, "stdout=%s\n", p.Stdout)
	fmt.Fprintf(&b, "stderr=%s\n", p.Stderr)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
