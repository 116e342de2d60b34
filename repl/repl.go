// Package repl implements the interactive control plane: a strictly
// line-oriented command reader on the controlling terminal. Every line is
// tokenized, validated, and posted to the supervisor core; the reply is
// printed before the next prompt. On EOF or exit/quit the REPL posts a
// shutdown command and returns once the core confirms.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"taskmaster/supervisor"
)

const usage = "commands: status [name] | start <name> | stop <name> | restart <name> | reload | history [name] | exit"

// Commander is the slice of the core the REPL needs.
type Commander interface {
	Post(verb, arg string) supervisor.Result
}

// REPL reads commands from in and writes replies to out.
type REPL struct {
	core   Commander
	in     io.Reader
	out    io.Writer
	prompt string
}

// New creates a REPL bound to a command surface.
func New(core Commander, in io.Reader, out io.Writer) *REPL {
	return &REPL{core: core, in: in, out: out, prompt: "taskmaster> "}
}

// Run serves commands until exit/quit or EOF, then shuts the supervisor
// down and returns.
func (r *REPL) Run() {
	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, r.prompt)
		if !scanner.Scan() {
			// EOF behaves like exit.
			fmt.Fprintln(r.out)
			r.shutdown()
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		verb, args := fields[0], fields[1:]
		switch verb {
		case "exit", "quit":
			r.shutdown()
			return

		case "status", "history":
			arg := ""
			if len(args) > 1 {
				fmt.Fprintln(r.out, usage)
				continue
			}
			if len(args) == 1 {
				arg = args[0]
			}
			r.post(verb, arg)

		case "start", "stop", "restart":
			if len(args) != 1 {
				fmt.Fprintln(r.out, usage)
				continue
			}
			r.post(verb, args[0])

		case "reload":
			if len(args) != 0 {
				fmt.Fprintln(r.out, usage)
				continue
			}
			r.post(verb, "")

		case "help":
			fmt.Fprintln(r.out, usage)

		default:
			fmt.Fprintln(r.out, usage)
		}
	}
}

func (r *REPL) post(verb, arg string) {
	res := r.core.Post(verb, arg)
	if res.Err != nil {
		fmt.Fprintf(r.out, "error: %v\n", res.Err)
		return
	}
	if res.Text != "" {
		fmt.Fprintln(r.out, res.Text)
	}
}

func (r *REPL) shutdown() {
	res := r.core.Post("shutdown", "")
	if res.Err != nil {
		fmt.Fprintf(r.out, "error: %v\n", res.Err)
		return
	}
	fmt.Fprintln(r.out, res.Text)
}
