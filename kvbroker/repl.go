package kvbroker

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jimsnab/go-kvmesh/kvvalue"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// RunRepl drives the broker's stdin command loop (spec.md 6): GET, DELETE,
// QUERY, plus the supplemented CALC and STATS. prompt is only written when
// showPrompt is true, so a piped/redirected stdin (showPrompt false,
// decided by the caller via golang.org/x/term) doesn't clutter captured
// output. It returns on EOF or a read error, mirroring the teacher's
// exit-on-EOF REPL shape.
func (b *Broker) RunRepl(in io.Reader, out io.Writer, showPrompt bool) error {
	scanner := bufio.NewScanner(in)

	for {
		if showPrompt {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		b.RefreshActive()
		b.runCommand(line, out)
	}
}

func (b *Broker) runCommand(line string, out io.Writer) {
	cmd, arg := kvvalue.SplitCommand(line)
	cmd = upper.String(cmd)

	if arg == "" && cmd != "STATS" {
		fmt.Fprintln(out, "ERROR: Invalid command format. Expected: <COMMAND> <key>")
		return
	}

	switch cmd {
	case "GET":
		reply, degraded, err := b.Get(arg)
		b.printRead(reply, degraded, err, out)

	case "QUERY":
		reply, degraded, err := b.Query(arg)
		b.printRead(reply, degraded, err, out)

	case "DELETE":
		b.runDelete(arg, out)

	case "CALC":
		idx := strings.IndexByte(arg, ':')
		if idx < 0 {
			fmt.Fprintln(out, "ERROR: Invalid command format. Expected: CALC key : expression")
			return
		}
		key := kvvalue.TrimQuotes(arg[:idx])
		expr := strings.TrimSpace(arg[idx+1:])
		reply, degraded, err := b.Calc(key, expr)
		b.printRead(reply, degraded, err, out)

	case "STATS":
		total, queried := b.Stats()
		fmt.Fprintf(out, "COUNT %d (%d server(s) reporting)\n", total, queried)

	default:
		fmt.Fprintf(out, "ERROR: Unknown command %q\n", cmd)
	}
}

func (b *Broker) printRead(reply string, degraded bool, err error, out io.Writer) {
	if err != nil {
		fmt.Fprintf(out, "ERROR: %s\n", err.Error())
		return
	}
	if degraded {
		// Empty reply, per spec.md 4.4: a degraded read prints nothing but
		// the warning already went to the lane.
		return
	}
	if reply == "NOT FOUND" || reply == "" {
		return
	}
	fmt.Fprintln(out, reply)
}

func (b *Broker) runDelete(key string, out io.Writer) {
	if b.ActiveCount() < b.InitialCount() {
		fmt.Fprintln(out, "WARNING: Cannot guarantee consistent deletion when some servers are down.")
		return
	}

	removed, err := b.Delete(key)
	if err != nil {
		fmt.Fprintf(out, "ERROR: %s\n", err.Error())
		return
	}
	if !removed {
		fmt.Fprintln(out, "ERROR: key not found")
	}
}
