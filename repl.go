package netmangle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Repl is the interactive console: single-letter commands applied to
// both directions of the link. It prints a prompt only when the output
// is a terminal, so piped input stays clean.
type Repl struct {
	emulator *Emulator
	input    io.Reader
	output   io.Writer
	isTTY    bool
}

// NewRepl builds a console over stdin and stdout.
func NewRepl(em *Emulator) *Repl {
	return &Repl{
		emulator: em,
		input:    os.Stdin,
		output:   os.Stdout,
		isTTY:    term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Run reads commands until EOF or quit:
//
//	b <bits_per_second>  set the bandwidth ceiling
//	r <rtt_ms>           set the delay from a round-trip figure
//	l <loss_per_10000>   set the loss probability
//	q | quit             exit
//
// Unrecognized input prints the usage line and continues.
func (r *Repl) Run() {
	scanner := bufio.NewScanner(r.input)
	for {
		if r.isTTY {
			fmt.Fprint(r.output, "netmangle> ")
		}
		if !scanner.Scan() {
			return
		}
		if !r.dispatch(scanner.Text()) {
			return
		}
	}
}

// dispatch handles one input line. Returns false on quit.
func (r *Repl) dispatch(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	cmd := fields[0]
	if cmd == "q" || cmd == "quit" {
		return false
	}

	if len(fields) != 2 {
		r.usage()
		return true
	}
	value, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		r.usage()
		return true
	}

	switch cmd {
	case "b":
		r.emulator.SetBandwidthBoth(value)
		fmt.Fprintf(r.output, "bandwidth set to %d bps\n", value)
	case "r":
		// Historical unit quirk, kept for operator muscle memory: the
		// RTT figure is split per direction in units of half a second,
		// so "r 100" yields a 50,000 ms one-way delay, not 50 ms.
		delay := value * 1000 / 2
		r.emulator.SetDelayMillisBoth(delay)
		fmt.Fprintf(r.output, "delay set to %d ms per direction\n", delay)
	case "l":
		r.emulator.SetLossBoth(value)
		fmt.Fprintf(r.output, "loss set to %d/10000\n", value)
	default:
		r.usage()
	}
	return true
}

func (r *Repl) usage() {
	fmt.Fprintln(r.output,
		"commands: b <bps> | r <rtt_ms> | l <loss_per_10000> | q")
}
