// Package guide is the target side of the guided randomness protocol. A Go
// program that would draw a random number asks the Guide instead: the guide
// announces the call site as a STATE line, reads the decision the harness
// sends and echoes it back as an ACTION line.
package guide

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

var ErrNoDecision = errors.New("guide: no decision")

type Guide struct {
	mu   sync.Mutex
	in   *bufio.Reader
	out  io.Writer
	file *os.File
}

func New(in io.Reader, out io.Writer) *Guide {
	return &Guide{in: bufio.NewReader(in), out: out}
}

// Open connects to the harness. An empty path reads decisions from standard
// input, otherwise path is the named pipe the harness created.
func Open(path string) (*Guide, error) {
	if path == "" {
		return New(os.Stdin, os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("guide: open %s: %w", path, err)
	}
	g := New(f, os.Stdout)
	g.file = f
	return g, nil
}

func (g *Guide) Close() error {
	if g.file == nil {
		return nil
	}
	return g.file.Close()
}

// Int returns a decision in [0, n). A non-positive n announces no range and
// leaves the bound to the harness.
func (g *Guide) Int(n int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n <= 0 {
		n = -1
	}
	g.state(n, Signature(3))
	line, err := g.decision()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("guide: decision %q: %w", line, err)
	}
	fmt.Fprintf(g.out, "ACTION %d\n", v)
	return v, nil
}

// Float returns a decision in [0, 1).
func (g *Guide) Float() (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state(0, Signature(3))
	line, err := g.decision()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("guide: decision %q: %w", line, err)
	}
	fmt.Fprintf(g.out, "ACTION %s\n", strconv.FormatFloat(v, 'g', -1, 64))
	return v, nil
}

// Coverage reports the coverage reached so far, a fraction in [0, 1].
func (g *Guide) Coverage(value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fmt.Fprintf(g.out, "COVERAGE %s\n", strconv.FormatFloat(value, 'g', -1, 64))
}

// Pass, Fail and Done end the run.
func (g *Guide) Pass() { g.line("PASS") }

func (g *Guide) Fail() { g.line("FAIL") }

func (g *Guide) Done(payload string) { g.line("DONE " + payload) }

func (g *Guide) line(s string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fmt.Fprintln(g.out, s)
}

// state announces a decision point; a negative n announces no range.
func (g *Guide) state(n int, signature string) {
	if n < 0 {
		fmt.Fprintf(g.out, "STATE %s\n", signature)
		return
	}
	fmt.Fprintf(g.out, "STATE %d %s\n", n, signature)
}

func (g *Guide) decision() (string, error) {
	line, err := g.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("%w: %v", ErrNoDecision, err)
	}
	return line, nil
}

// Signature renders the call stack as runtime.Callers(skip) sees it, as
// "function.line;" entries with the innermost first. Runtime frames are left
// out.
func Signature(skip int) string {
	pc := make([]uintptr, 32)
	n := runtime.Callers(skip, pc)
	frames := runtime.CallersFrames(pc[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "%s.%d;", frame.Function, frame.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}
