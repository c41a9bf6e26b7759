// Package commandtest provides a scriptable command.Runner for tests.
package commandtest

import (
	"context"
	"sync"
	"time"

	"github.com/MacJediWizard/netdev-automount/internal/command"
)

// Call records one invocation of the fake runner.
type Call struct {
	Name    string
	Args    []string
	Timeout time.Duration
}

// Line returns the invocation as a single command line.
func (c Call) Line() string {
	return command.Line(c.Name, c.Args...)
}

type script struct {
	results []command.Result
	next    int
}

// Fake is a command.Runner that returns canned results keyed by the full
// command line. Unscripted command lines exit 127, like a missing binary
// run through a shell.
type Fake struct {
	mu      sync.Mutex
	scripts map[string]*script
	calls   []Call
}

// NewFake creates an empty fake runner.
func NewFake() *Fake {
	return &Fake{scripts: make(map[string]*script)}
}

// On scripts the results for line. Successive calls return successive
// results; the last one repeats.
func (f *Fake) On(line string, results ...command.Result) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[line] = &script{results: results}
	return f
}

// Run implements command.Runner.
func (f *Fake) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (command.Result, error) {
	call := Call{Name: name, Args: append([]string(nil), args...), Timeout: timeout}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	s, ok := f.scripts[call.Line()]
	if !ok {
		f.mu.Unlock()
		return command.Result{ExitCode: 127, Stderr: "not scripted: " + call.Line()}, nil
	}
	res := Exit(0)
	if len(s.results) > 0 {
		idx := s.next
		if idx >= len(s.results) {
			idx = len(s.results) - 1
		}
		res = s.results[idx]
		s.next++
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return command.Result{ExitCode: -1}, err
	}
	return res, nil
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Lines returns the command lines of every recorded call in order.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.calls))
	for i, c := range f.calls {
		lines[i] = c.Line()
	}
	return lines
}

// Count returns how many times line was run.
func (f *Fake) Count(line string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Line() == line {
			n++
		}
	}
	return n
}

// Exit returns a completed result with the given exit code.
func Exit(code int) command.Result {
	return command.Result{ExitCode: code}
}

// Output returns a successful result with stdout.
func Output(stdout string) command.Result {
	return command.Result{Stdout: stdout}
}

// Timeout returns a timed out result.
func Timeout() command.Result {
	return command.Result{ExitCode: -1, TimedOut: true}
}
