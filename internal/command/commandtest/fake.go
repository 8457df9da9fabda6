// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"

	"github.com/nathanwhyte/build-hook/internal/command"
)

// Handler decides the outcome of a single invocation.
type Handler func(cmd command.Command) (command.Result, error)

// Fake records every command it is asked to run and answers with Handler.
// The zero value succeeds for every command. It is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	calls   []command.Command
	Handler Handler
}

// Run records cmd and delegates to Handler.
func (f *Fake) Run(ctx context.Context, cmd command.Command) (command.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.Handler
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return command.Result{ExitCode: -1}, err
	}
	if h == nil {
		return command.Result{}, nil
	}
	return h(cmd)
}

// Calls returns a copy of every recorded command in order.
func (f *Fake) Calls() []command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]command.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsMatching returns the recorded commands whose program and leading arguments match prefix.
func (f *Fake) CallsMatching(prefix ...string) []command.Command {
	var out []command.Command
	for _, c := range f.Calls() {
		if Matches(c, prefix...) {
			out = append(out, c)
		}
	}
	return out
}

// Matches reports whether cmd starts with prefix, where prefix[0] is the program name.
func Matches(cmd command.Command, prefix ...string) bool {
	if len(prefix) == 0 {
		return true
	}
	if cmd.Name != prefix[0] {
		return false
	}
	if len(cmd.Args) < len(prefix)-1 {
		return false
	}
	for i, p := range prefix[1:] {
		if cmd.Args[i] != p {
			return false
		}
	}
	return true
}

// Failure is a convenience result for a process that exited with code 1.
func Failure(stderr string) command.Result {
	return command.Result{ExitCode: 1, Stderr: stderr}
}

// Contains reports whether any argument of cmd contains substr.
func Contains(cmd command.Command, substr string) bool {
	for _, a := range cmd.Args {
		if strings.Contains(a, substr) {
			return true
		}
	}
	return false
}
