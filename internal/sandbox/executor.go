package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
)

// Program is a compiled, sandboxed Starlark module ready to be called.
// It holds no host state beyond the compiled code: each Call creates a
// fresh thread, so invocations are hermetic (no shared state between
// calls, per the concurrency model's sandbox policy).
type Program struct {
	compiled *starlark.Program
	filename string
}

// Load parses and compiles src, the static-validation step of the
// sandbox contract. A parse failure is reported as ErrSyntax. There is no
// AST whitelist pass beyond this: forbidden imports/calls have no
// predeclared binding to resolve to, so they fail here as undefined-name
// errors, which this function also reports as ErrSyntax (Starlark's
// resolver treats them identically to a syntax error — both are static,
// pre-execution failures).
func Load(filename, src string) (*Program, error) {
	globals := predeclared()
	isPredeclared := func(name string) bool {
		_, ok := globals[name]
		return ok
	}
	_, prog, err := starlark.SourceProgram(filename, src, isPredeclared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return &Program{compiled: prog, filename: filename}, nil
}

// Call executes the module at its top level and then invokes the global
// function named fn with args, returning its value. The call is bounded by
// timeout: a watcher goroutine cancels the thread if the deadline is
// reached before the call returns, and the goroutine executing Starlark
// code is abandoned rather than killed (Go has no forcible-terminate
// primitive for a running goroutine; this matches the language's
// cooperative cancellation model).
func Call(ctx context.Context, prog *Program, fn string, timeout time.Duration, args ...starlark.Value) (starlark.Value, error) {
	thread := &starlark.Thread{Name: prog.filename}
	// Strategy code has no use for print(); redirect it to nowhere rather
	// than leaving the default stderr write in place — not an I/O surface
	// the sandboxed code can parameterize, just silence.
	thread.Print = func(*starlark.Thread, string) {}

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-deadline.Done():
			thread.Cancel("sandbox: execution time budget exceeded")
		case <-done:
		}
	}()

	globals, err := prog.compiled.Init(thread, predeclared())
	if err != nil {
		close(done)
		return nil, classifyErr(err)
	}
	globals.Freeze()

	fnVal, ok := globals[fn]
	if !ok {
		close(done)
		return nil, fmt.Errorf("%w: function %q is not defined", ErrBadReturn, fn)
	}
	callable, ok := fnVal.(starlark.Callable)
	if !ok {
		close(done)
		return nil, fmt.Errorf("%w: %q is not callable", ErrBadReturn, fn)
	}

	result, err := starlark.Call(thread, callable, args, nil)
	close(done)
	if err != nil {
		return nil, classifyErr(err)
	}
	return result, nil
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "cancelled") {
		return fmt.Errorf("%w: %s", ErrTimeout, msg)
	}
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return fmt.Errorf("%w: %s", ErrRuntime, evalErr.Msg)
	}
	return fmt.Errorf("%w: %v", ErrRuntime, err)
}
