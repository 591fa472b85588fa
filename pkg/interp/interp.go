// Package interp abstracts the embedded interpreter that executes student
// code. The engine hands out isolated contexts; a context streams emitted
// output through a callback and suspends on input requests until the caller's
// input callback returns a line.
package interp

import (
	"context"
	"strings"
)

// Hooks carries the callbacks invoked while a program runs.
type Hooks struct {
	// OnOutput receives every chunk of text the program emits, in emission order.
	OnOutput func(text string)
	// OnInput is invoked when the program requests input. Execution is
	// suspended until it returns; the returned string is handed to the
	// program. Returning an error aborts the run.
	OnInput func(prompt string) (string, error)
}

// Context is a single isolated interpreter instance. Running two sources in
// the same context shares all interpreter state between them, which is how
// auxiliary test code can call functions defined by student code.
type Context interface {
	Run(ctx context.Context, source string, hooks Hooks) error
	Close()
}

// Engine produces fresh contexts. Contexts never share state with each other.
type Engine interface {
	NewContext() Context
}

const stopMessage = "SystemExit"

// IsStop reports whether err stems from the program's own stop() primitive,
// which callers treat as deliberate termination rather than a failure.
func IsStop(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), stopMessage)
}
