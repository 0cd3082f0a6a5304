package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/agentgraph/tools"
)

var (
	// ErrThreadBusy is returned when a thread already has an active run.
	ErrThreadBusy = errors.New("thread has an active run")
	// ErrNotSuspended is returned by Resume when no confirmation is pending.
	ErrNotSuspended = errors.New("thread is not awaiting confirmation")
	// ErrSuspended is returned by operations that cannot run while a
	// confirmation is pending.
	ErrSuspended = errors.New("thread is awaiting confirmation")
	// ErrThreadNotFound is returned for a thread with no checkpoint.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrNothingToContinue is returned by Continue on a finished thread.
	ErrNothingToContinue = errors.New("thread has no unfinished run")
	// ErrMaxSteps is returned when a run exceeds its node budget.
	ErrMaxSteps = errors.New("run exceeded the maximum number of steps")
)

// ModelInvocationError reports a failed model call. The run is aborted
// and no partial turn is persisted.
type ModelInvocationError struct {
	Node  Node
	Cause error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed in %s: %v", e.Node, e.Cause)
}

func (e *ModelInvocationError) Unwrap() error {
	return e.Cause
}

// MalformedToolCallError reports tool calls whose arguments are not valid
// for their tool. The turn ends; the calls are never retried.
type MalformedToolCallError struct {
	Calls []*tools.ValidationError
}

func (e *MalformedToolCallError) Error() string {
	parts := make([]string, len(e.Calls))
	for i, c := range e.Calls {
		parts[i] = c.Error()
	}
	return "malformed tool call: " + strings.Join(parts, "; ")
}

// errInterrupted ends a run after cancellation without touching state.
var errInterrupted = errors.New("run interrupted")

// errSuspend ends a run suspended on confirmation.
var errSuspend = errors.New("run suspended")
