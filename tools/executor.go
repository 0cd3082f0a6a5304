package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// Call is one tool call to execute.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result is the outcome of one call. Failures are reported in Output with
// IsError set; they are never returned as Go errors.
type Result struct {
	CallID  string
	Name    string
	Output  string
	IsError bool
}

// Observer receives execution notifications. Any field may be nil.
type Observer struct {
	Started  func(call Call)
	Progress func(call Call, chunk string)
	Finished func(result Result)
}

// Executor runs tool calls against an Environment.
type Executor struct {
	registry    *Registry
	env         Environment
	limits      Limits
	concurrency int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLimits overrides the truncation limits.
func WithLimits(l Limits) ExecutorOption {
	return func(e *Executor) {
		e.limits = l
	}
}

// WithConcurrency bounds how many calls of one batch run at once.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(registry *Registry, env Environment, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		env:         env,
		limits:      DefaultLimits(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the executor's registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Environment returns the executor's environment.
func (e *Executor) Environment() Environment {
	return e.env
}

// ExecuteAll runs calls concurrently and returns one Result per call, in
// call order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call, obs Observer) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 1 {
		results[0] = e.Execute(ctx, calls[0], obs)
		return results
	}

	p := pool.New().WithMaxGoroutines(e.concurrency)
	for i, call := range calls {
		p.Go(func() {
			results[i] = e.Execute(ctx, call, obs)
		})
	}
	p.Wait()
	return results
}

// Execute runs a single call.
func (e *Executor) Execute(ctx context.Context, call Call, obs Observer) (result Result) {
	result = Result{CallID: call.ID, Name: call.Name}
	if obs.Started != nil {
		obs.Started(call)
	}
	defer func() {
		if r := recover(); r != nil {
			result.Output = fmt.Sprintf("Tool error (%s): panic: %v", call.Name, r)
			result.IsError = true
		}
		if obs.Finished != nil {
			obs.Finished(result)
		}
	}()

	if err := ctx.Err(); err != nil {
		result.Output = fmt.Sprintf("Tool %s was not run: %v", call.Name, context.Cause(ctx))
		result.IsError = true
		return result
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		result.Output = fmt.Sprintf("Unknown tool: %s", call.Name)
		result.IsError = true
		return result
	}

	progress := func(string) {}
	if obs.Progress != nil {
		progress = func(chunk string) { obs.Progress(call, chunk) }
	}

	out, err := tool.Handler(ctx, Invocation{
		CallID:    call.ID,
		Arguments: call.Arguments,
		Env:       e.env,
		Progress:  progress,
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			result.Output = fmt.Sprintf("Tool %s was cancelled: %v", call.Name, context.Cause(ctx))
		} else {
			result.Output = fmt.Sprintf("Tool error (%s): %v", call.Name, err)
		}
		result.IsError = true
		return result
	}

	result.Output = e.limits.Apply(call.Name, out)
	return result
}
