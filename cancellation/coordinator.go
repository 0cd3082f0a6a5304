// Package cancellation mints per-run cancellation tokens and routes cancel
// requests to the run currently owning a thread.
package cancellation

import (
	"context"
	"errors"
	"sync"
)

// ErrRunCancelled is the cause attached to a token cancelled via Cancel.
var ErrRunCancelled = errors.New("run cancelled")

// ErrToolAborted is the cause attached to a tool context aborted via
// AbortTool.
var ErrToolAborted = errors.New("tool aborted")

// Token is the cancellation handle of one externally-initiated run.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu         sync.Mutex
	toolCancel context.CancelCauseFunc
}

// Context returns the run-wide context passed to model and tool calls.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancelled reports whether the run has been cancelled.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Cause returns why the token was cancelled, or nil.
func (t *Token) Cause() error {
	return context.Cause(t.ctx)
}

// Cancel cancels the whole run.
func (t *Token) Cancel() {
	t.cancel(ErrRunCancelled)
}

// ToolContext derives a context for one batch of tool calls. It is
// cancelled by the run token and, separately, by AbortTool. The returned
// release func must be called when the batch finishes.
func (t *Token) ToolContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(t.ctx)
	t.mu.Lock()
	t.toolCancel = cancel
	t.mu.Unlock()
	return ctx, func() {
		t.mu.Lock()
		t.toolCancel = nil
		t.mu.Unlock()
		cancel(nil)
	}
}

// AbortTool cancels the in-flight tool batch without cancelling the run.
// It reports whether a batch was running.
func (t *Token) AbortTool() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.toolCancel == nil {
		return false
	}
	t.toolCancel(ErrToolAborted)
	return true
}

// Coordinator tracks the active token per thread.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]*Token
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{active: make(map[string]*Token)}
}

// Begin mints a fresh token for a run on threadID, derived from parent.
// The release func unregisters the token and must be called when the run
// ends.
func (c *Coordinator) Begin(parent context.Context, threadID string) (*Token, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	tok := &Token{ctx: ctx, cancel: cancel}

	c.mu.Lock()
	c.active[threadID] = tok
	c.mu.Unlock()

	return tok, func() {
		c.mu.Lock()
		if c.active[threadID] == tok {
			delete(c.active, threadID)
		}
		c.mu.Unlock()
		cancel(nil)
	}
}

// Cancel cancels the active run on threadID. It is best-effort and reports
// whether a run was found.
func (c *Coordinator) Cancel(threadID string) bool {
	c.mu.Lock()
	tok := c.active[threadID]
	c.mu.Unlock()
	if tok == nil {
		return false
	}
	tok.Cancel()
	return true
}

// AbortTool aborts the current tool batch on threadID, leaving the run
// alive.
func (c *Coordinator) AbortTool(threadID string) bool {
	c.mu.Lock()
	tok := c.active[threadID]
	c.mu.Unlock()
	if tok == nil {
		return false
	}
	return tok.AbortTool()
}

// Active reports whether threadID has a run in progress.
func (c *Coordinator) Active(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[threadID]
	return ok
}
