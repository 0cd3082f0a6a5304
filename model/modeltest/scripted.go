// Package modeltest provides a scripted model.Invoker for tests.
package modeltest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/martinemde/agentgraph/model"
)

// Step is one scripted model turn.
type Step struct {
	Text      string
	ToolCalls []model.ToolCall
	Usage     *model.Usage
	Err       error
	// Block makes the step wait for context cancellation before returning.
	Block bool
}

// Scripted replays a fixed sequence of responses and records every request.
type Scripted struct {
	mu       sync.Mutex
	index    int
	steps    []Step
	requests []model.Request
}

var _ model.Invoker = (*Scripted)(nil)

// NewScripted returns a Scripted model that answers with steps in order.
func NewScripted(steps ...Step) *Scripted {
	cloned := make([]Step, len(steps))
	copy(cloned, steps)
	return &Scripted{steps: cloned}
}

// Text is a convenience for a plain assistant reply.
func Text(text string) Step {
	return Step{Text: text}
}

// Calls is a convenience for a reply carrying tool calls.
func Calls(calls ...model.ToolCall) Step {
	return Step{ToolCalls: calls}
}

// Call builds a tool call with JSON arguments.
func Call(id, name, args string) model.ToolCall {
	return model.ToolCall{ID: id, Name: name, Arguments: []byte(args)}
}

// Append adds steps to the end of the script.
func (s *Scripted) Append(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many times Invoke has been called.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Remaining reports how many scripted steps are unused.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps) - s.index
}

// Invoke implements model.Invoker. Text is streamed word by word when the
// request asks for streaming.
func (s *Scripted) Invoke(ctx context.Context, req model.Request, onDelta func(string)) (*model.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if s.index >= len(s.steps) {
		s.mu.Unlock()
		return nil, fmt.Errorf("script exhausted at step %d", s.index+1)
	}
	step := s.steps[s.index]
	s.index++
	n := s.index
	s.mu.Unlock()

	if step.Block {
		<-ctx.Done()
		return nil, &model.AbortError{SDKError: model.SDKError{Message: "cancelled", Cause: ctx.Err()}}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, &model.AbortError{SDKError: model.SDKError{Message: "cancelled", Cause: err}}
	}

	if req.Stream && onDelta != nil && step.Text != "" {
		for _, word := range strings.SplitAfter(step.Text, " ") {
			onDelta(word)
		}
	}

	reason := model.FinishStop
	if len(step.ToolCalls) > 0 {
		reason = model.FinishToolCalls
	}
	calls := make([]model.ToolCall, len(step.ToolCalls))
	copy(calls, step.ToolCalls)
	return &model.Response{
		ID:           fmt.Sprintf("resp_%d", n),
		Model:        req.Model,
		Provider:     "scripted",
		Message:      model.AssistantMessage(step.Text, calls...),
		FinishReason: reason,
		Usage:        step.Usage,
	}, nil
}
