package graph

import (
	"errors"

	"github.com/martinemde/agentgraph/budget"
	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/events"
	"github.com/martinemde/agentgraph/gate"
	"github.com/martinemde/agentgraph/model"
	"github.com/martinemde/agentgraph/permission"
	"github.com/martinemde/agentgraph/tools"
)

// check routes to summarize when usage reaches the compaction threshold.
// A set SkipNextCheck is consumed and routes straight to agent.
func (e *Executor) check(rs *runState) (Node, error) {
	skip := rs.state.SkipNextCheck
	rs.state.SkipNextCheck = false
	if skip {
		return NodeAgent, nil
	}

	policy := e.policyFor(rs.settings)
	used := budget.Usage(rs.state.Messages, e.estimator)
	rs.log.Debug().Int("tokens", used).Int("threshold", policy.CompactThreshold()).Msg("token usage")
	if policy.ShouldCompact(used) {
		return NodeSummarize, nil
	}
	return NodeAgent, nil
}

// summarize replaces the non-system history with a generated summary.
// Failures are absorbed: the run continues uncompacted.
func (e *Executor) summarize(rs *runState) (Node, error) {
	before := budget.Usage(rs.state.Messages, e.estimator)
	rs.emit(events.Event{Kind: events.CompactionStarted, Node: string(NodeSummarize)})

	res, err := e.compactor(rs.settings).Compact(rs.token.Context(), rs.state)
	if rs.token.Cancelled() {
		return NodeEnd, errInterrupted
	}
	if err != nil {
		if !errors.Is(err, budget.ErrNothingToCompact) {
			rs.log.Warn().Err(err).Msg("compaction failed; continuing without it")
		}
		rs.state.SkipNextCheck = true
		rs.emit(events.Event{
			Kind:       events.CompactionCompleted,
			Node:       string(NodeSummarize),
			Compaction: &events.CompactionInfo{BeforeTokens: before, AfterTokens: before},
		})
		return NodeAgent, nil
	}

	if err := rs.state.Apply(res.Update); err != nil {
		return NodeEnd, err
	}
	rs.state.LastUsage = nil
	after := budget.Usage(rs.state.Messages, e.estimator)
	rs.log.Info().Int("before_tokens", before).Int("after_tokens", after).Int("removed", len(res.Update.Remove)).Msg("conversation compacted")
	rs.emit(events.Event{
		Kind: events.CompactionCompleted,
		Node: string(NodeSummarize),
		Compaction: &events.CompactionInfo{
			BeforeTokens:    before,
			AfterTokens:     after,
			RemovedMessages: len(res.Update.Remove),
		},
	})
	return NodeAgent, nil
}

// toolDefinitions returns the tools offered to the model under mode.
func (e *Executor) toolDefinitions(mode permission.Mode) []model.ToolDefinition {
	if mode == permission.ModePlan {
		return e.tools.Registry().Definitions(tools.ReadOnly)
	}
	return e.tools.Registry().Definitions(nil)
}

// agent invokes the model and appends its response. It routes to END on
// a plain answer, to tools when every requested call is permitted and to
// confirm_tools otherwise.
func (e *Executor) agent(rs *runState) (Node, error) {
	defs := e.toolDefinitions(rs.settings.Mode)
	system := e.prompt.Build(rs.settings, defs)

	history := rs.state.Messages
	policy := e.policyFor(rs.settings)
	if used := budget.Usage(history, e.estimator); policy.ShouldCompact(used) {
		limit := budget.HistoryLimit(history, policy.TrimThreshold(), e.estimator)
		trimmed := budget.Trim(history, limit, policy.KeepRecent, e.estimator)
		rs.log.Warn().
			Int("before_tokens", trimmed.Before).
			Int("after_tokens", trimmed.After).
			Int("dropped", trimmed.Dropped).
			Int("truncated", trimmed.Truncated).
			Int("history_limit", limit).
			Msg("prompt over budget; sending trimmed history")
		history = trimmed.Messages
	}

	req := model.Request{
		Model:    rs.settings.Model,
		Provider: e.provider,
		Messages: append([]model.Message{model.SystemMessage(system)}, conversation.ToModelMessages(history)...),
		Tools:    defs,
		Stream:   e.streaming,
	}

	rs.resetPartial()
	rs.emit(events.Event{Kind: events.ThinkingStarted, Node: string(NodeAgent)})
	resp, err := e.model.Invoke(rs.token.Context(), req, func(delta string) {
		rs.appendPartial(delta)
		rs.emit(events.Event{Kind: events.StreamingDelta, Node: string(NodeAgent), Delta: delta})
	})
	if rs.token.Cancelled() {
		return NodeEnd, errInterrupted
	}
	if err != nil {
		return NodeEnd, &ModelInvocationError{Node: NodeAgent, Cause: err}
	}

	msg := conversation.FromModelResponse(resp)
	rs.state.Append(msg)
	if msg.Assistant.Usage != nil {
		u := *msg.Assistant.Usage
		rs.state.LastUsage = &u
	}

	calls := msg.ToolCalls()
	if len(calls) == 0 {
		rs.emit(events.Event{Kind: events.ResponseReady, Node: string(NodeAgent), Text: msg.Text()})
		return NodeEnd, nil
	}

	if malformed := e.validate(calls); malformed != nil {
		for _, tc := range calls {
			content := "Tool call was not executed because the turn contained malformed tool calls."
			for _, v := range malformed.Calls {
				if v.CallID == tc.ID {
					content = "Tool call was not executed: " + v.Error()
				}
			}
			r := conversation.NewToolResult(tc.ID, tc.Name, content, true)
			r.Synthetic = true
			rs.state.Append(r)
		}
		return NodeEnd, malformed
	}

	gated, err := e.gate.Gated(rs.settings.Mode, calls)
	if err != nil {
		return NodeEnd, err
	}
	if len(gated) > 0 {
		return NodeConfirmTools, nil
	}
	return NodeTools, nil
}

func (e *Executor) validate(calls []conversation.ToolCallRequest) *MalformedToolCallError {
	var bad []*tools.ValidationError
	for _, tc := range calls {
		err := e.tools.Registry().Validate(tc.ID, tc.Name, tc.Arguments)
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			bad = append(bad, verr)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return &MalformedToolCallError{Calls: bad}
}

// confirmTools suspends on gated calls until a decision arrives. The
// confirmation_required event is emitted once per pending decision.
func (e *Executor) confirmTools(rs *runState) (Node, error) {
	if rs.decision == nil {
		if rs.state.Pending == nil {
			gated, err := e.gate.Gated(rs.settings.Mode, rs.state.UnansweredCalls())
			if err != nil {
				return NodeEnd, err
			}
			if len(gated) == 0 {
				return NodeTools, nil
			}
			rs.state.Pending = gate.NewPending(gated)
		}
		if !rs.state.Pending.Announced {
			rs.state.Pending.Announced = true
			rs.emit(events.Event{
				Kind:         events.ConfirmationRequired,
				Node:         string(NodeConfirmTools),
				Confirmation: rs.state.Pending,
			})
		}
		return NodeEnd, errSuspend
	}

	d := *rs.decision
	rs.decision = nil
	pending := rs.state.Pending
	msgs, err := e.gate.Resolve(pending, d)
	if err != nil {
		return NodeEnd, err
	}
	rs.state.Pending = nil

	if !d.Approve {
		rs.state.Append(msgs...)
		for _, m := range msgs {
			rs.emit(events.Event{
				Kind: events.ToolResult,
				Node: string(NodeConfirmTools),
				Tool: &events.ToolInfo{
					CallID:  m.ToolResult.ToolCallID,
					Name:    m.ToolResult.ToolName,
					Output:  m.ToolResult.Content,
					IsError: true,
				},
			})
		}
		closeSkipped(rs.state)
		rs.log.Info().Int("calls", len(msgs)).Msg("tool calls rejected")
		return NodeAgent, nil
	}
	rs.log.Info().Int("calls", len(pending.Calls)).Str("remember", string(d.Remember)).Msg("tool calls approved")
	return NodeTools, nil
}

// runTools executes the unanswered calls of the latest response and
// appends one result per call.
func (e *Executor) runTools(rs *runState) (Node, error) {
	pending := rs.state.UnansweredCalls()
	calls := make([]tools.Call, len(pending))
	for i, tc := range pending {
		calls[i] = tools.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}

	ctx, release := rs.token.ToolContext()
	results := e.tools.ExecuteAll(ctx, calls, tools.Observer{
		Started: func(c tools.Call) {
			rs.emit(events.Event{
				Kind: events.ToolInvoked,
				Node: string(NodeTools),
				Tool: &events.ToolInfo{CallID: c.ID, Name: c.Name, Arguments: string(c.Arguments)},
			})
		},
		Progress: func(c tools.Call, chunk string) {
			rs.emit(events.Event{
				Kind:  events.ToolProgress,
				Node:  string(NodeTools),
				Delta: chunk,
				Tool:  &events.ToolInfo{CallID: c.ID, Name: c.Name},
			})
		},
	})
	release()

	if rs.token.Cancelled() {
		return NodeEnd, errInterrupted
	}

	msgs := make([]conversation.Message, len(results))
	for i, r := range results {
		if r.IsError {
			rs.log.Debug().Str("tool", r.Name).Str("call_id", r.CallID).Str("output", r.Output).Msg("tool failed")
		}
		msgs[i] = conversation.NewToolResult(r.CallID, r.Name, r.Output, r.IsError)
	}
	if len(msgs) > 0 && e.loopWindow > 0 && detectLoop(rs.state.Messages, e.loopWindow) {
		last := msgs[len(msgs)-1].ToolResult
		last.Content += "\n\n" + loopWarning(e.loopWindow)
		rs.log.Warn().Int("window", e.loopWindow).Msg("tool call loop detected")
	}

	rs.state.Append(msgs...)
	for _, m := range msgs {
		r := m.ToolResult
		rs.emit(events.Event{
			Kind: events.ToolResult,
			Node: string(NodeTools),
			Tool: &events.ToolInfo{CallID: r.ToolCallID, Name: r.ToolName, Output: r.Content, IsError: r.IsError},
		})
	}
	return NodeCheck, nil
}
