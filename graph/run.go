package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/martinemde/agentgraph/cancellation"
	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/events"
	"github.com/martinemde/agentgraph/gate"
	"github.com/martinemde/agentgraph/permission"
)

// Result is the outcome of a finished run.
type Result struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
	// Text is the final response text. For an interrupted run it is the
	// partial text streamed before cancellation.
	Text        string                            `json:"text"`
	Interrupted bool                              `json:"interrupted"`
	Suspended   *conversation.PendingConfirmation `json:"suspended,omitempty"`
	Status      conversation.Status               `json:"status"`
}

// Run is the handle of one in-flight run.
type Run struct {
	id       string
	threadID string
	events   <-chan events.Event
	done     chan struct{}

	result Result
	err    error
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// ThreadID returns the thread the run belongs to.
func (r *Run) ThreadID() string { return r.threadID }

// Events returns the run's event stream. It closes after run_done has
// been delivered. The channel must be drained; events queue without bound
// until it is.
func (r *Run) Events() <-chan events.Event { return r.events }

// Done is closed when the run finishes.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes. The error is non-nil only for
// run-level failures: *ModelInvocationError, *MalformedToolCallError,
// ErrMaxSteps, or a persistence failure.
func (r *Run) Wait() (Result, error) {
	<-r.done
	return r.result, r.err
}

// runState is the executor-private context of one run.
type runState struct {
	id       string
	state    *conversation.State
	token    *cancellation.Token
	bus      *events.Bus
	settings permission.Settings
	decision *gate.Decision
	log      zerolog.Logger

	// queued holds state events until the checkpoint they describe is
	// saved.
	queued []events.Event

	mu      sync.Mutex
	partial strings.Builder
}

func (rs *runState) emit(e events.Event) {
	if e.Kind.Live() {
		rs.bus.Publish(e)
		return
	}
	rs.queued = append(rs.queued, e)
}

func (rs *runState) flush() {
	for _, e := range rs.queued {
		rs.bus.Publish(e)
	}
	rs.queued = nil
}

func (rs *runState) discard() {
	rs.queued = nil
}

func (rs *runState) appendPartial(delta string) {
	rs.mu.Lock()
	rs.partial.WriteString(delta)
	rs.mu.Unlock()
}

func (rs *runState) resetPartial() {
	rs.mu.Lock()
	rs.partial.Reset()
	rs.mu.Unlock()
}

func (rs *runState) partialText() string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.partial.String()
}

func (e *Executor) start(ctx context.Context, state *conversation.State, from Node, d *gate.Decision, release func()) *Run {
	runID := uuid.NewString()
	bus := events.NewBus(state.ThreadID, runID)
	for _, fn := range e.observers {
		bus.Observe(fn)
	}
	r := &Run{
		id:       runID,
		threadID: state.ThreadID,
		events:   bus.Subscribe(context.Background()),
		done:     make(chan struct{}),
	}

	token, unregister := e.coordinator.Begin(context.WithoutCancel(ctx), state.ThreadID)
	stop := context.AfterFunc(ctx, token.Cancel)

	rs := &runState{
		id:       runID,
		state:    state,
		token:    token,
		bus:      bus,
		decision: d,
		log:      e.logger.With().Str("thread_id", state.ThreadID).Str("run_id", runID).Logger(),
	}

	go func() {
		defer close(r.done)
		defer release()
		defer unregister()
		defer stop()

		r.result, r.err = e.execute(rs, from)
		bus.Close()
	}()
	return r
}

// execute drives the graph from node until END, suspension, cancellation
// or failure, and publishes run_done last.
func (e *Executor) execute(rs *runState, node Node) (Result, error) {
	rs.log.Debug().Str("node", string(node)).Msg("run started")
	started := time.Now()

	for node != NodeEnd {
		if rs.token.Cancelled() {
			return e.interrupted(rs), nil
		}
		if rs.state.Steps >= e.maxSteps {
			return e.fail(rs, node, rs.state.Clone(), ErrMaxSteps)
		}

		rs.settings = e.settings.Snapshot()
		before := rs.state.Clone()

		rs.log.Debug().Str("node", string(node)).Str("mode", string(rs.settings.Mode)).Msg("node")
		next, err := e.runNode(rs, node)

		switch {
		case errors.Is(err, errInterrupted):
			return e.interrupted(rs), nil
		case errors.Is(err, errSuspend):
			return e.suspend(rs, node)
		case err != nil:
			var malformed *MalformedToolCallError
			if errors.As(err, &malformed) {
				return e.fail(rs, node, rs.state, err)
			}
			return e.fail(rs, node, before, err)
		}

		if !CanTransition(node, next) {
			return e.fail(rs, node, before, fmt.Errorf("graph: no edge from %s to %s", node, next))
		}

		rs.state.Steps++
		if next == NodeEnd {
			rs.state.Status = conversation.StatusIdle
			rs.state.Next = ""
		} else {
			rs.state.Status = conversation.StatusRunning
			rs.state.Next = string(next)
		}
		if err := e.checkpoint(rs, node); err != nil {
			rs.discard()
			return e.finish(rs, Result{}, err)
		}
		rs.flush()
		node = next
	}

	rs.log.Debug().Dur("elapsed", time.Since(started)).Int("steps", rs.state.Steps).Msg("run finished")
	return e.finish(rs, Result{Text: lastAssistantText(rs.state)}, nil)
}

func (e *Executor) runNode(rs *runState, node Node) (Node, error) {
	switch node {
	case NodeCheck:
		return e.check(rs)
	case NodeAgent:
		return e.agent(rs)
	case NodeConfirmTools:
		return e.confirmTools(rs)
	case NodeTools:
		return e.runTools(rs)
	case NodeSummarize:
		return e.summarize(rs)
	}
	return NodeEnd, fmt.Errorf("graph: unknown node %q", node)
}

func (e *Executor) checkpoint(rs *runState, node Node) error {
	rs.state.UpdatedAt = time.Now().UTC()
	cp, err := e.save(context.WithoutCancel(rs.token.Context()), rs.state, node)
	if err != nil {
		return err
	}
	rs.log.Debug().Str("node", string(node)).Int("seq", cp.Seq).Str("next", rs.state.Next).Msg("checkpoint saved")
	return nil
}

// interrupted ends a cancelled run. Nothing after the last checkpoint is
// persisted.
func (e *Executor) interrupted(rs *runState) Result {
	rs.discard()
	rs.log.Info().Err(rs.token.Cause()).Msg("run interrupted")
	res, _ := e.finish(rs, Result{Text: rs.partialText(), Interrupted: true}, nil)
	return res
}

// suspend persists a run waiting on confirmation.
func (e *Executor) suspend(rs *runState, node Node) (Result, error) {
	rs.state.Steps++
	rs.state.Status = conversation.StatusSuspended
	rs.state.Next = string(NodeConfirmTools)
	if err := e.checkpoint(rs, node); err != nil {
		rs.discard()
		return e.finish(rs, Result{}, err)
	}
	rs.flush()
	rs.log.Info().Int("gated_calls", len(rs.state.Pending.Calls)).Msg("run suspended for confirmation")
	return e.finish(rs, Result{Text: lastAssistantText(rs.state), Suspended: rs.state.Pending}, nil)
}

// fail ends a run with a run-level error. state is what gets persisted:
// the pre-node snapshot for model failures, so Continue retries node, or
// the mutated state for malformed tool calls, which end the turn.
func (e *Executor) fail(rs *runState, node Node, state *conversation.State, cause error) (Result, error) {
	rs.discard()
	rs.state = state
	var malformed *MalformedToolCallError
	if errors.As(cause, &malformed) {
		rs.state.Status = conversation.StatusIdle
		rs.state.Next = ""
	} else {
		rs.state.Status = conversation.StatusFailed
		rs.state.Next = string(node)
	}
	if err := e.checkpoint(rs, node); err != nil {
		rs.log.Error().Err(err).Msg("failed to persist failed run")
	}
	rs.log.Error().Err(cause).Str("node", string(node)).Msg("run failed")
	return e.finish(rs, Result{}, cause)
}

// finish publishes the terminal events: error for a run-level failure,
// then run_done.
func (e *Executor) finish(rs *runState, res Result, err error) (Result, error) {
	res.ThreadID = rs.state.ThreadID
	res.RunID = rs.id
	res.Status = rs.state.Status
	if err != nil {
		rs.bus.Publish(events.Event{Kind: events.Error, Err: err.Error()})
	}
	rs.bus.Publish(events.Event{
		Kind:         events.RunDone,
		Text:         res.Text,
		Interrupted:  res.Interrupted,
		Confirmation: res.Suspended,
	})
	return res, err
}

func lastAssistantText(s *conversation.State) string {
	if i := s.LastAssistant(); i >= 0 {
		return s.Messages[i].Text()
	}
	return ""
}
