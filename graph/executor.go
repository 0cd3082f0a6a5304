// Package graph runs the agent's persisted state graph: check, agent,
// confirm_tools, tools and summarize nodes over one thread's Conversation
// State, checkpointing after every node.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/martinemde/agentgraph/budget"
	"github.com/martinemde/agentgraph/cancellation"
	"github.com/martinemde/agentgraph/checkpoint"
	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/events"
	"github.com/martinemde/agentgraph/gate"
	"github.com/martinemde/agentgraph/model"
	"github.com/martinemde/agentgraph/permission"
	"github.com/martinemde/agentgraph/prompt"
	"github.com/martinemde/agentgraph/tools"
)

// DefaultMaxSteps bounds the nodes one run may execute.
const DefaultMaxSteps = 200

// interruptedToolText closes tool calls left without results by a
// cancelled run.
const interruptedToolText = "Tool call was interrupted before it completed. Its effects, if any, are unknown."

// skippedToolText answers permitted calls that shared a response with a
// rejected call.
const skippedToolText = "Tool call was not executed because other tool calls in the same response were rejected."

// closeSkipped answers the calls left in the latest response after a
// rejection. Permitted calls from that response are not run either.
func closeSkipped(state *conversation.State) {
	for _, tc := range state.UnansweredCalls() {
		skipped := conversation.NewToolResult(tc.ID, tc.Name, skippedToolText, true)
		skipped.Synthetic = true
		state.Append(skipped)
	}
}

// PromptBuilder produces the system prompt for one agent step.
type PromptBuilder interface {
	Build(settings permission.Settings, defs []model.ToolDefinition) string
}

// Deps are the capabilities an Executor drives.
type Deps struct {
	Model    model.Invoker
	Store    checkpoint.Store
	Tools    *tools.Executor
	Gate     *gate.Gate
	Settings *permission.Live
}

// Executor runs threads through the graph. It is safe for concurrent use;
// each thread has at most one active run.
type Executor struct {
	model    model.Invoker
	store    checkpoint.Store
	tools    *tools.Executor
	gate     *gate.Gate
	settings *permission.Live

	prompt      PromptBuilder
	estimator   budget.Estimator
	policy      budget.Policy
	coordinator *cancellation.Coordinator
	logger      zerolog.Logger
	observers   []func(events.Event)
	provider    string
	streaming   bool
	maxSteps    int
	loopWindow  int

	mu   sync.Mutex
	busy map[string]bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithObserver registers fn on the event bus of every run.
func WithObserver(fn func(events.Event)) Option {
	return func(e *Executor) {
		e.observers = append(e.observers, fn)
	}
}

// WithPromptBuilder replaces the default system prompt builder.
func WithPromptBuilder(b PromptBuilder) Option {
	return func(e *Executor) {
		e.prompt = b
	}
}

// WithEstimator replaces the token estimator.
func WithEstimator(est budget.Estimator) Option {
	return func(e *Executor) {
		e.estimator = est
	}
}

// WithBudget sets the trim and compaction ratios and the recent-message
// window. The context window always comes from the current Settings.
func WithBudget(p budget.Policy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithCoordinator shares a cancellation coordinator.
func WithCoordinator(c *cancellation.Coordinator) Option {
	return func(e *Executor) {
		e.coordinator = c
	}
}

// WithProvider routes model requests to a named provider.
func WithProvider(name string) Option {
	return func(e *Executor) {
		e.provider = name
	}
}

// WithStreaming toggles incremental model output.
func WithStreaming(on bool) Option {
	return func(e *Executor) {
		e.streaming = on
	}
}

// WithMaxSteps bounds the nodes executed per run.
func WithMaxSteps(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithLoopDetection sets how many recent tool calls are checked for a
// repeating pattern. Zero disables detection.
func WithLoopDetection(window int) Option {
	return func(e *Executor) {
		if window >= 0 {
			e.loopWindow = window
		}
	}
}

// New creates an Executor.
func New(deps Deps, opts ...Option) (*Executor, error) {
	switch {
	case deps.Model == nil:
		return nil, errors.New("graph: model is required")
	case deps.Store == nil:
		return nil, errors.New("graph: checkpoint store is required")
	case deps.Tools == nil:
		return nil, errors.New("graph: tool executor is required")
	case deps.Gate == nil:
		return nil, errors.New("graph: confirmation gate is required")
	case deps.Settings == nil:
		return nil, errors.New("graph: settings are required")
	}

	e := &Executor{
		model:       deps.Model,
		store:       deps.Store,
		tools:       deps.Tools,
		gate:        deps.Gate,
		settings:    deps.Settings,
		estimator:   budget.HeuristicEstimator{},
		policy:      budget.DefaultPolicy(0),
		coordinator: cancellation.NewCoordinator(),
		logger:      zerolog.Nop(),
		streaming:   true,
		maxSteps:    DefaultMaxSteps,
		loopWindow:  DefaultLoopWindow,
		busy:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prompt == nil {
		e.prompt = prompt.NewBuilder(deps.Tools.Environment(), prompt.WithProvider(e.provider))
	}
	return e, nil
}

// Settings returns the live settings holder.
func (e *Executor) Settings() *permission.Live {
	return e.settings
}

// acquire marks threadID busy. The returned func releases it.
func (e *Executor) acquire(threadID string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[threadID] {
		return nil, ErrThreadBusy
	}
	e.busy[threadID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.busy, threadID)
			e.mu.Unlock()
		})
	}, nil
}

func (e *Executor) load(ctx context.Context, threadID string) (*conversation.State, bool, error) {
	cp, found, err := e.store.Load(ctx, threadID)
	if err != nil {
		return nil, false, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if !found {
		return nil, false, nil
	}
	return cp.State, true, nil
}

func (e *Executor) save(ctx context.Context, state *conversation.State, node Node) (checkpoint.Checkpoint, error) {
	cp, err := e.store.Save(ctx, checkpoint.Checkpoint{ThreadID: state.ThreadID, Node: string(node), State: state})
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("save checkpoint: %w", err)
	}
	return cp, nil
}

// Submit appends a human message to threadID and runs the graph from
// check. A new thread is created when threadID has no checkpoint. If the
// thread is suspended on confirmation, the pending calls are rejected
// first; tool calls left unanswered by an earlier cancelled run are closed
// with an interrupted result.
func (e *Executor) Submit(ctx context.Context, threadID, text string) (*Run, error) {
	if threadID == "" {
		return nil, errors.New("graph: thread id is required")
	}
	release, err := e.acquire(threadID)
	if err != nil {
		return nil, err
	}

	state, found, err := e.load(ctx, threadID)
	if err != nil {
		release()
		return nil, err
	}
	if !found {
		state = conversation.NewState(threadID)
	}

	if state.Status == conversation.StatusSuspended && state.Pending != nil {
		state.Append(gate.Rejections(state.Pending.Calls)...)
		closeSkipped(state)
		state.Pending = nil
	}
	if n := state.CloseDangling(interruptedToolText); n > 0 {
		e.logger.Debug().Str("thread_id", threadID).Int("calls", n).Msg("closed dangling tool calls")
	}
	state.Append(conversation.NewHuman(text))
	state.Status = conversation.StatusRunning
	state.Next = string(NodeCheck)
	state.Steps = 0

	if _, err := e.save(ctx, state, NodeStart); err != nil {
		release()
		return nil, err
	}
	return e.start(ctx, state, NodeCheck, nil, release), nil
}

// Resume delivers a confirmation decision to a suspended thread.
func (e *Executor) Resume(ctx context.Context, threadID string, d gate.Decision) (*Run, error) {
	release, err := e.acquire(threadID)
	if err != nil {
		return nil, err
	}
	state, found, err := e.load(ctx, threadID)
	if err != nil {
		release()
		return nil, err
	}
	if !found {
		release()
		return nil, ErrThreadNotFound
	}
	if state.Status != conversation.StatusSuspended || state.Pending == nil {
		release()
		return nil, ErrNotSuspended
	}
	state.Steps = 0
	return e.start(ctx, state, NodeConfirmTools, &d, release), nil
}

// Continue re-runs an unfinished thread from the node recorded in its
// last checkpoint. A suspended thread re-suspends without announcing the
// pending confirmation again.
func (e *Executor) Continue(ctx context.Context, threadID string) (*Run, error) {
	release, err := e.acquire(threadID)
	if err != nil {
		return nil, err
	}
	state, found, err := e.load(ctx, threadID)
	if err != nil {
		release()
		return nil, err
	}
	if !found {
		release()
		return nil, ErrThreadNotFound
	}
	node, ok := ParseNode(state.Next)
	if !ok || state.Status == conversation.StatusIdle {
		release()
		return nil, ErrNothingToContinue
	}
	if state.Status != conversation.StatusSuspended {
		state.Status = conversation.StatusRunning
	}
	state.Steps = 0
	return e.start(ctx, state, node, nil, release), nil
}

// GetState returns the latest persisted state of threadID.
func (e *Executor) GetState(ctx context.Context, threadID string) (*conversation.State, error) {
	state, found, err := e.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrThreadNotFound
	}
	return state, nil
}

// GetHistory returns every checkpoint of threadID, oldest first.
func (e *Executor) GetHistory(ctx context.Context, threadID string) ([]checkpoint.Checkpoint, error) {
	history, err := e.store.History(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("history of thread %s: %w", threadID, err)
	}
	if len(history) == 0 {
		return nil, ErrThreadNotFound
	}
	return history, nil
}

// Clear starts a fresh thread and returns its id. The old thread and its
// checkpoints are left as they are.
func (e *Executor) Clear(ctx context.Context, threadID string) (string, error) {
	newID := uuid.NewString()
	if _, err := e.save(ctx, conversation.NewState(newID), NodeStart); err != nil {
		return "", err
	}
	e.logger.Info().Str("thread_id", threadID).Str("new_thread_id", newID).Msg("thread cleared")
	return newID, nil
}

// CompactResult reports token usage around a manual compaction.
type CompactResult struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// Compact summarizes threadID's history now. With too little history it
// changes nothing and reports Before == After.
func (e *Executor) Compact(ctx context.Context, threadID string) (CompactResult, error) {
	release, err := e.acquire(threadID)
	if err != nil {
		return CompactResult{}, err
	}
	defer release()

	state, found, err := e.load(ctx, threadID)
	if err != nil {
		return CompactResult{}, err
	}
	if !found {
		return CompactResult{}, ErrThreadNotFound
	}
	if state.Status == conversation.StatusSuspended {
		return CompactResult{}, ErrSuspended
	}

	before := budget.Usage(state.Messages, e.estimator)
	res, err := e.compactor(e.settings.Snapshot()).Compact(ctx, state)
	if errors.Is(err, budget.ErrNothingToCompact) {
		return CompactResult{Before: before, After: before}, nil
	}
	if err != nil {
		return CompactResult{}, err
	}
	if err := state.Apply(res.Update); err != nil {
		return CompactResult{}, fmt.Errorf("apply compaction: %w", err)
	}
	state.LastUsage = nil
	if _, err := e.save(ctx, state, NodeSummarize); err != nil {
		return CompactResult{}, err
	}

	after := budget.Usage(state.Messages, e.estimator)
	e.logger.Info().Str("thread_id", threadID).Int("before_tokens", before).Int("after_tokens", after).Msg("thread compacted")
	return CompactResult{Before: before, After: after}, nil
}

// Cancel cancels the active run on threadID. It reports whether one was
// running.
func (e *Executor) Cancel(threadID string) bool {
	return e.coordinator.Cancel(threadID)
}

// AbortTool aborts the tool batch currently running on threadID without
// cancelling the run.
func (e *Executor) AbortTool(threadID string) bool {
	return e.coordinator.AbortTool(threadID)
}

// Active reports whether threadID has a run in progress.
func (e *Executor) Active(threadID string) bool {
	return e.coordinator.Active(threadID)
}

func (e *Executor) compactor(s permission.Settings) *budget.Compactor {
	return &budget.Compactor{
		Invoker:   e.model,
		Model:     s.Model,
		Provider:  e.provider,
		Estimator: e.estimator,
	}
}

func (e *Executor) policyFor(s permission.Settings) budget.Policy {
	p := e.policy
	p.ContextWindow = s.ContextWindow
	if p.ContextWindow <= 0 {
		p.ContextWindow = model.ContextWindow(s.Model)
	}
	return p
}
