package events

import (
	"time"

	"github.com/martinemde/agentgraph/conversation"
)

// Kind identifies the type of lifecycle event.
type Kind string

const (
	ThinkingStarted      Kind = "thinking_started"
	StreamingDelta       Kind = "streaming_delta"
	ToolInvoked          Kind = "tool_invoked"
	ToolProgress         Kind = "tool_progress"
	ToolResult           Kind = "tool_result"
	ResponseReady        Kind = "response_ready"
	ConfirmationRequired Kind = "confirmation_required"
	CompactionStarted    Kind = "compaction_started"
	CompactionCompleted  Kind = "compaction_completed"
	Error                Kind = "error"
	RunDone              Kind = "run_done"
)

// Event is a timestamped lifecycle notification. Subscribers receive their
// own copy, so an Event is never mutated after emission.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	ThreadID  string    `json:"thread_id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Node      string    `json:"node,omitempty"`

	// Delta carries streamed model text or incremental tool output.
	Delta string `json:"delta,omitempty"`
	// Text carries the final response text for ResponseReady.
	Text         string                            `json:"text,omitempty"`
	Tool         *ToolInfo                         `json:"tool,omitempty"`
	Confirmation *conversation.PendingConfirmation `json:"confirmation,omitempty"`
	Compaction   *CompactionInfo                   `json:"compaction,omitempty"`
	Err          string                            `json:"error,omitempty"`
	Interrupted  bool                              `json:"interrupted,omitempty"`
}

// ToolInfo describes the tool call an event refers to.
type ToolInfo struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// CompactionInfo reports the token estimate around a compaction.
type CompactionInfo struct {
	BeforeTokens    int `json:"before_tokens"`
	AfterTokens     int `json:"after_tokens"`
	RemovedMessages int `json:"removed_messages"`
}

func (e Event) clone() Event {
	out := e
	if e.Tool != nil {
		t := *e.Tool
		out.Tool = &t
	}
	if e.Compaction != nil {
		c := *e.Compaction
		out.Compaction = &c
	}
	if e.Confirmation != nil {
		out.Confirmation = (&conversation.State{Pending: e.Confirmation}).Clone().Pending
	}
	return out
}

// Live reports whether the event describes in-flight activity rather than
// a state change. Live events are delivered immediately; state events are
// published only after the state they describe has been checkpointed.
func (k Kind) Live() bool {
	switch k {
	case ThinkingStarted, StreamingDelta, ToolInvoked, ToolProgress, CompactionStarted:
		return true
	}
	return false
}
