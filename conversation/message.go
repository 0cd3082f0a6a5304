package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/agentgraph/model"
)

// Kind discriminates between message variants.
type Kind string

const (
	KindHuman      Kind = "human"
	KindAssistant  Kind = "assistant"
	KindToolResult Kind = "tool_result"
	KindSystem     Kind = "system"
)

// ToolCallRequest is a tool invocation requested by the model.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage holds authoritative token counters reported with a model response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Message is a single entry in a thread's history. Exactly one payload
// pointer is set, matching Kind.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// Synthetic marks messages produced by the runtime rather than a person
	// or the model (compaction notices and summaries, rejection results).
	Synthetic bool `json:"synthetic,omitempty"`

	Human      *HumanContent      `json:"human,omitempty"`
	Assistant  *AssistantContent  `json:"assistant,omitempty"`
	ToolResult *ToolResultContent `json:"tool_result,omitempty"`
	System     *SystemContent     `json:"system,omitempty"`
}

// HumanContent holds operator input.
type HumanContent struct {
	Text string `json:"text"`
}

// AssistantContent holds a model response.
type AssistantContent struct {
	Text      string            `json:"text"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	Usage     *Usage            `json:"usage,omitempty"`
}

// ToolResultContent answers one ToolCallRequest.
type ToolResultContent struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// SystemContent holds a system instruction.
type SystemContent struct {
	Text string `json:"text"`
}

func newMessage(kind Kind) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// NewHuman creates a human message.
func NewHuman(text string) Message {
	m := newMessage(KindHuman)
	m.Human = &HumanContent{Text: text}
	return m
}

// NewAssistant creates an assistant message.
func NewAssistant(text string, calls []ToolCallRequest, usage *Usage) Message {
	m := newMessage(KindAssistant)
	m.Assistant = &AssistantContent{Text: text, ToolCalls: calls, Usage: usage}
	return m
}

// NewToolResult creates a tool result message answering callID.
func NewToolResult(callID, toolName, content string, isError bool) Message {
	m := newMessage(KindToolResult)
	m.ToolResult = &ToolResultContent{
		ToolCallID: callID,
		ToolName:   toolName,
		Content:    content,
		IsError:    isError,
	}
	return m
}

// NewSystem creates a system message.
func NewSystem(text string) Message {
	m := newMessage(KindSystem)
	m.System = &SystemContent{Text: text}
	return m
}

// Text returns the textual content of the message regardless of its kind.
func (m Message) Text() string {
	switch m.Kind {
	case KindHuman:
		if m.Human != nil {
			return m.Human.Text
		}
	case KindAssistant:
		if m.Assistant != nil {
			return m.Assistant.Text
		}
	case KindToolResult:
		if m.ToolResult != nil {
			return m.ToolResult.Content
		}
	case KindSystem:
		if m.System != nil {
			return m.System.Text
		}
	}
	return ""
}

// ToolCalls returns the tool calls carried by an assistant message.
func (m Message) ToolCalls() []ToolCallRequest {
	if m.Kind == KindAssistant && m.Assistant != nil {
		return m.Assistant.ToolCalls
	}
	return nil
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Human != nil {
		h := *m.Human
		out.Human = &h
	}
	if m.Assistant != nil {
		a := *m.Assistant
		if m.Assistant.ToolCalls != nil {
			a.ToolCalls = make([]ToolCallRequest, len(m.Assistant.ToolCalls))
			for i, tc := range m.Assistant.ToolCalls {
				a.ToolCalls[i] = tc
				a.ToolCalls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
			}
		}
		if m.Assistant.Usage != nil {
			u := *m.Assistant.Usage
			a.Usage = &u
		}
		out.Assistant = &a
	}
	if m.ToolResult != nil {
		r := *m.ToolResult
		out.ToolResult = &r
	}
	if m.System != nil {
		s := *m.System
		out.System = &s
	}
	return out
}

// ToModelMessages converts history into provider-facing messages.
func ToModelMessages(history []Message) []model.Message {
	out := make([]model.Message, 0, len(history))
	for _, m := range history {
		switch m.Kind {
		case KindHuman:
			out = append(out, model.UserMessage(m.Text()))
		case KindAssistant:
			calls := make([]model.ToolCall, 0, len(m.ToolCalls()))
			for _, tc := range m.ToolCalls() {
				calls = append(calls, model.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
			}
			out = append(out, model.AssistantMessage(m.Text(), calls...))
		case KindToolResult:
			if m.ToolResult != nil {
				out = append(out, model.ToolResultMessage(m.ToolResult.ToolCallID, m.ToolResult.Content, m.ToolResult.IsError))
			}
		case KindSystem:
			out = append(out, model.SystemMessage(m.Text()))
		}
	}
	return out
}

// FromModelResponse converts a model response into an assistant message.
func FromModelResponse(resp *model.Response) Message {
	calls := make([]ToolCallRequest, 0, len(resp.ToolCalls()))
	for _, tc := range resp.ToolCalls() {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()[:8]
		}
		calls = append(calls, ToolCallRequest{ID: id, Name: tc.Name, Arguments: tc.Arguments})
	}
	if len(calls) == 0 {
		calls = nil
	}
	var usage *Usage
	if resp.Usage != nil {
		usage = &Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.Total(),
		}
	}
	return NewAssistant(resp.Text(), calls, usage)
}
