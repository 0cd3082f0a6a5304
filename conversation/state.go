package conversation

import (
	"encoding/json"
	"time"
)

// Status is the persisted execution status of a thread.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusFailed    Status = "failed"
)

// GatedCall is one tool call awaiting a human decision.
type GatedCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	// Prefix is the derived command prefix for shell-style calls.
	Prefix string `json:"prefix,omitempty"`
}

// PendingConfirmation is the payload of a run suspended on confirmation.
type PendingConfirmation struct {
	ID    string      `json:"id"`
	Calls []GatedCall `json:"calls"`
	// Announced records that confirmation-required was emitted for this
	// decision, so re-entry before resolution does not emit it again.
	Announced   bool      `json:"announced"`
	RequestedAt time.Time `json:"requested_at"`
}

// State is the Conversation State of one thread.
type State struct {
	ThreadID      string    `json:"thread_id"`
	Messages      []Message `json:"messages"`
	SkipNextCheck bool      `json:"skip_next_check"`
	// LastUsage holds the counters of the most recent model response that
	// reported them. Cleared when compaction removes that response.
	LastUsage *Usage `json:"last_usage,omitempty"`

	Status  Status               `json:"status"`
	Next    string               `json:"next,omitempty"`
	Pending *PendingConfirmation `json:"pending,omitempty"`
	// Steps counts nodes executed in the current run.
	Steps     int       `json:"steps"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns an empty idle state for threadID.
func NewState(threadID string) *State {
	return &State{
		ThreadID:  threadID,
		Status:    StatusIdle,
		UpdatedAt: time.Now().UTC(),
	}
}

// Append adds messages to the end of the history.
func (s *State) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// Last returns the final message and true, or false for an empty history.
func (s *State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastAssistant returns the index of the most recent assistant message,
// or -1.
func (s *State) LastAssistant() int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Kind == KindAssistant {
			return i
		}
	}
	return -1
}

// NonSystem returns the messages that are not system messages.
func (s *State) NonSystem() []Message {
	var out []Message
	for _, m := range s.Messages {
		if m.Kind != KindSystem {
			out = append(out, m)
		}
	}
	return out
}

// IDs returns message ids in order.
func (s *State) IDs() []string {
	ids := make([]string, len(s.Messages))
	for i, m := range s.Messages {
		ids[i] = m.ID
	}
	return ids
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	if s.LastUsage != nil {
		u := *s.LastUsage
		out.LastUsage = &u
	}
	if s.Pending != nil {
		p := *s.Pending
		p.Calls = make([]GatedCall, len(s.Pending.Calls))
		for i, c := range s.Pending.Calls {
			p.Calls[i] = c
			p.Calls[i].Arguments = append(json.RawMessage(nil), c.Arguments...)
		}
		out.Pending = &p
	}
	return &out
}
