// Package gate decides which tool calls need human confirmation and turns
// a human decision into conversation content.
package gate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/permission"
	"github.com/martinemde/agentgraph/tools"
)

// RejectionText is the result content of a rejected call.
const RejectionText = "The user rejected this tool call. The action was NOT performed. Do not retry it; ask the user how they would like to proceed."

// Remember selects whether an approval is persisted.
type Remember string

const (
	RememberNone   Remember = ""
	RememberExact  Remember = "exact"
	RememberPrefix Remember = "prefix"
)

// Decision is a human answer to a pending confirmation.
type Decision struct {
	Approve  bool     `json:"approve"`
	Remember Remember `json:"remember,omitempty"`
}

// Approve returns an approving decision.
func Approve(remember Remember) Decision {
	return Decision{Approve: true, Remember: remember}
}

// Reject returns a rejecting decision.
func Reject() Decision {
	return Decision{}
}

// KindResolver reports the side-effect class of a tool.
type KindResolver interface {
	KindOf(name string) tools.Kind
}

// Gate applies the confirmation rule.
type Gate struct {
	store permission.Store
	kinds KindResolver
}

// New creates a Gate backed by store. kinds is usually the tool registry.
func New(store permission.Store, kinds KindResolver) *Gate {
	return &Gate{store: store, kinds: kinds}
}

// Store returns the permission store.
func (g *Gate) Store() permission.Store {
	return g.store
}

// Allowed reports whether call may run without confirmation under mode.
func (g *Gate) Allowed(mode permission.Mode, call conversation.ToolCallRequest) (bool, error) {
	if mode == permission.ModeBypass {
		return true, nil
	}
	kind := g.kinds.KindOf(call.Name)
	if kind == tools.KindReadOnly {
		return true, nil
	}
	if mode == permission.ModeAcceptEdits && kind != tools.KindShell {
		return true, nil
	}
	ok, err := g.store.IsAllowed(call.Name, call.Arguments)
	if err != nil {
		return false, fmt.Errorf("permission lookup for %s: %w", call.Name, err)
	}
	return ok, nil
}

// Gated returns the calls that need confirmation, in order. Shell calls
// carry their derived command prefix.
func (g *Gate) Gated(mode permission.Mode, calls []conversation.ToolCallRequest) ([]conversation.GatedCall, error) {
	var gated []conversation.GatedCall
	for _, call := range calls {
		ok, err := g.Allowed(mode, call)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		gated = append(gated, conversation.GatedCall{
			CallID:    call.ID,
			Name:      call.Name,
			Arguments: append(json.RawMessage(nil), call.Arguments...),
			Prefix:    g.prefix(call),
		})
	}
	return gated, nil
}

func (g *Gate) prefix(call conversation.ToolCallRequest) string {
	if g.kinds.KindOf(call.Name) != tools.KindShell {
		return ""
	}
	cmd, ok := permission.CommandFromArgs(call.Arguments)
	if !ok {
		return ""
	}
	return permission.CommandPrefix(cmd)
}

// NewPending wraps gated calls in a fresh pending confirmation.
func NewPending(calls []conversation.GatedCall) *conversation.PendingConfirmation {
	return &conversation.PendingConfirmation{
		ID:          uuid.NewString(),
		Calls:       calls,
		RequestedAt: time.Now().UTC(),
	}
}

// Resolve applies d to pending. Approval persists records as requested and
// returns no messages. Rejection returns one rejection result per gated
// call.
func (g *Gate) Resolve(pending *conversation.PendingConfirmation, d Decision) ([]conversation.Message, error) {
	if pending == nil {
		return nil, nil
	}
	if !d.Approve {
		return Rejections(pending.Calls), nil
	}
	if d.Remember == RememberNone {
		return nil, nil
	}
	for _, call := range pending.Calls {
		if _, err := g.store.Remember(call.Name, call.Arguments, d.Remember == RememberPrefix); err != nil {
			return nil, fmt.Errorf("remember %s: %w", call.Name, err)
		}
	}
	return nil, nil
}

// Rejections builds one rejection result per call.
func Rejections(calls []conversation.GatedCall) []conversation.Message {
	out := make([]conversation.Message, 0, len(calls))
	for _, call := range calls {
		m := conversation.NewToolResult(call.CallID, call.Name, RejectionText, true)
		m.Synthetic = true
		out = append(out, m)
	}
	return out
}
