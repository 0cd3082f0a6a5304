package gate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/permission"
	"github.com/martinemde/agentgraph/tools"
)

func newGate() (*Gate, *permission.MemoryStore) {
	reg := tools.NewRegistry()
	tools.RegisterCore(reg, tools.DefaultShellConfig())
	store := permission.NewMemoryStore()
	return New(store, reg), store
}

func shellCall(id, cmd string) conversation.ToolCallRequest {
	args, _ := json.Marshal(map[string]string{"command": cmd})
	return conversation.ToolCallRequest{ID: id, Name: tools.Shell, Arguments: args}
}

func writeCall(id string) conversation.ToolCallRequest {
	return conversation.ToolCallRequest{ID: id, Name: tools.WriteFile, Arguments: json.RawMessage(`{"file_path":"a.txt","content":"x"}`)}
}

func readCall(id string) conversation.ToolCallRequest {
	return conversation.ToolCallRequest{ID: id, Name: tools.ReadFile, Arguments: json.RawMessage(`{"file_path":"a.txt"}`)}
}

func TestAllowedByMode(t *testing.T) {
	g, _ := newGate()
	tests := []struct {
		name string
		mode permission.Mode
		call conversation.ToolCallRequest
		want bool
	}{
		{"bypass shell", permission.ModeBypass, shellCall("1", "rm -rf build"), true},
		{"bypass write", permission.ModeBypass, writeCall("1"), true},
		{"bypass unknown tool", permission.ModeBypass, conversation.ToolCallRequest{ID: "1", Name: "mystery"}, true},
		{"accept-edits write", permission.ModeAcceptEdits, writeCall("1"), true},
		{"accept-edits unsafe shell", permission.ModeAcceptEdits, shellCall("1", "rm -rf build"), false},
		{"accept-edits safe shell", permission.ModeAcceptEdits, shellCall("1", "ls -la"), true},
		{"default read", permission.ModeDefault, readCall("1"), true},
		{"default write", permission.ModeDefault, writeCall("1"), false},
		{"default safe shell", permission.ModeDefault, shellCall("1", "ls"), true},
		{"default unsafe shell", permission.ModeDefault, shellCall("1", "make install"), false},
		{"plan write", permission.ModePlan, writeCall("1"), false},
		{"plan read", permission.ModePlan, readCall("1"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Allowed(tt.mode, tt.call)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGatedCarriesPrefixForShell(t *testing.T) {
	g, _ := newGate()
	gated, err := g.Gated(permission.ModeDefault, []conversation.ToolCallRequest{
		readCall("r"),
		shellCall("s", "git commit -m 'wip'"),
		writeCall("w"),
	})
	require.NoError(t, err)
	require.Len(t, gated, 2)
	assert.Equal(t, "s", gated[0].CallID)
	assert.Equal(t, "git commit", gated[0].Prefix)
	assert.Equal(t, "w", gated[1].CallID)
	assert.Empty(t, gated[1].Prefix)
}

func TestGatedNoneUnderBypass(t *testing.T) {
	g, _ := newGate()
	gated, err := g.Gated(permission.ModeBypass, []conversation.ToolCallRequest{writeCall("w"), shellCall("s", "rm x")})
	require.NoError(t, err)
	assert.Empty(t, gated)
}

func TestRejectProducesOneResultPerCall(t *testing.T) {
	g, store := newGate()
	gated, err := g.Gated(permission.ModeDefault, []conversation.ToolCallRequest{writeCall("w1"), shellCall("s1", "make")})
	require.NoError(t, err)
	pending := NewPending(gated)
	assert.NotEmpty(t, pending.ID)

	msgs, err := g.Resolve(pending, Reject())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for i, m := range msgs {
		assert.Equal(t, conversation.KindToolResult, m.Kind)
		assert.Equal(t, gated[i].CallID, m.ToolResult.ToolCallID)
		assert.Equal(t, RejectionText, m.Text())
		assert.True(t, m.ToolResult.IsError)
	}
	records, _ := store.Records()
	assert.Empty(t, records)
}

func TestApproveRemembersPrefix(t *testing.T) {
	g, _ := newGate()
	first := shellCall("s1", "make build")
	gated, err := g.Gated(permission.ModeDefault, []conversation.ToolCallRequest{first})
	require.NoError(t, err)

	msgs, err := g.Resolve(NewPending(gated), Approve(RememberPrefix))
	require.NoError(t, err)
	assert.Empty(t, msgs)

	ok, err := g.Allowed(permission.ModeDefault, shellCall("s2", "make build --verbose"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Allowed(permission.ModeDefault, shellCall("s3", "make clean"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApproveRemembersExact(t *testing.T) {
	g, store := newGate()
	gated, err := g.Gated(permission.ModeDefault, []conversation.ToolCallRequest{writeCall("w1")})
	require.NoError(t, err)

	_, err = g.Resolve(NewPending(gated), Approve(RememberExact))
	require.NoError(t, err)

	ok, err := g.Allowed(permission.ModeDefault, writeCall("w2"))
	require.NoError(t, err)
	assert.True(t, ok)
	records, _ := store.Records()
	assert.Len(t, records, 1)
}

func TestApproveOnceRemembersNothing(t *testing.T) {
	g, store := newGate()
	gated, _ := g.Gated(permission.ModeDefault, []conversation.ToolCallRequest{writeCall("w1")})
	_, err := g.Resolve(NewPending(gated), Approve(RememberNone))
	require.NoError(t, err)
	records, _ := store.Records()
	assert.Empty(t, records)
}
