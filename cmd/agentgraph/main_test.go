package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/agentgraph/checkpoint"
	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/events"
	"github.com/martinemde/agentgraph/gate"
)

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want gate.Decision
		ok   bool
	}{
		{in: "y", want: gate.Approve(gate.RememberNone), ok: true},
		{in: " YES ", want: gate.Approve(gate.RememberNone), ok: true},
		{in: "a", want: gate.Approve(gate.RememberExact), ok: true},
		{in: "prefix", want: gate.Approve(gate.RememberPrefix), ok: true},
		{in: "n", want: gate.Reject(), ok: true},
		{in: "maybe", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseAnswer(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n  b\tc"))
	long := strings.Repeat("x", 500)
	got := preview(long)
	assert.Len(t, []rune(got), previewChars)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestRendererTracksRunningTools(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.Render(events.Event{Kind: events.ThinkingStarted})
	r.Render(events.Event{Kind: events.StreamingDelta, Delta: "Listing "})
	r.Render(events.Event{Kind: events.StreamingDelta, Delta: "files"})
	r.Render(events.Event{Kind: events.ToolInvoked, Tool: &events.ToolInfo{CallID: "c1", Name: "shell", Arguments: `{"command":"ls"}`}})
	assert.True(t, r.toolRunning())
	r.Render(events.Event{Kind: events.ToolResult, Tool: &events.ToolInfo{CallID: "c1", Name: "shell", Output: "a.txt"}})
	assert.False(t, r.toolRunning())
	r.Render(events.Event{Kind: events.RunDone, Interrupted: true})

	out := buf.String()
	assert.Contains(t, out, "thinking…")
	assert.Contains(t, out, "Listing files\n")
	assert.Contains(t, out, "→ shell")
	assert.Contains(t, out, "✓ shell a.txt")
	assert.Contains(t, out, "[interrupted]")
}

func TestRendererConfirmation(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	r.Render(events.Event{Kind: events.ConfirmationRequired, Confirmation: &conversation.PendingConfirmation{
		Calls: []conversation.GatedCall{
			{CallID: "c1", Name: "shell", Arguments: json.RawMessage(`{"command":"git commit -m x"}`), Prefix: "git commit"},
			{CallID: "c2", Name: "write_file", Arguments: json.RawMessage(`{"file_path":"a.txt"}`)},
		},
	}})
	out := buf.String()
	assert.Contains(t, out, "Approval required")
	assert.Contains(t, out, "(prefix: git commit)")
	assert.Contains(t, out, "write_file")
}

func TestRendererCompaction(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	r.Render(events.Event{Kind: events.CompactionCompleted, Compaction: &events.CompactionInfo{BeforeTokens: 900, AfterTokens: 120}})
	r.Render(events.Event{Kind: events.CompactionCompleted, Compaction: &events.CompactionInfo{BeforeTokens: 900, AfterTokens: 900}})
	assert.Contains(t, buf.String(), "compacted 900 → 120 tokens")
	assert.Contains(t, buf.String(), "compaction skipped")
}

func TestCurrentThread(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := currentThread(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	again, err := currentThread(dir)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, setCurrentThread(dir, "other"))
	got, err := currentThread(dir)
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestWriteFormatted(t *testing.T) {
	st := conversation.NewState("t1")
	st.Append(conversation.NewHuman("hello"))

	var js bytes.Buffer
	require.NoError(t, writeFormatted(&js, "json", st))
	var decoded conversation.State
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "t1", decoded.ThreadID)

	var ym bytes.Buffer
	require.NoError(t, writeFormatted(&ym, "yaml", st))
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &doc))
	assert.Equal(t, "t1", doc["thread_id"])
	assert.Equal(t, "idle", doc["status"])

	assert.Error(t, writeFormatted(&bytes.Buffer{}, "xml", st))
}

func TestSetConfigValueKeepsOtherSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  name: gpt-4o\nagent:\n  keep_recent: 4\n"), 0o644))

	require.NoError(t, setConfigValue(path, "agent", "permission_mode", "plan"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "gpt-4o", doc["model"]["name"])
	assert.Equal(t, 4, doc["agent"]["keep_recent"])
	assert.Equal(t, "plan", doc["agent"]["permission_mode"])
}

func TestRootCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"chat", "state", "history", "compact", "clear", "mode"} {
		assert.True(t, names[want], want)
	}
}

func TestStateAndHistoryCommands(t *testing.T) {
	dataDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "agentgraph.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  data_dir: "+dataDir+"\n"), 0o644))

	store, err := checkpoint.OpenSQLite(context.Background(), filepath.Join(dataDir, "checkpoints.db"))
	require.NoError(t, err)
	st := conversation.NewState("t1")
	st.Append(conversation.NewHuman("hello"))
	_, err = store.Save(context.Background(), checkpoint.Checkpoint{ThreadID: "t1", Node: "__start__", State: st})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	t.Cleanup(func() { threadFlag = "" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"state", "--config", cfgPath, "--thread", "t1", "--format", "yaml"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "thread_id: t1")
	assert.Contains(t, out.String(), "text: hello")

	out.Reset()
	rootCmd.SetArgs([]string{"history", "--config", cfgPath, "--thread", "t1"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "SEQ")
	assert.Contains(t, out.String(), "__start__")

	rootCmd.SetArgs([]string{"state", "--config", cfgPath, "--thread", "missing"})
	assert.Error(t, rootCmd.Execute())
}
