package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/agentgraph/model"
	"github.com/martinemde/agentgraph/permission"
	"github.com/martinemde/agentgraph/tools"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
}

func TestEnvironmentBlock(t *testing.T) {
	dir := t.TempDir()
	block := EnvironmentBlock(tools.NewLocalEnvironment(dir), "qwen3:8b", fixedClock())
	assert.True(t, strings.HasPrefix(block, "<environment>\n"))
	assert.Contains(t, block, "Working directory: "+dir)
	assert.Contains(t, block, "Today's date: 2026-03-04")
	assert.Contains(t, block, "Model: qwen3:8b")
}

func TestProjectDocsWalksHierarchy(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "svc")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "AGENTS.md"), []byte("root rules"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "AGENTS.md"), []byte("svc rules"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "CLAUDE.md"), []byte("claude rules"), 0o644))

	docs := ProjectDocs(sub, "ollama")
	assert.NotContains(t, docs, "root rules", "outside a repository only the working directory is read")
	assert.Contains(t, docs, "svc rules")
	assert.NotContains(t, docs, "claude rules")

	docs = ProjectDocs(sub, "anthropic")
	assert.Contains(t, docs, "claude rules")
}

func TestProjectDocsCapped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte(strings.Repeat("x", maxProjectDocBytes+100)), 0o644))
	docs := ProjectDocs(dir, "")
	assert.Contains(t, docs, "[Project instructions truncated at 32KB]")
}

func TestPathHierarchy(t *testing.T) {
	root := filepath.FromSlash("/a")
	assert.Equal(t, []string{root}, pathHierarchy(root, root))
	assert.Equal(t,
		[]string{root, filepath.FromSlash("/a/b"), filepath.FromSlash("/a/b/c")},
		pathHierarchy(root, filepath.FromSlash("/a/b/c")))
	assert.Equal(t, []string{root}, pathHierarchy(root, filepath.FromSlash("/elsewhere")))
}

func TestBuildIncludesToolsModeAndInstructions(t *testing.T) {
	b := NewBuilder(tools.NewLocalEnvironment(t.TempDir()),
		WithClock(fixedClock),
		WithUserInstructions("Always answer in French."),
		WithoutAmbientContext())

	out := b.Build(permission.Settings{Mode: permission.ModePlan, Model: "m"}, []model.ToolDefinition{
		{Name: "read_file", Description: "Read a file."},
	})
	assert.True(t, strings.HasPrefix(out, "You are an autonomous coding agent."))
	assert.Contains(t, out, "# Plan Mode")
	assert.Contains(t, out, "## read_file\nRead a file.")
	assert.True(t, strings.HasSuffix(out, "Always answer in French."))
	assert.NotContains(t, out, "<git_context>")

	out = b.Build(permission.Settings{Mode: permission.ModeDefault}, nil)
	assert.NotContains(t, out, "# Plan Mode")
	assert.NotContains(t, out, "# Available Tools")
}
