// Package prompt assembles the system prompt and the ambient context the
// agent node sends ahead of the conversation history.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/agentgraph/model"
	"github.com/martinemde/agentgraph/permission"
	"github.com/martinemde/agentgraph/tools"
)

// Builder produces system prompts for one working environment.
type Builder struct {
	env              tools.Environment
	provider         string
	userInstructions string
	now              func() time.Time
	ambient          bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithProvider selects which provider-specific instruction files load.
func WithProvider(provider string) Option {
	return func(b *Builder) {
		b.provider = provider
	}
}

// WithUserInstructions appends operator-supplied instructions last, so
// they take precedence.
func WithUserInstructions(text string) Option {
	return func(b *Builder) {
		b.userInstructions = text
	}
}

// WithClock overrides the date source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithoutAmbientContext omits the git context and project docs.
func WithoutAmbientContext() Option {
	return func(b *Builder) {
		b.ambient = false
	}
}

// NewBuilder creates a Builder for env.
func NewBuilder(env tools.Environment, opts ...Option) *Builder {
	b := &Builder{env: env, now: time.Now, ambient: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the system prompt for one agent step.
func (b *Builder) Build(settings permission.Settings, defs []model.ToolDefinition) string {
	var sb strings.Builder

	sb.WriteString(basePrompt)
	sb.WriteString("\n\n")

	if note := modeNote(settings.Mode); note != "" {
		sb.WriteString(note)
		sb.WriteString("\n\n")
	}

	sb.WriteString(EnvironmentBlock(b.env, settings.Model, b.now()))
	sb.WriteString("\n\n")

	if b.ambient {
		if gitCtx := GitContext(b.env.WorkingDirectory()); gitCtx != "" {
			sb.WriteString(gitCtx)
			sb.WriteString("\n\n")
		}
	}

	if len(defs) > 0 {
		sb.WriteString("# Available Tools\n\n")
		for _, def := range defs {
			fmt.Fprintf(&sb, "## %s\n%s\n\n", def.Name, def.Description)
		}
	}

	if b.ambient {
		if docs := ProjectDocs(b.env.WorkingDirectory(), b.provider); docs != "" {
			sb.WriteString("# Project Instructions\n\n")
			sb.WriteString(docs)
			sb.WriteString("\n\n")
		}
	}

	if b.userInstructions != "" {
		sb.WriteString("# User Instructions\n\n")
		sb.WriteString(b.userInstructions)
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func modeNote(mode permission.Mode) string {
	switch mode {
	case permission.ModePlan:
		return "# Plan Mode\n\nYou are in plan mode. Only read-only tools are available. Investigate, then present a concrete plan for the user to approve. Do not attempt to modify files or run commands."
	case permission.ModeAcceptEdits:
		return "# Permissions\n\nFile edits are pre-approved. Shell commands other than safe read-only ones still require the user's confirmation."
	case permission.ModeBypass:
		return "# Permissions\n\nAll tool calls are pre-approved. Take extra care with destructive commands."
	default:
		return ""
	}
}

const basePrompt = `You are an autonomous coding agent. You help users with software engineering tasks by reading files, editing code, running commands, and iterating until the task is done.

# Core Principles

- Read files before editing them. Understand existing code before changing it.
- Prefer editing existing files over creating new ones.
- Keep changes minimal and focused on what was asked.
- After making changes, verify them by reading the modified file or running relevant tests.
- Prefer short-running shell commands, and pass timeout_ms for long ones.

# Tool Usage

- read_file to examine files; edit_file for targeted replacements; write_file only for new files.
- grep to search contents, glob to find files by name, list_dir to see a directory.
- shell for builds, tests and other commands.

# Confirmation

Some tool calls need the user's approval. If the user rejects a call, the action was not performed: do not retry it, ask the user how to proceed.

# Errors

- If a tool call fails, read the error and try a different approach.
- If edit_file cannot find old_string, re-read the file for its current content.
- If a command fails, inspect the output and fix the cause.`
