package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/model"
)

// MinCompactMessages is the fewest non-system messages worth compacting.
const MinCompactMessages = 3

// ErrNothingToCompact is returned when there are too few messages.
var ErrNothingToCompact = errors.New("budget: too few messages to compact")

// CompactionNotice is the text of the synthetic assistant message that
// precedes the summary.
const CompactionNotice = "[Earlier conversation was compacted into the summary that follows to stay within the context window.]"

const continueInstruction = "Continue the conversation from where it left off without asking the user any further questions. Resume the last task directly."

const summarySystemPrompt = `You summarize a software engineering conversation between a user and a coding assistant so that the assistant can continue the work without the original transcript.
Be precise and factual. Keep file paths, commands, function names, error messages and decisions verbatim where they matter. Do not invent anything that is not in the transcript.`

var summarySections = []struct {
	title string
	ask   string
}{
	{"Technical Context", "Languages, frameworks, tools, environment and conventions in use."},
	{"Project Overview", "What the project is and what the user is trying to achieve."},
	{"Changes Made", "Files created or modified and what changed in each."},
	{"Issues and Resolutions", "Errors hit, how they were fixed, and anything still broken."},
	{"Current Status", "Exactly where the work stands right now."},
	{"Pending Tasks", "Work the user asked for that is not done yet."},
	{"User Preferences", "Style, constraints and feedback the user expressed."},
	{"Key Decisions", "Design choices made and the reasons given for them."},
}

// SummaryPrompt builds the user prompt asking for a structured summary of
// history. System messages are skipped.
func SummaryPrompt(history []conversation.Message) string {
	var sb strings.Builder
	sb.WriteString("Summarize the conversation below. Use exactly these sections as markdown headings:\n\n")
	for i, s := range summarySections {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, s.title, s.ask)
	}
	sb.WriteString("\n<transcript>\n")
	for _, m := range history {
		renderMessage(&sb, m)
	}
	sb.WriteString("</transcript>\n")
	return sb.String()
}

func renderMessage(sb *strings.Builder, m conversation.Message) {
	switch m.Kind {
	case conversation.KindHuman:
		fmt.Fprintf(sb, "USER: %s\n\n", m.Text())
	case conversation.KindAssistant:
		if text := m.Text(); text != "" {
			fmt.Fprintf(sb, "ASSISTANT: %s\n", text)
		}
		for _, tc := range m.ToolCalls() {
			fmt.Fprintf(sb, "ASSISTANT called %s %s\n", tc.Name, string(tc.Arguments))
		}
		sb.WriteString("\n")
	case conversation.KindToolResult:
		if m.ToolResult == nil {
			return
		}
		status := "result"
		if m.ToolResult.IsError {
			status = "error"
		}
		content := m.ToolResult.Content
		if len(content) > MaxTrimmedResultChars {
			content = content[:MaxTrimmedResultChars/2] + "\n[...]\n" + content[len(content)-MaxTrimmedResultChars/2:]
		}
		fmt.Fprintf(sb, "TOOL %s (%s): %s\n\n", m.ToolResult.ToolName, status, content)
	case conversation.KindSystem:
	}
}

// Compaction is the outcome of a successful Compact.
type Compaction struct {
	Update  conversation.Update
	Summary string
	Before  int
	After   int
}

// Compactor replaces a conversation's non-system history with an
// LLM-generated summary.
type Compactor struct {
	Invoker   model.Invoker
	Model     string
	Provider  string
	Estimator Estimator
}

// Compact summarizes state and returns the update that swaps the
// non-system history for a compaction notice and the summary. It returns
// ErrNothingToCompact when fewer than MinCompactMessages non-system
// messages exist. state is not modified.
func (c *Compactor) Compact(ctx context.Context, state *conversation.State) (*Compaction, error) {
	est := c.estimator()
	before := Usage(state.Messages, est)

	history := state.NonSystem()
	if len(history) < MinCompactMessages {
		return nil, ErrNothingToCompact
	}

	resp, err := c.Invoker.Invoke(ctx, model.Request{
		Model:    c.Model,
		Provider: c.Provider,
		Messages: []model.Message{
			model.SystemMessage(summarySystemPrompt),
			model.UserMessage(SummaryPrompt(history)),
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return nil, errors.New("summarize: model returned an empty summary")
	}

	notice := conversation.NewAssistant(CompactionNotice, nil, nil)
	notice.Synthetic = true
	body := conversation.NewHuman("Summary of the conversation so far:\n\n" + summary + "\n\n" + continueInstruction)
	body.Synthetic = true

	update := conversation.Update{Add: []conversation.Message{notice, body}}
	for _, m := range history {
		update.Remove = append(update.Remove, m.ID)
	}

	after := est.Estimate(state.Messages) - est.Estimate(history) + est.Estimate(update.Add)
	return &Compaction{Update: update, Summary: summary, Before: before, After: after}, nil
}

func (c *Compactor) estimator() Estimator {
	if c.Estimator != nil {
		return c.Estimator
	}
	return HeuristicEstimator{}
}
