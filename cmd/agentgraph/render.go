package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/events"
)

const previewChars = 160

// renderer prints a run's event stream for a person at a terminal.
type renderer struct {
	out io.Writer

	dim        lipgloss.Style
	tool       lipgloss.Style
	ok         lipgloss.Style
	failed     lipgloss.Style
	notice     lipgloss.Style
	confirmBox lipgloss.Style
	label      lipgloss.Style

	streaming    bool
	runningTools int
}

func newRenderer(out io.Writer) *renderer {
	r := lipgloss.NewRenderer(out)
	return &renderer{
		out:    out,
		dim:    r.NewStyle().Foreground(lipgloss.Color("243")).Italic(true),
		tool:   r.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")),
		failed: r.NewStyle().Foreground(lipgloss.Color("203")),
		notice: r.NewStyle().Foreground(lipgloss.Color("212")),
		confirmBox: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),
		label: r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// toolRunning reports whether a tool call has started without a result.
func (r *renderer) toolRunning() bool {
	return r.runningTools > 0
}

func (r *renderer) endStream() {
	if r.streaming {
		fmt.Fprintln(r.out)
		r.streaming = false
	}
}

// Render prints one event.
func (r *renderer) Render(ev events.Event) {
	switch ev.Kind {
	case events.ThinkingStarted:
		r.endStream()
		fmt.Fprintln(r.out, r.dim.Render("thinking…"))
	case events.StreamingDelta:
		r.streaming = true
		fmt.Fprint(r.out, ev.Delta)
	case events.ToolInvoked:
		r.endStream()
		r.runningTools++
		fmt.Fprintf(r.out, "%s %s\n", r.tool.Render("→ "+ev.Tool.Name), r.dim.Render(preview(ev.Tool.Arguments)))
	case events.ToolProgress:
	case events.ToolResult:
		r.endStream()
		if r.runningTools > 0 {
			r.runningTools--
		}
		mark := r.ok.Render("✓ " + ev.Tool.Name)
		if ev.Tool.IsError {
			mark = r.failed.Render("✗ " + ev.Tool.Name)
		}
		fmt.Fprintf(r.out, "%s %s\n", mark, r.dim.Render(preview(ev.Tool.Output)))
	case events.ResponseReady:
		r.endStream()
	case events.ConfirmationRequired:
		r.endStream()
		r.Confirmation(ev.Confirmation)
	case events.CompactionStarted:
		r.endStream()
		fmt.Fprintln(r.out, r.notice.Render("compacting conversation…"))
	case events.CompactionCompleted:
		c := ev.Compaction
		if c.BeforeTokens == c.AfterTokens {
			fmt.Fprintln(r.out, r.notice.Render("compaction skipped"))
			return
		}
		fmt.Fprintln(r.out, r.notice.Render(fmt.Sprintf("compacted %d → %d tokens", c.BeforeTokens, c.AfterTokens)))
	case events.Error:
		r.endStream()
		fmt.Fprintln(r.out, r.failed.Render("error: "+ev.Err))
	case events.RunDone:
		r.endStream()
		r.runningTools = 0
		if ev.Interrupted {
			fmt.Fprintln(r.out, r.dim.Render("[interrupted]"))
		}
	}
}

// Confirmation prints the calls awaiting a decision.
func (r *renderer) Confirmation(p *conversation.PendingConfirmation) {
	if p == nil {
		return
	}
	var b strings.Builder
	b.WriteString(r.label.Render("Approval required"))
	for _, c := range p.Calls {
		b.WriteString("\n")
		b.WriteString(r.tool.Render(c.Name))
		b.WriteString(" ")
		b.WriteString(preview(string(c.Arguments)))
		if c.Prefix != "" {
			b.WriteString(r.dim.Render(fmt.Sprintf(" (prefix: %s)", c.Prefix)))
		}
	}
	fmt.Fprintln(r.out, r.confirmBox.Render(b.String()))
}

// preview flattens s to one line of at most previewChars characters.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= previewChars {
		return s
	}
	return string(runes[:previewChars-1]) + "…"
}
