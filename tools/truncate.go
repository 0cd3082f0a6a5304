package tools

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is shortened.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Limits configures output truncation per tool.
type Limits struct {
	Chars map[string]int
	Lines map[string]int
	Modes map[string]TruncationMode
}

// DefaultLimits returns the built-in per-tool limits.
func DefaultLimits() Limits {
	return Limits{
		Chars: map[string]int{
			"read_file":  50000,
			"shell":      30000,
			"grep":       20000,
			"glob":       20000,
			"list_dir":   20000,
			"edit_file":  10000,
			"write_file": 1000,
		},
		Lines: map[string]int{
			"shell": 256,
			"grep":  200,
			"glob":  500,
		},
		Modes: map[string]TruncationMode{
			"grep":       TruncateTail,
			"glob":       TruncateTail,
			"edit_file":  TruncateTail,
			"write_file": TruncateTail,
		},
	}
}

const fallbackCharLimit = 30000

// ElisionMarker formats the marker inserted where characters were removed.
func ElisionMarker(removed int) string {
	return fmt.Sprintf("\n\n[... %d characters elided. Re-run the tool with narrower parameters to see this part ...]\n\n", removed)
}

// TruncateOutput shortens output to about maxChars characters.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[... first %d characters elided ...]\n\n", removed) + output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] + ElisionMarker(removed) + output[len(output)-(maxChars-half):]
}

// TruncateLines keeps the first and last lines of output when it exceeds
// maxLines.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// Apply runs the truncation pipeline for one tool: characters first, then
// lines.
func (l Limits) Apply(toolName, output string) string {
	maxChars, ok := l.Chars[toolName]
	if !ok {
		maxChars = fallbackCharLimit
	}
	mode, ok := l.Modes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)
	if maxLines := l.Lines[toolName]; maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
