package budget

import (
	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/tools"
)

// MaxTrimmedResultChars bounds tool results outside the recent window
// once trimming starts.
const MaxTrimmedResultChars = 2000

// TrimResult describes what Trim did.
type TrimResult struct {
	Messages  []conversation.Message
	Before    int
	After     int
	Truncated int
	Dropped   int
}

// unit is a run of messages removed together: an assistant message with
// its tool results, or any other single message.
type unit struct {
	indexes   []int
	protected bool
}

// Trim fits msgs under limit tokens. System messages and the newest
// keepRecent messages are kept verbatim. Oversized tool results are
// shortened first; then the oldest messages are dropped. A tool call and
// its result are always kept or dropped together. msgs is not modified.
func Trim(msgs []conversation.Message, limit, keepRecent int, est Estimator) TrimResult {
	res := TrimResult{Before: est.Estimate(msgs)}
	out := make([]conversation.Message, len(msgs))
	copy(out, msgs)
	res.Messages, res.After = out, res.Before
	if res.Before <= limit {
		return res
	}

	units := groupUnits(out, keepRecent)

	for _, u := range units {
		if u.protected {
			continue
		}
		for _, i := range u.indexes {
			m := out[i]
			if m.Kind != conversation.KindToolResult || m.ToolResult == nil || len(m.ToolResult.Content) <= MaxTrimmedResultChars {
				continue
			}
			m = m.Clone()
			m.ToolResult.Content = tools.TruncateOutput(m.ToolResult.Content, MaxTrimmedResultChars, tools.TruncateHeadTail)
			out[i] = m
			res.Truncated++
		}
	}
	res.After = est.Estimate(out)

	drop := make(map[int]bool)
	for _, u := range units {
		if res.After <= limit {
			break
		}
		if u.protected {
			continue
		}
		for _, i := range u.indexes {
			drop[i] = true
			res.After -= EstimateMessage(out[i])
		}
	}

	if len(drop) > 0 {
		kept := make([]conversation.Message, 0, len(out)-len(drop))
		for i, m := range out {
			if !drop[i] {
				kept = append(kept, m)
			}
		}
		res.Messages = kept
		res.Dropped = len(drop)
		res.After = est.Estimate(kept)
	} else {
		res.Messages = out
	}
	return res
}

// HistoryLimit returns the tokens msgs may use when the whole prompt must
// fit limit. Provider-reported usage covers the system prompt and tool
// definitions on top of the history, so that difference is subtracted.
func HistoryLimit(msgs []conversation.Message, limit int, est Estimator) int {
	overhead := max(Usage(msgs, est)-est.Estimate(msgs), 0)
	return max(limit-overhead, 0)
}

// groupUnits partitions the non-system messages into removal units in
// history order. A unit is protected when any of its messages is among
// the newest keepRecent non-system messages.
func groupUnits(msgs []conversation.Message, keepRecent int) []unit {
	nonSystem := 0
	for _, m := range msgs {
		if m.Kind != conversation.KindSystem {
			nonSystem++
		}
	}
	recentFrom := nonSystem - keepRecent

	callOwner := make(map[string]int)
	var units []unit
	seen := 0
	for i, m := range msgs {
		if m.Kind == conversation.KindSystem {
			continue
		}
		recent := seen >= recentFrom
		seen++

		if m.Kind == conversation.KindToolResult && m.ToolResult != nil {
			if owner, ok := callOwner[m.ToolResult.ToolCallID]; ok {
				units[owner].indexes = append(units[owner].indexes, i)
				units[owner].protected = units[owner].protected || recent
				continue
			}
		}
		units = append(units, unit{indexes: []int{i}, protected: recent})
		for _, tc := range m.ToolCalls() {
			callOwner[tc.ID] = len(units) - 1
		}
	}
	return units
}
