// Package budget keeps a conversation inside the model's context window:
// token estimation, the trim and compaction thresholds, pair-preserving
// trimming of the outgoing prompt and LLM-driven compaction of state.
package budget

import (
	"unicode"

	"github.com/martinemde/agentgraph/conversation"
)

const (
	// MessageOverhead is the per-message token cost of role markers and
	// framing.
	MessageOverhead = 4
	// ToolCallOverhead is the per-call token cost of the call envelope.
	ToolCallOverhead = 12

	cjkCharsPerToken   = 1.5
	otherCharsPerToken = 4.0
)

// Estimator estimates the token cost of messages.
type Estimator interface {
	Estimate(msgs []conversation.Message) int
}

// HeuristicEstimator weights CJK text at about 1.5 characters per token
// and everything else at about 4.
type HeuristicEstimator struct{}

var _ Estimator = HeuristicEstimator{}

// Estimate sums EstimateMessage over msgs.
func (HeuristicEstimator) Estimate(msgs []conversation.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// EstimateMessage estimates a single message including its overheads.
func EstimateMessage(m conversation.Message) int {
	tokens := MessageOverhead + EstimateText(m.Text())
	for _, tc := range m.ToolCalls() {
		tokens += ToolCallOverhead + EstimateText(tc.Name) + EstimateText(string(tc.Arguments))
	}
	if m.Kind == conversation.KindToolResult && m.ToolResult != nil {
		tokens += EstimateText(m.ToolResult.ToolCallID)
	}
	return tokens
}

// EstimateText estimates the tokens in s.
func EstimateText(s string) int {
	if s == "" {
		return 0
	}
	var cjk, other int
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	est := float64(cjk)/cjkCharsPerToken + float64(other)/otherCharsPerToken
	n := int(est)
	if float64(n) < est {
		n++
	}
	return n
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// Usage returns the token usage of a conversation: the authoritative
// counters of the most recent assistant message that reported them, plus
// an estimate of everything appended after it. With no reported usage the
// whole history is estimated.
func Usage(msgs []conversation.Message, est Estimator) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Kind != conversation.KindAssistant || m.Assistant == nil || m.Assistant.Usage == nil {
			continue
		}
		if m.Assistant.Usage.TotalTokens <= 0 {
			continue
		}
		return m.Assistant.Usage.TotalTokens + est.Estimate(msgs[i+1:])
	}
	return est.Estimate(msgs)
}
