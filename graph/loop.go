package graph

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/martinemde/agentgraph/conversation"
	"github.com/martinemde/agentgraph/permission"
)

// DefaultLoopWindow is how many recent tool calls loop detection inspects.
const DefaultLoopWindow = 10

func loopWarning(window int) string {
	return fmt.Sprintf("[Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.]", window)
}

// callSignature identifies a call by name and canonical arguments.
func callSignature(tc conversation.ToolCallRequest) string {
	sum := blake3.Sum256([]byte(permission.Canonicalize(tc.Arguments)))
	return tc.Name + ":" + hex.EncodeToString(sum[:8])
}

// recentSignatures returns up to n signatures of the latest tool calls in
// history order.
func recentSignatures(msgs []conversation.Message, n int) []string {
	var sigs []string
	for i := len(msgs) - 1; i >= 0 && len(sigs) < n; i-- {
		calls := msgs[i].ToolCalls()
		for j := len(calls) - 1; j >= 0 && len(sigs) < n; j-- {
			sigs = append(sigs, callSignature(calls[j]))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// detectLoop reports whether the last window tool calls repeat a pattern
// of one, two or three calls.
func detectLoop(msgs []conversation.Message, window int) bool {
	if window < 2 {
		return false
	}
	sigs := recentSignatures(msgs, window)
	if len(sigs) < window {
		return false
	}
	for size := 1; size <= 3; size++ {
		if window%size != 0 || window == size {
			continue
		}
		if repeats(sigs, size) {
			return true
		}
	}
	return false
}

func repeats(sigs []string, size int) bool {
	for i := size; i < len(sigs); i++ {
		if sigs[i] != sigs[i%size] {
			return false
		}
	}
	return true
}
