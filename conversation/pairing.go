package conversation

// ResultIDs returns the set of tool call ids answered by a ToolResult.
func ResultIDs(msgs []Message) map[string]bool {
	ids := make(map[string]bool)
	for _, m := range msgs {
		if m.Kind == KindToolResult && m.ToolResult != nil {
			ids[m.ToolResult.ToolCallID] = true
		}
	}
	return ids
}

// DanglingCalls returns tool call requests that have no matching result,
// in order of appearance.
func DanglingCalls(msgs []Message) []ToolCallRequest {
	answered := ResultIDs(msgs)
	var out []ToolCallRequest
	for _, m := range msgs {
		for _, tc := range m.ToolCalls() {
			if !answered[tc.ID] {
				out = append(out, tc)
			}
		}
	}
	return out
}

// OrphanResults returns the ids of tool results that reference no request.
func OrphanResults(msgs []Message) []string {
	requested := make(map[string]bool)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls() {
			requested[tc.ID] = true
		}
	}
	var out []string
	for _, m := range msgs {
		if m.Kind == KindToolResult && m.ToolResult != nil && !requested[m.ToolResult.ToolCallID] {
			out = append(out, m.ID)
		}
	}
	return out
}

// UnansweredCalls returns the tool calls of the most recent assistant
// message that have no result yet.
func (s *State) UnansweredCalls() []ToolCallRequest {
	idx := s.LastAssistant()
	if idx < 0 {
		return nil
	}
	return DanglingCalls(s.Messages[idx:])
}

// CloseDangling appends one error ToolResult with content for every
// dangling call and returns how many were added.
func (s *State) CloseDangling(content string) int {
	dangling := DanglingCalls(s.Messages)
	for _, tc := range dangling {
		r := NewToolResult(tc.ID, tc.Name, content, true)
		r.Synthetic = true
		s.Messages = append(s.Messages, r)
	}
	return len(dangling)
}
