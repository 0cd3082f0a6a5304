package model

import "testing"

func TestUsageAddAndTotal(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 5}
	b := Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}

	sum := a.Add(b)
	if sum.InputTokens != 11 || sum.OutputTokens != 7 || sum.TotalTokens != 3 {
		t.Errorf("Add = %+v", sum)
	}
	if got := a.Total(); got != 15 {
		t.Errorf("Total without reported total = %d, want 15", got)
	}
	if got := b.Total(); got != 3 {
		t.Errorf("Total = %d, want 3", got)
	}
}

func TestMessageConstructors(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "shell", Arguments: []byte(`{"command":"ls"}`)}
	resp := Response{Message: AssistantMessage("listing", call)}
	if resp.Text() != "listing" {
		t.Errorf("Text = %q", resp.Text())
	}
	if calls := resp.ToolCalls(); len(calls) != 1 || calls[0].ID != "c1" {
		t.Errorf("ToolCalls = %+v", calls)
	}

	tr := ToolResultMessage("c1", "a.txt", true)
	if tr.Role != RoleTool || tr.ToolCallID != "c1" || !tr.IsError {
		t.Errorf("ToolResultMessage = %+v", tr)
	}
	if m := SystemMessage("s"); m.Role != RoleSystem {
		t.Errorf("SystemMessage role = %s", m.Role)
	}
	if m := UserMessage("u"); m.Role != RoleUser || m.Text != "u" {
		t.Errorf("UserMessage = %+v", m)
	}
}

func TestJoinText(t *testing.T) {
	if got := joinText("a", "  ", "", "b"); got != "a\nb" {
		t.Errorf("joinText = %q", got)
	}
}
