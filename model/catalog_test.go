package model

import "testing"

func TestGetModelInfoByAlias(t *testing.T) {
	info := GetModelInfo("sonnet")
	if info == nil || info.ID != "claude-sonnet-4-5" {
		t.Fatalf("expected sonnet alias to resolve, got %+v", info)
	}
	if GetModelInfo("nope") != nil {
		t.Error("expected nil for unknown model")
	}
}

func TestContextWindow(t *testing.T) {
	if got := ContextWindow("claude-opus-4-6"); got != 200000 {
		t.Errorf("expected 200000, got %d", got)
	}
	if got := ContextWindow("unknown-model"); got != DefaultContextWindow {
		t.Errorf("expected default window, got %d", got)
	}
}

func TestListModelsByProvider(t *testing.T) {
	for _, m := range ListModels("gemini") {
		if m.Provider != "gemini" {
			t.Errorf("unexpected provider %q", m.Provider)
		}
	}
	if len(ListModels("")) != len(Models) {
		t.Error("expected all models without filter")
	}
	if GetLatestModel("openai") == nil {
		t.Error("expected an openai default")
	}
}
