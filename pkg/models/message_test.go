package models

import (
	"encoding/json"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleSystem, true},
		{RoleTool, true},
		{Role("moderator"), false},
		{Role(""), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCloneMessages(t *testing.T) {
	if CloneMessages(nil) != nil {
		t.Fatal("expected nil clone for nil input")
	}

	original := []Message{
		{
			ID:      "m1",
			Role:    RoleAssistant,
			Content: "calling tool",
			ToolCalls: []ToolCall{
				{ID: "tc1", Name: "get_context", Input: json.RawMessage(`{"a":1}`)},
			},
			ToolResults: []ToolResult{{ToolCallID: "tc1", Content: "ok"}},
		},
	}

	clone := CloneMessages(original)
	clone[0].Content = "changed"
	clone[0].ToolCalls[0].Input[2] = 'b'
	clone[0].ToolResults[0].Content = "changed"

	if original[0].Content != "calling tool" {
		t.Errorf("content mutated through clone: %q", original[0].Content)
	}
	if string(original[0].ToolCalls[0].Input) != `{"a":1}` {
		t.Errorf("tool input mutated through clone: %s", original[0].ToolCalls[0].Input)
	}
	if original[0].ToolResults[0].Content != "ok" {
		t.Errorf("tool result mutated through clone: %q", original[0].ToolResults[0].Content)
	}
}
