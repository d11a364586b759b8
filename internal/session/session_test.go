package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasValidOutput(t *testing.T) {
	tests := []struct {
		name string
		msgs []Message
		want bool
	}{
		{"empty", nil, false},
		{"user text only", []Message{{Role: RoleUser, Parts: []Part{TextPart("do it")}}}, false},
		{"assistant text", []Message{{Role: RoleAssistant, Parts: []Part{TextPart("done")}}}, true},
		{"whitespace reasoning", []Message{{Role: RoleAssistant, Parts: []Part{{Type: PartReasoning, Text: " \n\t"}}}}, false},
		{"reasoning", []Message{{Role: RoleAssistant, Parts: []Part{{Type: PartReasoning, Text: "thinking"}}}}, true},
		{"tool call", []Message{{Role: RoleAssistant, Parts: []Part{{Type: PartTool, Tool: "Read"}}}}, true},
		{"blank tool result", []Message{{Role: RoleAssistant, Parts: []Part{{Type: PartToolResult, Output: "  "}}}}, false},
		{"tool result", []Message{{Role: RoleAssistant, Parts: []Part{{Type: PartToolResult, Output: "ok"}}}}, true},
		{"earlier turn only", []Message{
			{Role: RoleUser, Parts: []Part{TextPart("first")}},
			{Role: RoleAssistant, Parts: []Part{TextPart("old answer")}},
			{Role: RoleUser, Parts: []Part{TextPart("answer: memory")}},
		}, false},
		{"resumed turn answered", []Message{
			{Role: RoleAssistant, Parts: []Part{TextPart("old answer")}},
			{Role: RoleUser, Parts: []Part{TextPart("answer: memory")}},
			{Role: RoleAssistant, Parts: []Part{TextPart("done")}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasValidOutput(tt.msgs))
		})
	}
}

func TestLastAssistantText(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Parts: []Part{TextPart("first")}},
		{Role: RoleAssistant, Parts: []Part{TextPart("old answer")}},
		{Role: RoleUser, Parts: []Part{TextPart("second")}},
		{Role: RoleAssistant, Parts: []Part{{Type: PartTool, Tool: "Read"}, TextPart(" part one ")}},
		{Role: RoleAssistant, Parts: []Part{TextPart("part two")}},
	}
	assert.Equal(t, "part one\n\npart two", LastAssistantText(msgs))
	assert.Equal(t, "", LastAssistantText(nil))
}
