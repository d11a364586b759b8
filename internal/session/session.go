// Package session defines the contract conductor consumes from the agent
// runtime that hosts subagent sessions.
//
// The runtime offers no blocking "wait for completion" call. Callers observe
// progress by polling Status and Messages; see package convergence.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// StatusType is the coarse activity state of a session.
type StatusType string

const (
	StatusIdle    StatusType = "idle"
	StatusWorking StatusType = "working"
)

// Status is one entry of the runtime's status map.
type Status struct {
	Type StatusType `json:"type"`
}

// PartType identifies the kind of a message part.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartTool       PartType = "tool"
	PartToolResult PartType = "tool_result"
)

// Part is a single piece of message content.
type Part struct {
	Type   PartType        `json:"type"`
	Text   string          `json:"text,omitempty"`
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  bool            `json:"error,omitempty"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a session transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is the runtime API used to drive subagent sessions.
type Client interface {
	// Create starts a new session as a child of parentID.
	Create(ctx context.Context, parentID, title string) (string, error)
	// Prompt submits parts to sessionID for agent. It returns once the prompt
	// is accepted, not when the session finishes.
	Prompt(ctx context.Context, sessionID, agent string, parts []Part) error
	// Status returns the activity state of every known session.
	Status(ctx context.Context) (map[string]Status, error)
	// Messages returns the transcript of sessionID.
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	// Abort asks the runtime to stop sessionID.
	Abort(ctx context.Context, sessionID string) error
}

// TextPart is a convenience constructor for a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// HasValidOutput reports whether any assistant message after the most recent
// user message carries real output:
// non-blank text or reasoning, a tool invocation, or a non-blank tool result.
// Whitespace-only reasoning does not count.
func HasValidOutput(msgs []Message) bool {
	for _, m := range currentTurn(msgs) {
		if m.Role != RoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			switch p.Type {
			case PartText, PartReasoning:
				if strings.TrimSpace(p.Text) != "" {
					return true
				}
			case PartTool:
				if p.Tool != "" {
					return true
				}
			case PartToolResult:
				if strings.TrimSpace(p.Output) != "" {
					return true
				}
			}
		}
	}
	return false
}

// LastAssistantText joins the text parts of the assistant messages that
// follow the most recent user message.
func LastAssistantText(msgs []Message) string {
	var texts []string
	for _, m := range currentTurn(msgs) {
		if m.Role != RoleAssistant {
			continue
		}
		for _, p := range m.Parts {
			if p.Type == PartText && strings.TrimSpace(p.Text) != "" {
				texts = append(texts, strings.TrimSpace(p.Text))
			}
		}
	}
	return strings.Join(texts, "\n\n")
}

// currentTurn returns the messages after the most recent user message.
func currentTurn(msgs []Message) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i+1:]
		}
	}
	return msgs
}
