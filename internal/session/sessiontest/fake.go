// Package sessiontest provides an in-memory session.Client for tests.
package sessiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShayCichocki/conductor/internal/session"
)

// Prompt records one Prompt call.
type Prompt struct {
	SessionID string
	Agent     string
	Parts     []session.Part
}

// Fake is a scriptable session.Client. All methods are safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	next     int
	parents  map[string]string
	statuses map[string]session.Status
	messages map[string][]session.Message
	prompts  []Prompt
	aborted  []string

	statusCalls int

	// OnPrompt runs after a prompt is recorded, outside the lock.
	OnPrompt func(f *Fake, p Prompt)
	// OnStatus runs before every Status call returns, outside the lock. The
	// argument is the 1-based call count, which lets tests script a timeline.
	OnStatus func(f *Fake, call int)
	// CreateErr, PromptErr and MessagesErr force failures.
	CreateErr   error
	PromptErr   error
	MessagesErr error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		parents:  make(map[string]string),
		statuses: make(map[string]session.Status),
		messages: make(map[string][]session.Message),
	}
}

var _ session.Client = (*Fake)(nil)

// Create implements session.Client.
func (f *Fake) Create(_ context.Context, parentID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.next++
	id := fmt.Sprintf("ses_%d", f.next)
	f.parents[id] = parentID
	f.statuses[id] = session.Status{Type: session.StatusIdle}
	return id, nil
}

// Prompt implements session.Client.
func (f *Fake) Prompt(_ context.Context, sessionID, agent string, parts []session.Part) error {
	f.mu.Lock()
	if f.PromptErr != nil {
		f.mu.Unlock()
		return f.PromptErr
	}
	p := Prompt{SessionID: sessionID, Agent: agent, Parts: parts}
	f.prompts = append(f.prompts, p)
	f.messages[sessionID] = append(f.messages[sessionID], session.Message{
		ID:    fmt.Sprintf("msg_%d", len(f.messages[sessionID])+1),
		Role:  session.RoleUser,
		Parts: parts,
	})
	hook := f.OnPrompt
	f.mu.Unlock()

	if hook != nil {
		hook(f, p)
	}
	return nil
}

// Status implements session.Client.
func (f *Fake) Status(_ context.Context) (map[string]session.Status, error) {
	f.mu.Lock()
	f.statusCalls++
	call := f.statusCalls
	hook := f.OnStatus
	f.mu.Unlock()

	if hook != nil {
		hook(f, call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]session.Status, len(f.statuses))
	for k, v := range f.statuses {
		out[k] = v
	}
	return out, nil
}

// Messages implements session.Client.
func (f *Fake) Messages(_ context.Context, sessionID string) ([]session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MessagesErr != nil {
		return nil, f.MessagesErr
	}
	return append([]session.Message(nil), f.messages[sessionID]...), nil
}

// Abort implements session.Client.
func (f *Fake) Abort(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, sessionID)
	f.statuses[sessionID] = session.Status{Type: session.StatusIdle}
	return nil
}

// SetStatus sets the status reported for sessionID.
func (f *Fake) SetStatus(sessionID string, t session.StatusType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sessionID] = session.Status{Type: t}
}

// AppendAssistant adds an assistant message with the given parts.
func (f *Fake) AppendAssistant(sessionID string, parts ...session.Part) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[sessionID] = append(f.messages[sessionID], session.Message{
		ID:    fmt.Sprintf("msg_%d", len(f.messages[sessionID])+1),
		Role:  session.RoleAssistant,
		Parts: parts,
	})
}

// Prompts returns the recorded prompts.
func (f *Fake) Prompts() []Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Prompt(nil), f.prompts...)
}

// Aborted returns the sessions passed to Abort.
func (f *Fake) Aborted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborted...)
}

// Parent returns the parent recorded for a created session.
func (f *Fake) Parent(sessionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parents[sessionID]
}

// StatusCalls returns how many times Status was called.
func (f *Fake) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}
