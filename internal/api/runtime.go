package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/conductor/internal/protect"
	"github.com/ShayCichocki/conductor/internal/session"
)

// Defaults for RuntimeConfig.
const (
	DefaultMaxTokens = 8192
	DefaultMaxTurns  = 50
)

var (
	// ErrUnknownSession is returned for session IDs the runtime never created.
	ErrUnknownSession = errors.New("unknown session")
	// ErrBusy is returned when prompting a session that is still working.
	ErrBusy = errors.New("session is busy")
)

// RuntimeConfig tunes a Runtime.
type RuntimeConfig struct {
	WorkDir   string
	MaxTokens int64
	MaxTurns  int
	// SystemPrompt builds the system prompt for an agent. Nil uses
	// DefaultSystemPrompt.
	SystemPrompt func(agent string) string
	// ReadOnly reports whether an agent is denied the Write and Edit tools.
	ReadOnly func(agent string) bool
	// Protect refuses writes to protected paths.
	Protect *protect.Guard
	Logger  zerolog.Logger
}

// Runtime hosts subagent sessions in-process. Each prompt runs an agent loop
// in its own goroutine; callers observe progress through Status and
// Messages, exactly as they would against a remote runtime.
type Runtime struct {
	client *Client
	exec   *ToolExecutor
	cfg    RuntimeConfig
	log    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*runSession
	wg       sync.WaitGroup
}

type runSession struct {
	id         string
	parent     string
	title      string
	status     session.StatusType
	transcript []session.Message
	history    []anthropic.MessageParam
	cancel     context.CancelFunc
	// gen identifies the current agent loop so a loop outliving an Abort
	// cannot touch a newer run.
	gen int
}

var _ session.Client = (*Runtime)(nil)

// NewRuntime creates a Runtime backed by client.
func NewRuntime(client *Client, cfg RuntimeConfig) *Runtime {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.SystemPrompt == nil {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.ReadOnly == nil {
		cfg.ReadOnly = func(string) bool { return false }
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	exec := NewToolExecutor(cfg.WorkDir)
	exec.Guard = cfg.Protect
	return &Runtime{
		client:   client,
		exec:     exec,
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*runSession),
	}
}

// DefaultSystemPrompt tells a subagent who it is and how to ask questions
// or report verdicts.
func DefaultSystemPrompt(agent string) string {
	return fmt.Sprintf(`You are %s, a subagent working on a delegated task inside a shared workspace.
Only touch the files the task names. Other agents may be editing other files at the same time.

If an ambiguous decision blocks you, stop and end your reply with:
<clarification>
question: <one question>
options:
  - label: <short label>
    description: <trade-off>
  - label: <short label>
recommendation: <label you would pick>
</clarification>

If you were asked to verify or review work, end your reply with a single line
"VERDICT: APPROVED" or "VERDICT: REJECTED".`, agent)
}

// Create implements session.Client.
func (r *Runtime) Create(_ context.Context, parentID, title string) (string, error) {
	id := "ses_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	r.mu.Lock()
	r.sessions[id] = &runSession{id: id, parent: parentID, title: title, status: session.StatusIdle}
	r.mu.Unlock()
	r.log.Debug().Str("session", id).Str("parent", parentID).Str("title", title).Msg("session created")
	return id, nil
}

// Prompt implements session.Client. The agent loop runs in the background;
// Prompt returns as soon as it is started.
func (r *Runtime) Prompt(_ context.Context, sessionID, agent string, parts []session.Part) error {
	var text []string
	for _, p := range parts {
		if p.Type == session.PartText && p.Text != "" {
			text = append(text, p.Text)
		}
	}
	if len(text) == 0 {
		return errors.New("prompt has no text")
	}
	prompt := strings.Join(text, "\n\n")

	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", sessionID, ErrUnknownSession)
	}
	if s.status == session.StatusWorking {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", sessionID, ErrBusy)
	}
	s.transcript = append(s.transcript, session.Message{
		ID:        newMessageID(),
		Role:      session.RoleUser,
		Parts:     append([]session.Part(nil), parts...),
		CreatedAt: time.Now(),
	})
	s.history = append(s.history, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	s.status = session.StatusWorking
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(ctx, s, gen, agent)
	}()
	return nil
}

// Status implements session.Client.
func (r *Runtime) Status(context.Context) (map[string]session.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]session.Status, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = session.Status{Type: s.status}
	}
	return out, nil
}

// Messages implements session.Client.
func (r *Runtime) Messages(_ context.Context, sessionID string) ([]session.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrUnknownSession)
	}
	return append([]session.Message(nil), s.transcript...), nil
}

// Abort implements session.Client. The running turn is cancelled; the
// transcript so far is kept.
func (r *Runtime) Abort(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%s: %w", sessionID, ErrUnknownSession)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.status = session.StatusIdle
	return nil
}

// Close aborts every session and waits for their loops to exit.
func (r *Runtime) Close() {
	r.mu.Lock()
	for _, s := range r.sessions {
		if s.cancel != nil {
			s.cancel()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Usage returns the token counters of the underlying client.
func (r *Runtime) Usage() *Usage { return r.client.Usage() }

func (r *Runtime) run(ctx context.Context, s *runSession, gen int, agent string) {
	log := r.log.With().Str("session", s.id).Str("agent", agent).Logger()
	tools := ToolDefinitions()
	if r.cfg.ReadOnly(agent) {
		tools = ReadOnlyToolDefinitions()
	}
	system := r.cfg.SystemPrompt(agent)

	for turn := 1; turn <= r.cfg.MaxTurns; turn++ {
		r.mu.Lock()
		history := append([]anthropic.MessageParam(nil), s.history...)
		r.mu.Unlock()

		resp, err := r.client.messages.New(ctx, anthropic.MessageNewParams{
			Model:     r.client.model,
			MaxTokens: r.cfg.MaxTokens,
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  history,
			Tools:     tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Msg("session aborted")
				r.finish(s, gen, nil)
				return
			}
			log.Warn().Err(err).Int("turn", turn).Msg("messages call failed")
			r.finish(s, gen, &session.Message{
				ID:        newMessageID(),
				Role:      session.RoleAssistant,
				Parts:     []session.Part{session.TextPart("error: " + err.Error())},
				CreatedAt: time.Now(),
			})
			return
		}
		r.client.usage.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		msg := session.Message{ID: newMessageID(), Role: session.RoleAssistant, CreatedAt: time.Now()}
		var blocks, results []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch v := block.AsAny().(type) {
			case anthropic.TextBlock:
				msg.Parts = append(msg.Parts, session.TextPart(v.Text))
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			case anthropic.ThinkingBlock:
				msg.Parts = append(msg.Parts, session.Part{Type: session.PartReasoning, Text: v.Thinking})
			case anthropic.ToolUseBlock:
				res := r.exec.Execute(ctx, v.Name, v.Input)
				msg.Parts = append(msg.Parts, session.Part{
					Type:   session.PartTool,
					Tool:   v.Name,
					Input:  v.Input,
					Output: res.Content,
					Error:  res.IsError,
				})
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, v.Input, v.Name))
				results = append(results, anthropic.NewToolResultBlock(v.ID, res.Content, res.IsError))
			}
		}

		r.mu.Lock()
		if s.gen != gen {
			r.mu.Unlock()
			return
		}
		s.transcript = append(s.transcript, msg)
		if len(blocks) > 0 {
			s.history = append(s.history, anthropic.NewAssistantMessage(blocks...))
		}
		if len(results) > 0 {
			s.history = append(s.history, anthropic.NewUserMessage(results...))
		}
		r.mu.Unlock()

		if ctx.Err() != nil {
			r.finish(s, gen, nil)
			return
		}
		if resp.StopReason != anthropic.StopReasonToolUse || len(results) == 0 {
			log.Debug().Int("turns", turn).Msg("session turn complete")
			r.finish(s, gen, nil)
			return
		}
	}

	log.Warn().Int("max_turns", r.cfg.MaxTurns).Msg("session stopped at turn limit")
	r.finish(s, gen, &session.Message{
		ID:        newMessageID(),
		Role:      session.RoleAssistant,
		Parts:     []session.Part{session.TextPart(fmt.Sprintf("stopped after %d turns without finishing", r.cfg.MaxTurns))},
		CreatedAt: time.Now(),
	})
}

func (r *Runtime) finish(s *runSession, gen int, tail *session.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.gen != gen {
		return
	}
	if tail != nil {
		s.transcript = append(s.transcript, *tail)
	}
	s.status = session.StatusIdle
	s.cancel = nil
}

func newMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
