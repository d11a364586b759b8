package api

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/conductor/internal/session"
)

// scripted replays canned responses in order.
type scripted struct {
	mu        sync.Mutex
	responses []string
	err       error
	block     chan struct{}
	calls     []anthropic.MessageNewParams
}

func (s *scripted) New(ctx context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	s.mu.Lock()
	s.calls = append(s.calls, body)
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	raw := s.responses[0]
	s.responses = s.responses[1:]

	var msg anthropic.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *scripted) Calls() []anthropic.MessageNewParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]anthropic.MessageNewParams(nil), s.calls...)
}

const (
	writeTurn = `{"id":"m1","type":"message","role":"assistant","model":"test","stop_reason":"tool_use",
		"content":[{"type":"text","text":"Creating the file."},
		           {"type":"tool_use","id":"tu_1","name":"Write","input":{"file_path":"src/a.go","content":"package src\n"}}],
		"usage":{"input_tokens":10,"output_tokens":5}}`
	doneTurn = `{"id":"m2","type":"message","role":"assistant","model":"test","stop_reason":"end_turn",
		"content":[{"type":"text","text":"Done. VERDICT: APPROVED"}],
		"usage":{"input_tokens":20,"output_tokens":7}}`
)

func waitIdle(t *testing.T, rt *Runtime, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := rt.Status(context.Background())
		return err == nil && st[id].Type == session.StatusIdle
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRuntime_RunsToolLoop(t *testing.T) {
	dir := t.TempDir()
	m := &scripted{responses: []string{writeTurn, doneTurn}}
	rt := NewRuntime(NewClientWith(m, "test-model"), RuntimeConfig{WorkDir: dir})
	defer rt.Close()
	ctx := context.Background()

	id, err := rt.Create(ctx, "parent", "write a file")
	require.NoError(t, err)
	require.NoError(t, rt.Prompt(ctx, id, "Sam (Implementer)", []session.Part{session.TextPart("create src/a.go")}))
	waitIdle(t, rt, id)

	data, err := os.ReadFile(filepath.Join(dir, "src", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package src\n", string(data))

	msgs, err := rt.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
	require.Len(t, msgs[1].Parts, 2)
	assert.Equal(t, session.PartTool, msgs[1].Parts[1].Type)
	assert.Equal(t, "Write", msgs[1].Parts[1].Tool)
	assert.False(t, msgs[1].Parts[1].Error)
	assert.Equal(t, "Done. VERDICT: APPROVED", session.LastAssistantText(msgs[2:]))

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, anthropic.Model("test-model"), calls[0].Model)
	assert.Len(t, calls[0].Messages, 1)
	// user prompt, assistant tool_use, user tool_result
	assert.Len(t, calls[1].Messages, 3)
	assert.Contains(t, calls[0].System[0].Text, "Sam (Implementer)")

	in, out, n := rt.Usage().Totals()
	assert.Equal(t, int64(30), in)
	assert.Equal(t, int64(12), out)
	assert.Equal(t, 2, n)
}

func TestRuntime_APIErrorBecomesOutput(t *testing.T) {
	m := &scripted{err: errors.New("overloaded")}
	rt := NewRuntime(NewClientWith(m, "test-model"), RuntimeConfig{WorkDir: t.TempDir()})
	defer rt.Close()
	ctx := context.Background()

	id, _ := rt.Create(ctx, "parent", "x")
	require.NoError(t, rt.Prompt(ctx, id, "explore", []session.Part{session.TextPart("look around")}))
	waitIdle(t, rt, id)

	msgs, _ := rt.Messages(ctx, id)
	assert.Contains(t, session.LastAssistantText(msgs), "overloaded")
}

func TestRuntime_BusyAndAbort(t *testing.T) {
	m := &scripted{responses: []string{doneTurn}, block: make(chan struct{})}
	rt := NewRuntime(NewClientWith(m, "test-model"), RuntimeConfig{WorkDir: t.TempDir()})
	defer rt.Close()
	ctx := context.Background()

	id, _ := rt.Create(ctx, "parent", "x")
	require.NoError(t, rt.Prompt(ctx, id, "explore", []session.Part{session.TextPart("go")}))

	st, _ := rt.Status(ctx)
	assert.Equal(t, session.StatusWorking, st[id].Type)

	err := rt.Prompt(ctx, id, "explore", []session.Part{session.TextPart("again")})
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, rt.Abort(ctx, id))
	waitIdle(t, rt, id)

	msgs, _ := rt.Messages(ctx, id)
	assert.False(t, session.HasValidOutput(msgs))
}

func TestRuntime_UnknownSession(t *testing.T) {
	rt := NewRuntime(NewClientWith(&scripted{}, "m"), RuntimeConfig{})
	ctx := context.Background()

	assert.ErrorIs(t, rt.Prompt(ctx, "nope", "a", []session.Part{session.TextPart("x")}), ErrUnknownSession)
	_, err := rt.Messages(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, rt.Abort(ctx, "nope"), ErrUnknownSession)
}

func TestRuntime_ReadOnlyAgentsGetReadOnlyTools(t *testing.T) {
	m := &scripted{responses: []string{doneTurn}}
	rt := NewRuntime(NewClientWith(m, "m"), RuntimeConfig{
		WorkDir:  t.TempDir(),
		ReadOnly: func(agent string) bool { return agent == "explore" },
	})
	defer rt.Close()
	ctx := context.Background()

	id, _ := rt.Create(ctx, "p", "x")
	require.NoError(t, rt.Prompt(ctx, id, "explore", []session.Part{session.TextPart("look")}))
	waitIdle(t, rt, id)

	calls := m.Calls()
	require.Len(t, calls, 1)
	for _, tool := range calls[0].Tools {
		assert.NotEqual(t, "Write", tool.OfTool.Name)
		assert.NotEqual(t, "Edit", tool.OfTool.Name)
	}
	assert.Len(t, calls[0].Tools, len(ToolDefinitions())-2)
}

func TestBedrockModel(t *testing.T) {
	assert.Equal(t, anthropic.Model("us.anthropic.claude-sonnet-4-5-20250929-v1:0"), BedrockModel(anthropic.ModelClaudeSonnet4_5_20250929))
	assert.Equal(t, anthropic.Model("us.anthropic.custom"), BedrockModel("us.anthropic.custom"))
	assert.Equal(t, anthropic.Model("custom"), BedrockModel("custom"))
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient(context.Background(), ClientConfig{})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	c, err := NewClient(context.Background(), ClientConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, anthropic.ModelClaudeSonnet4_5_20250929, c.Model())
}
