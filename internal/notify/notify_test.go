package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	toasts  []Toast
	injects []string
	err     error
}

func (r *recorder) Toast(_ context.Context, t Toast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
	return r.err
}

func (r *recorder) Inject(_ context.Context, sessionID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.injects = append(r.injects, sessionID+":"+text)
	return r.err
}

func TestMulti(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("offline")}
	m := Multi{a, b}

	err := m.Toast(context.Background(), Toast{Title: "t", Message: "m"})
	assert.ErrorContains(t, err, "offline")
	assert.Len(t, a.toasts, 1)
	assert.Len(t, b.toasts, 1)

	require.Error(t, m.Inject(context.Background(), "ses_1", "hello"))
	assert.Equal(t, []string{"ses_1:hello"}, a.injects)
}

func TestTerminalSink(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	s := NewTerminalSink(&buf)

	require.NoError(t, s.Toast(context.Background(), Toast{Title: "Task done", Message: "Sam finished", Variant: VariantSuccess}))
	require.NoError(t, s.Inject(context.Background(), "ses_1", "background task finished"))

	assert.Contains(t, buf.String(), "[Task done] Sam finished")
	assert.Contains(t, buf.String(), "→ ses_1 background task finished")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Log: zerolog.New(&buf)}
	require.NoError(t, s.Toast(context.Background(), Toast{Title: "x", Message: "careful", Variant: VariantWarning}))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"message":"careful"`)
}

func TestAsyncSwallowsFailures(t *testing.T) {
	r := &recorder{err: errors.New("boom")}
	var logs bytes.Buffer
	a := NewAsync(r, zerolog.New(zerolog.SyncWriter(&logs)), 0)

	a.Toast(Toast{Title: "a"})
	a.Inject("ses_1", "b")
	a.Wait()

	assert.Len(t, r.toasts, 1)
	assert.Len(t, r.injects, 1)
	assert.Contains(t, logs.String(), "notification failed")
}
