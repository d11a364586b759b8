package convergence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/conductor/internal/session"
	"github.com/ShayCichocki/conductor/internal/session/sessiontest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

const sid = "ses_child"

func newDetector(f *sessiontest.Fake, cfg Config) *Detector {
	return NewDetector(f, WithClock(newFakeClock()), WithConfig(cfg))
}

func TestWait_ConvergesAfterStableIdleWindow(t *testing.T) {
	f := sessiontest.New()
	f.OnStatus = func(f *sessiontest.Fake, call int) {
		switch {
		case call == 2:
			f.AppendAssistant(sid, session.TextPart("done"))
			f.SetStatus(sid, session.StatusWorking)
		case call < 4:
			f.SetStatus(sid, session.StatusWorking)
		default:
			f.SetStatus(sid, session.StatusIdle)
		}
	}

	res, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.False(t, res.Aborted)
	assert.Equal(t, "done", res.Output)
	// Idle from poll 4 (t=2s); the 10s window closes at t=12s.
	assert.Equal(t, 24, res.Polls)
	assert.Equal(t, 12*time.Second, res.Elapsed)
}

func TestWait_FlickerToWorkingRestartsWindow(t *testing.T) {
	f := sessiontest.New()
	f.AppendAssistant(sid, session.TextPart("partial"))
	f.OnStatus = func(f *sessiontest.Fake, call int) {
		if call == 6 {
			f.SetStatus(sid, session.StatusWorking)
			return
		}
		f.SetStatus(sid, session.StatusIdle)
	}

	res, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	// Idle again from poll 7 (t=3.5s), window closes at t=13.5s.
	assert.Equal(t, 27, res.Polls)
}

func TestWait_MessageCountChangeResetsStablePolls(t *testing.T) {
	f := sessiontest.New()
	f.AppendAssistant(sid, session.TextPart("first"))
	f.OnStatus = func(f *sessiontest.Fake, call int) {
		if call == 20 {
			f.AppendAssistant(sid, session.TextPart("second"))
		}
	}

	res, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	// Without the change this would converge at poll 21; the new message
	// forces three more stable polls.
	assert.Equal(t, 23, res.Polls)
	assert.Equal(t, "first\n\nsecond", res.Output)
}

func TestWait_StablePollsAloneAreNotEnough(t *testing.T) {
	f := sessiontest.New()
	f.AppendAssistant(sid, session.TextPart("ok"))

	cfg := DefaultConfig()
	cfg.StablePolls = 5
	cfg.MinStability = time.Second

	res, err := newDetector(f, cfg).Wait(context.Background(), sid)
	require.NoError(t, err)
	// Poll 1 establishes the baseline count, polls 2..6 are stable.
	assert.Equal(t, 6, res.Polls)
}

func TestWait_ResumedSessionNeedsOutputForCurrentTurn(t *testing.T) {
	f := sessiontest.New()
	f.AppendAssistant(sid, session.TextPart("Which cache?"))
	require.NoError(t, f.Prompt(context.Background(), sid, "sam", []session.Part{session.TextPart("memory")}))
	// Status stays idle after the prompt, as a lagging runtime would report.
	f.OnStatus = func(f *sessiontest.Fake, call int) {
		if call == 30 {
			f.AppendAssistant(sid, session.TextPart("Implemented the memory cache."))
		}
	}

	res, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "Implemented the memory cache.", res.Output)
	assert.Greater(t, res.Polls, 30)
}

func TestWait_IdleWithoutOutputFails(t *testing.T) {
	f := sessiontest.New()

	res, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoOutput))
	assert.False(t, res.Converged)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, sid, te.SessionID)
	assert.Equal(t, 120, te.Polls)
	assert.False(t, te.HasOutput)
	assert.Equal(t, session.StatusIdle, te.LastStatus)
}

func TestWait_WhitespaceReasoningIsNotOutput(t *testing.T) {
	f := sessiontest.New()
	f.AppendAssistant(sid, session.Part{Type: session.PartReasoning, Text: "   \n"})

	cfg := DefaultConfig()
	cfg.NoOutputTimeout = 2 * time.Second

	_, err := newDetector(f, cfg).Wait(context.Background(), sid)
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestWait_WorkingTimeDoesNotCountAsNoOutput(t *testing.T) {
	f := sessiontest.New()
	f.OnStatus = func(f *sessiontest.Fake, call int) {
		switch {
		case call <= 200:
			f.SetStatus(sid, session.StatusWorking)
		case call == 201:
			f.AppendAssistant(sid, session.TextPart("late"))
			f.SetStatus(sid, session.StatusIdle)
		}
	}

	res, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, "late", res.Output)
}

func TestWait_HardTimeout(t *testing.T) {
	f := sessiontest.New()
	f.SetStatus(sid, session.StatusWorking)

	_, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 600, te.Polls)
	assert.Equal(t, 5*time.Minute, te.Elapsed)
	assert.Equal(t, session.StatusWorking, te.LastStatus)
	assert.Contains(t, te.Error(), sid)
}

func TestWait_AbortIsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := sessiontest.New()
	f.SetStatus(sid, session.StatusWorking)
	f.OnStatus = func(_ *sessiontest.Fake, call int) {
		if call == 3 {
			cancel()
		}
	}

	res, err := newDetector(f, DefaultConfig()).Wait(ctx, sid)
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Polls)
}

func TestWait_PersistentPollErrors(t *testing.T) {
	f := sessiontest.New()
	f.MessagesErr = errors.New("runtime unavailable")

	res, err := newDetector(f, DefaultConfig()).Wait(context.Background(), sid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime unavailable")
	assert.Equal(t, maxConsecutiveErrors, res.Polls)

	var te *TimeoutError
	assert.False(t, errors.As(err, &te))
}

func TestConfigDefaults(t *testing.T) {
	d := NewDetector(sessiontest.New(), WithConfig(Config{PollInterval: time.Second}))
	cfg := d.Config()
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, DefaultStablePolls, cfg.StablePolls)
	assert.Equal(t, DefaultMaxWait, cfg.MaxWait)
	assert.Equal(t, DefaultNoOutputTimeout, cfg.NoOutputTimeout)
}
