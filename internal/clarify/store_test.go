package clarify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func req(q string) Request {
	return Request{Question: q, Options: []Option{{Label: "a"}, {Label: "b"}}}
}

func TestStore_AskAnswer(t *testing.T) {
	c := newClock()
	s := NewStore(WithClock(c.Now))

	assert.Equal(t, StateNone, s.State("parent", "child"))

	sess := s.Ask("parent", "child", req("first?"))
	assert.Equal(t, 1, sess.Iterations)
	assert.Equal(t, StateAwaitingAnswer, sess.State)
	assert.Equal(t, c.now, sess.StartTime)
	require.NotNil(t, sess.Pending)

	c.Advance(time.Minute)
	sess, err := s.Answer("parent", "child", "a", "Paul")
	require.NoError(t, err)
	assert.Equal(t, StateAnswered, sess.State)
	assert.Nil(t, sess.Pending)
	require.Len(t, sess.History, 1)
	assert.Equal(t, Exchange{Question: "first?", Answer: "a", AnsweredBy: "Paul", Timestamp: c.now}, sess.History[0])

	_, err = s.Answer("parent", "child", "b", "Paul")
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestStore_KeyedBySessionAndDelegation(t *testing.T) {
	s := NewStore()
	s.Ask("p1", "d1", req("x"))
	s.Ask("p1", "d2", req("y"))
	s.Ask("p2", "d1", req("z"))

	assert.Equal(t, 3, s.Len())
	sess, ok := s.Get("p1", "d2")
	require.True(t, ok)
	assert.Equal(t, "y", sess.History[0].Question)
	assert.Len(t, s.Pending(), 3)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Ask("p", "d", req("x"))
	sess, _ := s.Get("p", "d")
	sess.History[0].Question = "mutated"

	again, _ := s.Get("p", "d")
	assert.Equal(t, "x", again.History[0].Question)
}

func TestStore_Sweep(t *testing.T) {
	c := newClock()
	s := NewStore(WithClock(c.Now))
	s.Ask("p", "old", req("x"))
	c.Advance(20 * time.Minute)
	s.Ask("p", "fresh", req("y"))
	c.Advance(11 * time.Minute)

	stale := s.Sweep(DefaultStaleAfter)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].DelegationID)
	assert.Equal(t, StateStale, stale[0].State)

	assert.Equal(t, StateNone, s.State("p", "old"))
	assert.Equal(t, StateAwaitingAnswer, s.State("p", "fresh"))

	// Answering an abandoned question is not possible.
	_, err := s.Answer("p", "old", "a", "Paul")
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestStore_StartSweeperDefaults(t *testing.T) {
	c := newClock()
	s := NewStore(WithClock(c.Now))
	s.Ask("p", "old", req("x"))
	c.Advance(25 * time.Minute)
	s.Ask("p", "fresh", req("y"))
	c.Advance(10 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A zero interval falls back to the default instead of panicking.
	s.StartSweeper(ctx, 0, time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, s.Len())

	// A zero max age falls back to DefaultStaleAfter.
	s.StartSweeper(ctx, 5*time.Millisecond, 0)
	assert.Eventually(t, func() bool { return s.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateAwaitingAnswer, s.State("p", "fresh"))
}
