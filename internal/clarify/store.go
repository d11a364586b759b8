package clarify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for the round trip.
const (
	DefaultMaxRounds  = 3
	DefaultStaleAfter = 30 * time.Minute
)

// ErrNoPending means there is no open question to answer.
var ErrNoPending = errors.New("no pending clarification")

// State is the position of a (session, delegation) pair in the round trip.
type State string

const (
	StateNone             State = "NONE"
	StateAwaitingAnswer   State = "AWAITING_ANSWER"
	StateAnswered         State = "ANSWERED"
	StateMaxRoundsReached State = "MAX_ROUNDS_REACHED"
	StateStale            State = "STALE"
)

// Exchange is one question and, once given, its answer.
type Exchange struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer,omitempty"`
	AnsweredBy string    `json:"answeredBy,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session tracks the round trip for one delegation.
type Session struct {
	SessionID    string
	DelegationID string
	// Iterations counts questions asked so far.
	Iterations int
	History    []Exchange
	StartTime  time.Time
	UpdatedAt  time.Time
	State      State
	// Pending is the open request while State is StateAwaitingAnswer.
	Pending *Request
}

func (s *Session) clone() Session {
	c := *s
	c.History = append([]Exchange(nil), s.History...)
	if s.Pending != nil {
		p := *s.Pending
		p.Options = append([]Option(nil), s.Pending.Options...)
		c.Pending = &p
	}
	return c
}

type key struct {
	session    string
	delegation string
}

// Store holds clarification sessions keyed by (session, delegation).
type Store struct {
	mu       sync.Mutex
	sessions map[key]*Session
	now      func() time.Time
	log      zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore returns an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[key]*Session),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the session for the pair.
func (s *Store) Get(sessionID, delegationID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key{sessionID, delegationID}]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// State returns the pair's state, StateNone when untracked.
func (s *Store) State(sessionID, delegationID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key{sessionID, delegationID}]; ok {
		return sess.State
	}
	return StateNone
}

// Ask records a new question, creating the session on first use, and
// returns the updated session.
func (s *Store) Ask(sessionID, delegationID string, req Request) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := key{sessionID, delegationID}
	sess, ok := s.sessions[k]
	if !ok {
		sess = &Session{SessionID: sessionID, DelegationID: delegationID, StartTime: now}
		s.sessions[k] = sess
	}
	sess.Iterations++
	sess.History = append(sess.History, Exchange{Question: req.Question, Timestamp: now})
	sess.UpdatedAt = now
	sess.State = StateAwaitingAnswer
	r := req
	sess.Pending = &r
	return sess.clone()
}

// Answer records the answer to the open question.
func (s *Store) Answer(sessionID, delegationID, answer, answeredBy string) (Session, error) {
	return s.answer(sessionID, delegationID, answer, answeredBy, StateAnswered)
}

// Exhaust answers the open question automatically and marks the session as
// having reached the round limit. The session is kept so later requests for
// the same delegation stay short-circuited until it goes stale.
func (s *Store) Exhaust(sessionID, delegationID, answer string) (Session, error) {
	return s.answer(sessionID, delegationID, answer, "auto", StateMaxRoundsReached)
}

func (s *Store) answer(sessionID, delegationID, answer, answeredBy string, next State) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key{sessionID, delegationID}]
	if !ok || sess.State != StateAwaitingAnswer || len(sess.History) == 0 {
		return Session{}, ErrNoPending
	}
	now := s.now()
	last := &sess.History[len(sess.History)-1]
	last.Answer = answer
	last.AnsweredBy = answeredBy
	last.Timestamp = now
	sess.UpdatedAt = now
	sess.State = next
	sess.Pending = nil
	return sess.clone(), nil
}

// Remove deletes the pair, returning the final session.
func (s *Store) Remove(sessionID, delegationID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{sessionID, delegationID}
	sess, ok := s.sessions[k]
	if !ok {
		return Session{}, false
	}
	delete(s.sessions, k)
	return sess.clone(), true
}

// Pending returns every session awaiting an answer, oldest first.
func (s *Store) Pending() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.State == StateAwaitingAnswer {
			out = append(out, sess.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions idle longer than maxAge and returns them with
// State set to StateStale. Abandoned sessions are never resumed.
func (s *Store) Sweep(maxAge time.Duration) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stale []Session
	for k, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) <= maxAge {
			continue
		}
		c := sess.clone()
		c.State = StateStale
		stale = append(stale, c)
		delete(s.sessions, k)
	}
	for _, sess := range stale {
		s.log.Info().Str("session", sess.SessionID).Str("delegation", sess.DelegationID).
			Int("iterations", sess.Iterations).Msg("clarification session went stale")
	}
	return stale
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = DefaultStaleAfter
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(maxAge)
			}
		}
	}()
}
