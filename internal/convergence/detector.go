// Package convergence decides when a polled subagent session has really
// finished producing output.
//
// A session's status can flicker to idle between internal tool-call turns, so
// a single idle poll proves nothing. The detector requires a run of stable
// idle polls (same message count), a minimum time spent idle, and at least one
// piece of real output before it declares convergence.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/conductor/internal/session"
)

// Defaults for Config.
const (
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultStablePolls     = 3
	DefaultMinStability    = 10 * time.Second
	DefaultNoOutputTimeout = 60 * time.Second
	DefaultMaxWait         = 5 * time.Minute

	maxConsecutiveErrors = 5
)

var (
	// ErrNoOutput means the session sat idle without producing any output
	// for longer than Config.NoOutputTimeout.
	ErrNoOutput = errors.New("session idle without output")
	// ErrTimeout means the hard ceiling Config.MaxWait was reached.
	ErrTimeout = errors.New("session did not converge before the deadline")
)

// Config tunes the polling loop.
type Config struct {
	PollInterval    time.Duration
	StablePolls     int
	MinStability    time.Duration
	NoOutputTimeout time.Duration
	MaxWait         time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		StablePolls:     DefaultStablePolls,
		MinStability:    DefaultMinStability,
		NoOutputTimeout: DefaultNoOutputTimeout,
		MaxWait:         DefaultMaxWait,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StablePolls <= 0 {
		c.StablePolls = d.StablePolls
	}
	if c.MinStability <= 0 {
		c.MinStability = d.MinStability
	}
	if c.NoOutputTimeout <= 0 {
		c.NoOutputTimeout = d.NoOutputTimeout
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	return c
}

// Result describes how a wait ended when it did not fail.
type Result struct {
	// Converged is true when the stability criteria were met.
	Converged bool
	// Aborted is true when the context was cancelled. It is not an error.
	Aborted bool
	// Output is the assistant text produced after the last user message.
	Output   string
	Messages []session.Message
	Polls    int
	Elapsed  time.Duration
}

// TimeoutError carries the partial state of a session that failed to
// converge, so the caller can inspect it manually.
type TimeoutError struct {
	SessionID    string
	Reason       error
	Elapsed      time.Duration
	Polls        int
	MessageCount int
	LastStatus   session.StatusType
	HasOutput    bool
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session %s: %v after %s (polls=%d, messages=%d, last status=%s, output=%t)",
		e.SessionID, e.Reason, e.Elapsed.Round(time.Millisecond), e.Polls, e.MessageCount, e.LastStatus, e.HasOutput)
}

func (e *TimeoutError) Unwrap() error { return e.Reason }

// StatusSource is the subset of session.Client the detector polls.
type StatusSource interface {
	Status(ctx context.Context) (map[string]session.Status, error)
	Messages(ctx context.Context, sessionID string) ([]session.Message, error)
}

// Detector polls a session until it converges, times out, or is aborted.
type Detector struct {
	src   StatusSource
	cfg   Config
	clock Clock
	log   zerolog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithConfig sets the timings. Zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(d *Detector) { d.cfg = c.withDefaults() }
}

// WithClock overrides the clock.
func WithClock(c Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// NewDetector creates a Detector polling src.
func NewDetector(src StatusSource, opts ...Option) *Detector {
	d := &Detector{
		src:   src,
		cfg:   DefaultConfig(),
		clock: RealClock(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the effective timings.
func (d *Detector) Config() Config { return d.cfg }

// Wait polls sessionID until it converges. Cancelling ctx ends the wait with
// Result.Aborted set and a nil error. Failures to converge return a
// *TimeoutError wrapping ErrNoOutput or ErrTimeout.
func (d *Detector) Wait(ctx context.Context, sessionID string) (Result, error) {
	var (
		start        = d.clock.Now()
		res          Result
		stablePolls  int
		noOutputIdle int
		lastCount    = -1
		idleSince    time.Time
		lastStatus   session.StatusType
		hasOutput    bool
		errStreak    int
	)

	timeout := func(reason error) (Result, error) {
		res.Elapsed = d.clock.Now().Sub(start)
		return res, &TimeoutError{
			SessionID:    sessionID,
			Reason:       reason,
			Elapsed:      res.Elapsed,
			Polls:        res.Polls,
			MessageCount: len(res.Messages),
			LastStatus:   lastStatus,
			HasOutput:    hasOutput,
		}
	}
	aborted := func() (Result, error) {
		res.Aborted = true
		res.Elapsed = d.clock.Now().Sub(start)
		d.log.Info().Str("session", sessionID).Int("polls", res.Polls).Msg("convergence wait aborted")
		return res, nil
	}

	for {
		if ctx.Err() != nil {
			return aborted()
		}
		if d.clock.Now().Sub(start) >= d.cfg.MaxWait {
			d.log.Warn().Str("session", sessionID).Dur("max_wait", d.cfg.MaxWait).Msg("convergence hard timeout")
			return timeout(ErrTimeout)
		}

		if err := d.clock.Sleep(ctx, d.cfg.PollInterval); err != nil {
			return aborted()
		}
		res.Polls++

		statuses, err := d.src.Status(ctx)
		var msgs []session.Message
		if err == nil {
			msgs, err = d.src.Messages(ctx, sessionID)
		}
		if err != nil {
			if ctx.Err() != nil {
				return aborted()
			}
			errStreak++
			d.log.Warn().Err(err).Str("session", sessionID).Int("streak", errStreak).Msg("poll failed")
			if errStreak >= maxConsecutiveErrors {
				return res, fmt.Errorf("poll session %s: %w", sessionID, err)
			}
			continue
		}
		errStreak = 0

		// Sessions absent from the status map are idle.
		lastStatus = session.StatusIdle
		if st, ok := statuses[sessionID]; ok && st.Type != "" {
			lastStatus = st.Type
		}

		res.Messages = msgs
		count := len(msgs)
		countChanged := count != lastCount
		lastCount = count

		if lastStatus != session.StatusIdle {
			stablePolls = 0
			idleSince = time.Time{}
			continue
		}

		now := d.clock.Now()
		if idleSince.IsZero() {
			idleSince = now
		}

		hasOutput = session.HasValidOutput(msgs)
		if !hasOutput {
			stablePolls = 0
			noOutputIdle++
			if time.Duration(noOutputIdle)*d.cfg.PollInterval >= d.cfg.NoOutputTimeout {
				d.log.Warn().Str("session", sessionID).Int("idle_polls", noOutputIdle).Msg("session idle without output")
				return timeout(ErrNoOutput)
			}
			continue
		}

		if countChanged {
			stablePolls = 0
			continue
		}

		stablePolls++
		if stablePolls >= d.cfg.StablePolls && now.Sub(idleSince) >= d.cfg.MinStability {
			res.Converged = true
			res.Output = session.LastAssistantText(msgs)
			res.Elapsed = now.Sub(start)
			d.log.Debug().Str("session", sessionID).Int("polls", res.Polls).Dur("elapsed", res.Elapsed).
				Msg("session converged")
			return res, nil
		}
	}
}
