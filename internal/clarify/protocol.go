package clarify

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Input is a finished delegation's output as seen by the protocol.
type Input struct {
	// SessionID is the delegating (parent) session.
	SessionID string
	// DelegationID identifies the subagent conversation; it stays stable
	// across resumes.
	DelegationID string
	Agent        string
	Output       string
	Background   bool
}

// Outcome is what the delegating session receives.
type Outcome struct {
	State State
	// Output replaces the raw subagent output.
	Output     string
	Request    *Request
	Iterations int
	// AutoAnswer is set when the round limit forced a choice.
	AutoAnswer string
}

// Protocol applies the round-trip rules to delegation output.
type Protocol struct {
	store     *Store
	maxRounds int
	log       zerolog.Logger
}

// ProtocolOption configures a Protocol.
type ProtocolOption func(*Protocol)

// WithMaxRounds sets the round limit. Values <= 0 keep the default.
func WithMaxRounds(n int) ProtocolOption {
	return func(p *Protocol) {
		if n > 0 {
			p.maxRounds = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) ProtocolOption {
	return func(p *Protocol) { p.log = l }
}

// NewProtocol creates a Protocol over store.
func NewProtocol(store *Store, opts ...ProtocolOption) *Protocol {
	p := &Protocol{store: store, maxRounds: DefaultMaxRounds, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the underlying store.
func (p *Protocol) Store() *Store { return p.store }

// MaxRounds returns the round limit.
func (p *Protocol) MaxRounds() int { return p.maxRounds }

// Process inspects in.Output for a clarification request and returns the
// output the delegating session should see.
func (p *Protocol) Process(in Input) Outcome {
	req, found, err := Parse(in.Output)
	if !found {
		if p.store.State(in.SessionID, in.DelegationID) == StateAnswered {
			sess, _ := p.store.Remove(in.SessionID, in.DelegationID)
			return Outcome{State: StateAnswered, Output: in.Output, Iterations: sess.Iterations}
		}
		return Outcome{State: StateNone, Output: in.Output}
	}
	if err != nil {
		p.log.Warn().Err(err).Str("delegation", in.DelegationID).Msg("ignoring malformed clarification block")
		return Outcome{
			State:  StateNone,
			Output: in.Output + "\n\n[clarification ignored: " + err.Error() + "]",
		}
	}
	if in.Background {
		p.log.Warn().Str("delegation", in.DelegationID).Str("agent", in.Agent).
			Msg("background task requested clarification")
		return Outcome{State: StateNone, Output: in.Output + backgroundWarning(req), Request: &req}
	}

	if p.store.State(in.SessionID, in.DelegationID) == StateMaxRoundsReached {
		answer := req.Resolve()
		sess, _ := p.store.Get(in.SessionID, in.DelegationID)
		return Outcome{
			State:      StateMaxRoundsReached,
			Output:     renderExhausted(in, req, answer, sess.Iterations),
			Request:    &req,
			Iterations: sess.Iterations,
			AutoAnswer: answer,
		}
	}

	sess := p.store.Ask(in.SessionID, in.DelegationID, req)
	if sess.Iterations >= p.maxRounds {
		answer := req.Resolve()
		if _, err := p.store.Exhaust(in.SessionID, in.DelegationID, answer); err != nil {
			p.log.Warn().Err(err).Msg("mark clarification exhausted")
		}
		p.log.Info().Str("delegation", in.DelegationID).Int("iterations", sess.Iterations).Str("answer", answer).
			Msg("clarification round limit reached, auto-resolving")
		return Outcome{
			State:      StateMaxRoundsReached,
			Output:     renderExhausted(in, req, answer, sess.Iterations),
			Request:    &req,
			Iterations: sess.Iterations,
			AutoAnswer: answer,
		}
	}

	p.log.Info().Str("delegation", in.DelegationID).Int("round", sess.Iterations).Msg("clarification requested")
	return Outcome{
		State:      StateAwaitingAnswer,
		Output:     p.renderQuestion(in, req, sess.Iterations),
		Request:    &req,
		Iterations: sess.Iterations,
	}
}

// Answer records the delegating session's answer and returns the prompt to
// send back to the subagent.
func (p *Protocol) Answer(sessionID, delegationID, answer, answeredBy string) (string, error) {
	sess, err := p.store.Answer(sessionID, delegationID, answer, answeredBy)
	if err != nil {
		return "", err
	}
	q := sess.History[len(sess.History)-1].Question
	return fmt.Sprintf("Answer to your clarification question %q: %s\n\nContinue the task with this decision. Ask again only if something new blocks you.", q, answer), nil
}

func (p *Protocol) renderQuestion(in Input, req Request, round int) string {
	var b strings.Builder
	if rest := StripBlocks(in.Output); rest != "" {
		b.WriteString(rest)
		b.WriteString("\n\n---\n")
	}
	who := in.Agent
	if who == "" {
		who = "the subagent"
	}
	fmt.Fprintf(&b, "CLARIFICATION NEEDED (round %d of %d) from %s\n\n", round, p.maxRounds, who)
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	if req.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", req.Context)
	}
	b.WriteString("\nOptions:\n")
	for _, o := range req.Options {
		if o.Label == "" {
			continue
		}
		if o.Description != "" {
			fmt.Fprintf(&b, "  - %s: %s\n", o.Label, o.Description)
		} else {
			fmt.Fprintf(&b, "  - %s\n", o.Label)
		}
	}
	if req.Recommendation != "" {
		fmt.Fprintf(&b, "Recommended: %s\n", req.Recommendation)
	}
	fmt.Fprintf(&b, "\nThe subagent is paused. To answer, delegate again with resume_session_id %q and answer set to one of the option labels.", in.DelegationID)
	return b.String()
}

func renderExhausted(in Input, req Request, answer string, rounds int) string {
	var b strings.Builder
	if rest := StripBlocks(in.Output); rest != "" {
		b.WriteString(rest)
		b.WriteString("\n\n---\n")
	}
	fmt.Fprintf(&b, "CLARIFICATION LIMIT REACHED after %d rounds.\n", rounds)
	fmt.Fprintf(&b, "Question: %s\nAuto-selected: %s\n", req.Question, answer)
	b.WriteString("The clarification session is closed. Proceed with the auto-selected option; re-delegate with that decision stated if more work is needed.")
	return b.String()
}

func backgroundWarning(req Request) string {
	return fmt.Sprintf("\n\n[warning] A background task asked for clarification (%q) but background delegations cannot pause for an answer. Re-run this task synchronously to answer it.", req.Question)
}
