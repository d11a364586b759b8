package approval

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/conductor/internal/filelock"
	"github.com/ShayCichocki/conductor/internal/hierarchy"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// DefaultFreshness is how recent an approval must be to satisfy the gate.
const DefaultFreshness = 10 * time.Minute

var (
	// ErrMissing means no fresh approval exists for the required verifier.
	ErrMissing = errors.New("approval required")
	// ErrStale means an approval exists but files referenced by the plan
	// changed after it was given.
	ErrStale = errors.New("approval is stale")
)

// MissingError is returned when the required verifier has not approved
// recently.
type MissingError struct {
	Category  models.Category
	Approver  string
	Freshness time.Duration
	// Last is the most recent record from Approver, if any.
	Last *Record
}

func (e *MissingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s tasks cannot be marked complete without an approval from %s in the last %s.",
		e.Category, e.Approver, e.Freshness)
	switch {
	case e.Last == nil:
		b.WriteString(" No approval on record.")
	case e.Last.Status == StatusRejected:
		fmt.Fprintf(&b, " Latest verdict was REJECTED at %s.", e.Last.Timestamp.Format(time.RFC3339))
	default:
		fmt.Fprintf(&b, " Latest approval at %s has expired.", e.Last.Timestamp.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, " Delegate verification to %s first.", e.Approver)
	return b.String()
}

func (e *MissingError) Unwrap() error { return ErrMissing }

// StaleError is returned when files named by the plan were modified after
// the approval was recorded.
type StaleError struct {
	Approver   string
	ApprovedAt time.Time
	Plan       string
	Files      []string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("approval from %s at %s predates changes to %s (referenced by %s). Re-run verification before completing.",
		e.Approver, e.ApprovedAt.Format(time.RFC3339), strings.Join(e.Files, ", "), e.Plan)
}

func (e *StaleError) Unwrap() error { return ErrStale }

// CompletionRequest describes a "mark complete" action.
type CompletionRequest struct {
	TaskID   string
	Category models.Category
	// PlanPath is the workspace-relative plan the work implements. When
	// empty, the gate looks for a plan reference in Text.
	PlanPath string
	// Text is free-form context, usually the completion message.
	Text string
}

// DefaultRequirements maps gated categories to their verifier.
func DefaultRequirements() map[models.Category]string {
	return map[models.Category]string{
		models.CategoryImplementation: hierarchy.AgentTestRunner,
		models.CategoryPlanReview:     hierarchy.AgentPlanReviewer,
		models.CategorySpecReview:     hierarchy.AgentSpecReviewer,
	}
}

// DefaultVerifiers lists the agents whose verdicts are recorded.
func DefaultVerifiers() []string {
	return []string{
		hierarchy.AgentTestRunner,
		hierarchy.AgentCodeReviewer,
		hierarchy.AgentPlanReviewer,
		hierarchy.AgentSpecReviewer,
	}
}

// Gate decides whether a task may be marked complete.
type Gate struct {
	ledger       *Ledger
	requirements map[models.Category]string
	verifiers    []string
	freshness    time.Duration
	staleCheck   bool
	root         string
	extractor    *filelock.Extractor
	log          zerolog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithFreshness sets the approval window. Values <= 0 keep the default.
func WithFreshness(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.freshness = d
		}
	}
}

// WithRequirement sets the verifier for category. An empty approver removes
// the requirement.
func WithRequirement(category models.Category, approver string) GateOption {
	return func(g *Gate) {
		if approver == "" {
			delete(g.requirements, category)
			return
		}
		g.requirements[category] = approver
	}
}

// WithVerifiers replaces the set of agents whose verdicts are recorded.
func WithVerifiers(agents ...string) GateOption {
	return func(g *Gate) { g.verifiers = append([]string(nil), agents...) }
}

// WithStaleCheck toggles the plan mtime comparison.
func WithStaleCheck(on bool) GateOption {
	return func(g *Gate) { g.staleCheck = on }
}

// WithWorkspace sets the root that plan and file paths are relative to.
func WithWorkspace(root string) GateOption {
	return func(g *Gate) { g.root = root }
}

// WithPlanGlobs sets the globs that identify plan files.
func WithPlanGlobs(globs []string) GateOption {
	return func(g *Gate) {
		g.extractor = filelock.NewExtractor(filelock.WithPlanGlobs(globs))
	}
}

// WithGateLogger sets the logger.
func WithGateLogger(l zerolog.Logger) GateOption {
	return func(g *Gate) { g.log = l }
}

// NewGate creates a Gate over ledger.
func NewGate(ledger *Ledger, opts ...GateOption) *Gate {
	g := &Gate{
		ledger:       ledger,
		requirements: DefaultRequirements(),
		verifiers:    DefaultVerifiers(),
		freshness:    DefaultFreshness,
		staleCheck:   true,
		root:         ".",
		extractor:    filelock.NewExtractor(),
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ledger returns the underlying ledger.
func (g *Gate) Ledger() *Ledger { return g.ledger }

// Freshness returns the approval window.
func (g *Gate) Freshness() time.Duration { return g.freshness }

// Requirement returns the verifier required for category, if any.
func (g *Gate) Requirement(category models.Category) (string, bool) {
	a, ok := g.requirements[category]
	return a, ok
}

// Verifier returns the canonical verifier identity matching agent.
func (g *Gate) Verifier(agent string) (string, bool) {
	for _, v := range g.verifiers {
		if hierarchy.SameIdentity(agent, v) || MatchApprover(agent, hierarchy.BaseName(v)) {
			return v, true
		}
	}
	return "", false
}

// RequireApproval reports whether the most recent verdict from an approver
// matching pattern is an approval no older than within. Freshness is judged
// by elapsed wall-clock time only.
func (g *Gate) RequireApproval(pattern string, within time.Duration) bool {
	_, ok := g.freshApproval(pattern, within)
	return ok
}

func (g *Gate) freshApproval(pattern string, within time.Duration) (Record, bool) {
	rec, ok := g.ledger.Latest(pattern)
	if !ok || rec.Status != StatusApproved {
		return rec, false
	}
	return rec, g.ledger.Now().Sub(rec.Timestamp) <= within
}

// CheckCompletion returns nil when req may proceed. Categories without a
// requirement always pass. Implementation completions that reference a plan
// also fail with a *StaleError when a file the plan names changed after the
// approval.
func (g *Gate) CheckCompletion(req CompletionRequest) error {
	approver, ok := g.requirements[req.Category]
	if !ok {
		return nil
	}

	pattern := hierarchy.BaseName(approver)
	rec, fresh := g.freshApproval(pattern, g.freshness)
	if !fresh {
		err := &MissingError{Category: req.Category, Approver: approver, Freshness: g.freshness}
		if rec.Approver != "" {
			last := rec
			err.Last = &last
		}
		g.log.Info().Str("task", req.TaskID).Str("category", string(req.Category)).Str("approver", approver).
			Msg("completion blocked: approval missing")
		return err
	}

	if !g.staleCheck || req.Category != models.CategoryImplementation {
		return nil
	}

	plan := req.PlanPath
	if plan == "" {
		plan = g.PlanFromText(req.Text)
	}
	if plan == "" {
		return nil
	}

	changed, err := g.ModifiedSince(plan, rec.Timestamp)
	if err != nil {
		// An unreadable plan cannot prove staleness.
		g.log.Warn().Err(err).Str("plan", plan).Msg("stale verification skipped")
		return nil
	}
	if len(changed) > 0 {
		g.log.Info().Str("task", req.TaskID).Str("plan", plan).Strs("files", changed).
			Msg("completion blocked: approval stale")
		return &StaleError{Approver: rec.Approver, ApprovedAt: rec.Timestamp, Plan: plan, Files: changed}
	}
	return nil
}
