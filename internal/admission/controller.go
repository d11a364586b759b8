// Package admission bounds how many delegations a parent session may have in
// flight at once.
//
// Admission is binary: a request over the limit is rejected with an
// explanation, never queued. The running count is read from the task tracker
// the orchestrator already maintains, so completing a task (removing it from
// the tracker) is what frees capacity.
package admission

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// DefaultLimit is the per-session concurrency limit when none is configured.
const DefaultLimit = 3

// Unlimited disables the check when used as a limit.
const Unlimited = 0

// ErrRejected is the sentinel wrapped by every RejectedError.
var ErrRejected = errors.New("delegation limit reached")

// Counter reports the delegations currently counted against a parent session.
type Counter interface {
	ActiveCount(parentSessionID string) int
	ActiveCountByCategory(parentSessionID string, category models.Category) int
}

// Decision is the result of an admission request.
type Decision struct {
	Accepted bool
	Reason   string
	Active   int
	Limit    int
}

// RejectedError carries a rejected Decision.
type RejectedError struct {
	ParentSessionID string
	Category        models.Category
	Decision        Decision
}

func (e *RejectedError) Error() string { return e.Decision.Reason }

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Controller admits or rejects delegation requests.
type Controller struct {
	counter        Counter
	limit          int
	categoryLimits map[models.Category]int
	log            zerolog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLimit sets the per-session limit. Values <= 0 mean unlimited.
func WithLimit(n int) Option {
	return func(c *Controller) { c.limit = n }
}

// WithCategoryLimit caps a single category independently of the session limit.
func WithCategoryLimit(category models.Category, n int) Option {
	return func(c *Controller) { c.categoryLimits[category] = n }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// NewController creates a Controller reading counts from counter.
func NewController(counter Counter, opts ...Option) *Controller {
	c := &Controller{
		counter:        counter,
		limit:          DefaultLimit,
		categoryLimits: make(map[models.Category]int),
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limit returns the configured per-session limit (<= 0 is unlimited).
func (c *Controller) Limit() int { return c.limit }

// Admit decides whether one more delegation may start under parentSessionID.
func (c *Controller) Admit(parentSessionID string, category models.Category) Decision {
	if n, ok := c.categoryLimits[category]; ok && n > Unlimited {
		active := c.counter.ActiveCountByCategory(parentSessionID, category)
		if active >= n {
			d := Decision{
				Active: active,
				Limit:  n,
				Reason: fmt.Sprintf(
					"Parallel limit for %q delegations reached (%d/%d running in this session). "+
						"Wait for one of them to finish, or run this work sequentially.",
					category, active, n),
			}
			c.log.Info().Str("session", parentSessionID).Str("category", string(category)).
				Int("active", active).Int("limit", n).Msg("admission rejected by category limit")
			return d
		}
	}

	active := c.counter.ActiveCount(parentSessionID)
	if c.limit <= Unlimited {
		return Decision{Accepted: true, Active: active, Limit: c.limit}
	}
	if active >= c.limit {
		c.log.Info().Str("session", parentSessionID).Int("active", active).Int("limit", c.limit).
			Msg("admission rejected")
		return Decision{
			Active: active,
			Limit:  c.limit,
			Reason: fmt.Sprintf(
				"Maximum of %d parallel delegations reached (%d running in this session). "+
					"Wait for a running task to finish, or run this work sequentially.",
				c.limit, active),
		}
	}
	return Decision{Accepted: true, Active: active, Limit: c.limit}
}

// Check is Admit returning a *RejectedError on rejection.
func (c *Controller) Check(parentSessionID string, category models.Category) error {
	d := c.Admit(parentSessionID, category)
	if d.Accepted {
		return nil
	}
	return &RejectedError{ParentSessionID: parentSessionID, Category: category, Decision: d}
}
