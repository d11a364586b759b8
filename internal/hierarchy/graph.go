// Package hierarchy enforces which orchestrating agents may delegate to which
// subagents.
//
// The graph is a static table keyed by orchestrator identity. Matching is
// case-insensitive. An exact identity match is always tried first; the only
// secondary rule compares whole base names, so "Joshua" satisfies an allowed
// entry of "Joshua (Test Runner)" while "Paul-Junior" never satisfies "paul".
package hierarchy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnauthorized is the sentinel wrapped by every ViolationError.
var ErrUnauthorized = errors.New("delegation target not authorized")

// Decision is the outcome of an authorization lookup.
type Decision struct {
	// Allowed is true when the caller may delegate to the target.
	Allowed bool
	// Restricted is false when the caller has no entry in the graph and the
	// graph is not strict; such callers are unrestricted.
	Restricted bool
	// Matched is the allowed-target entry that satisfied the request.
	Matched string
	// AllowedTargets is the caller's full allowed list, in table order.
	AllowedTargets []string
}

// ViolationError reports a rejected delegation.
type ViolationError struct {
	Caller         string
	Target         string
	AllowedTargets []string
}

func (e *ViolationError) Error() string {
	allowed := "none"
	if len(e.AllowedTargets) > 0 {
		allowed = strings.Join(e.AllowedTargets, ", ")
	}
	return fmt.Sprintf("%q is not allowed to delegate to %q. Allowed targets: %s", e.Caller, e.Target, allowed)
}

func (e *ViolationError) Unwrap() error { return ErrUnauthorized }

// Graph maps orchestrator identities to the ordered set of agents they may call.
type Graph struct {
	edges  map[string][]string
	strict bool
}

// Option configures a Graph.
type Option func(*Graph)

// WithStrict rejects callers that have no entry in the graph.
func WithStrict(strict bool) Option {
	return func(g *Graph) { g.strict = strict }
}

// New builds a graph from caller → allowed targets. Caller keys are
// normalized; target lists keep their display form and order, minus duplicates.
func New(edges map[string][]string, opts ...Option) *Graph {
	g := &Graph{edges: make(map[string][]string, len(edges))}
	for caller, targets := range edges {
		key := Normalize(caller)
		seen := make(map[string]bool, len(targets))
		for _, t := range targets {
			n := Normalize(t)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			g.edges[key] = append(g.edges[key], strings.TrimSpace(t))
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Callers returns the orchestrator identities present in the graph, sorted.
func (g *Graph) Callers() []string {
	out := make([]string, 0, len(g.edges))
	for k := range g.edges {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AllowedTargets returns a copy of the caller's allowed list and whether the
// caller has an entry at all.
func (g *Graph) AllowedTargets(caller string) ([]string, bool) {
	key, ok := g.lookupCaller(caller)
	if !ok {
		return nil, false
	}
	return append([]string(nil), g.edges[key]...), true
}

// Authorize decides whether caller may delegate to target.
func (g *Graph) Authorize(caller, target string) Decision {
	key, ok := g.lookupCaller(caller)
	if !ok {
		return Decision{Allowed: !g.strict, Restricted: g.strict}
	}

	allowed := g.edges[key]
	d := Decision{Restricted: true, AllowedTargets: append([]string(nil), allowed...)}

	want := Normalize(target)
	if want == "" {
		return d
	}

	for _, a := range allowed {
		if Normalize(a) == want {
			d.Allowed = true
			d.Matched = a
			return d
		}
	}

	for _, a := range allowed {
		if SameIdentity(a, target) {
			d.Allowed = true
			d.Matched = a
			return d
		}
	}

	return d
}

// Check is Authorize returning a *ViolationError on rejection.
func (g *Graph) Check(caller, target string) error {
	d := g.Authorize(caller, target)
	if d.Allowed {
		return nil
	}
	return &ViolationError{Caller: caller, Target: target, AllowedTargets: d.AllowedTargets}
}

func (g *Graph) lookupCaller(caller string) (string, bool) {
	key := Normalize(caller)
	if _, ok := g.edges[key]; ok {
		return key, true
	}
	// "Paul (Orchestrator)" resolves to the "paul" entry.
	base, _ := splitIdentity(key)
	if _, ok := g.edges[base]; ok {
		return base, true
	}
	return "", false
}
