// Package protect refuses subagent writes to paths that only conductor or a
// human should change: the approval ledger, the task database, VCS metadata
// and key material.
package protect

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrProtected is the sentinel wrapped by every DeniedError.
var ErrProtected = errors.New("path is protected")

// DefaultPatterns are workspace-relative globs no subagent may write.
var DefaultPatterns = []string{
	".conductor/**",
	".git/**",
	"**/.ssh/**",
	"**/.env",
	"**/.env.*",
}

// DefaultFileTypes are extensions no subagent may write.
var DefaultFileTypes = []string{
	".pem",
	".key",
	".p12",
	".pfx",
	".jks",
	".keystore",
}

// DeniedError names the rule that protected a path.
type DeniedError struct {
	Path   string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s is protected (%s)", e.Path, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrProtected }

// Guard checks paths against glob patterns and file types.
type Guard struct {
	patterns  []string
	fileTypes []string
}

// Option configures a Guard.
type Option func(*Guard)

// WithPatterns adds glob patterns.
func WithPatterns(patterns ...string) Option {
	return func(g *Guard) {
		for _, p := range patterns {
			if p = strings.TrimSpace(p); p != "" {
				g.patterns = append(g.patterns, p)
			}
		}
	}
}

// WithFileTypes adds file extensions. A missing leading dot is added.
func WithFileTypes(exts ...string) Option {
	return func(g *Guard) {
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			g.fileTypes = append(g.fileTypes, e)
		}
	}
}

// New returns a Guard with the defaults plus opts.
func New(opts ...Option) *Guard {
	g := &Guard{}
	WithPatterns(DefaultPatterns...)(g)
	WithFileTypes(DefaultFileTypes...)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check returns a *DeniedError when the slash-separated, workspace-relative
// path rel is protected. A nil Guard protects nothing.
func (g *Guard) Check(rel string) error {
	if g == nil {
		return nil
	}
	p := strings.TrimPrefix(path.Clean(strings.ReplaceAll(rel, "\\", "/")), "./")

	for _, pattern := range g.patterns {
		if ok, err := doublestar.Match(pattern, p); err == nil && ok {
			return &DeniedError{Path: rel, Reason: "matches " + pattern}
		}
	}
	ext := strings.ToLower(path.Ext(p))
	for _, t := range g.fileTypes {
		if ext == t {
			return &DeniedError{Path: rel, Reason: "file type " + t}
		}
	}
	return nil
}
