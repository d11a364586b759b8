package filelock

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
)

// DefaultPlanGlobs are the directory patterns whose files are always treated
// as write targets when a prompt mentions them.
var DefaultPlanGlobs = []string{
	".conductor/plans/**",
	".paul/plans/**",
	".sisyphus/plans/**",
	"docs/plans/**",
}

// sourceExtensions lists the extensions recognized for bare path mentions.
const sourceExtensions = `ts|tsx|js|jsx|mjs|cjs|go|py|rs|java|kt|kts|rb|php|cs|cpp|cc|c|h|hpp|swift|m|scala|vue|svelte|css|scss|sass|less|html|json|yaml|yml|toml|md|mdx|sql|sh|bash|zsh|proto|graphql|lua|ex|exs|dart|zig`

var (
	pathToken = `[A-Za-z0-9_./\\@~-]+`

	verbPattern = regexp.MustCompile(`(?i)\b(?:modify|modifying|edit|editing|update|updating|create|creating|write|writing|change|changing|rewrite|refactor|refactoring|fix|fixing|delete|deleting|rename|renaming|patch|patching)\s+(?:(?:the|a|an|new|file|files|in|into|to|at|on)\s+)*[` + "`" + `"']?(` + pathToken + `)`)

	barePattern = regexp.MustCompile(`(?i)(?:^|[\s"'` + "`" + `(\[<:,=])((?:\.{1,2}[/\\]|/)?(?:[A-Za-z0-9_@.~-]+[/\\])*[A-Za-z0-9_.-]+\.(?:` + sourceExtensions + `))\b`)

	slashPattern = regexp.MustCompile(`(?:^|[\s"'` + "`" + `(\[<])((?:\.{1,2}/)?[A-Za-z0-9_.@-]+(?:/[A-Za-z0-9_.@-]+)+/?)`)
)

// Extractor finds the files a natural-language prompt intends to write.
// The heuristic is approximate by nature; callers that know the file set
// should pass it explicitly instead.
type Extractor struct {
	planGlobs []string
	log       zerolog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithPlanGlobs replaces the plan directory patterns.
func WithPlanGlobs(globs []string) ExtractorOption {
	return func(e *Extractor) {
		e.planGlobs = nil
		for _, g := range globs {
			if g = Normalize(g); g != "" {
				e.planGlobs = append(e.planGlobs, g)
			}
		}
	}
}

// WithExtractorLogger sets the logger used for soft warnings.
func WithExtractorLogger(l zerolog.Logger) ExtractorOption {
	return func(e *Extractor) { e.log = l }
}

// NewExtractor creates an Extractor with DefaultPlanGlobs.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{log: zerolog.Nop()}
	WithPlanGlobs(DefaultPlanGlobs)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFiles applies the default extractor to prompt.
func ExtractFiles(prompt string) []string {
	return NewExtractor().Extract(prompt)
}

// Extract returns the normalized, deduplicated paths found in prompt, in
// order of first appearance. The layers are: verb phrases ("edit src/a.ts"),
// bare paths with a known source extension, and paths under a plan directory.
// An empty result means the task is treated as non-conflicting.
func (e *Extractor) Extract(prompt string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(raw string) {
		p := Normalize(raw)
		if p == "" || seen[p] || !looksLikePath(p) {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, m := range verbPattern.FindAllStringSubmatch(prompt, -1) {
		if strings.ContainsAny(m[1], "./\\") {
			add(m[1])
		}
	}
	for _, m := range barePattern.FindAllStringSubmatch(prompt, -1) {
		add(m[1])
	}
	for _, m := range slashPattern.FindAllStringSubmatch(prompt, -1) {
		p := Normalize(m[1])
		if e.IsPlanPath(p) {
			add(p)
		}
	}

	if len(out) == 0 {
		e.log.Warn().Msg("no files extracted from delegation prompt; treating task as non-conflicting")
	}
	return out
}

// PlanGlobs returns the configured plan globs.
func (e *Extractor) PlanGlobs() []string {
	return append([]string(nil), e.planGlobs...)
}

// IsPlanPath reports whether the normalized path p lies under a plan directory.
func (e *Extractor) IsPlanPath(p string) bool {
	for _, g := range e.planGlobs {
		if ok, err := doublestar.Match(g, p); err == nil && ok {
			return true
		}
	}
	return false
}

// Normalize lowercases p, converts backslashes to forward slashes, strips
// surrounding quotes and punctuation, removes any leading "./" and collapses
// repeated slashes.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimLeft(p, "`\"'([{<")
	p = strings.TrimRight(p, "`\"')]}>,;:!?.")
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.ToLower(p)
}

func looksLikePath(p string) bool {
	if strings.Contains(p, "://") || strings.HasPrefix(p, "www.") {
		return false
	}
	if strings.Contains(p, "/") {
		return true
	}
	dot := strings.LastIndex(p, ".")
	if dot <= 0 || dot == len(p)-1 {
		return false
	}
	return strings.IndexFunc(p[dot+1:], unicode.IsLetter) >= 0
}
