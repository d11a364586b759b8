// Package clarify implements the bounded question/answer round trip between
// a subagent and the session that delegated to it.
//
// A subagent asks by ending its output with a <clarification> block holding
// YAML:
//
//	<clarification>
//	question: Which storage backend?
//	options:
//	  - label: sqlite
//	    description: embedded, zero setup
//	  - label: postgres
//	context: The service already ships a migrations dir.
//	recommendation: sqlite
//	</clarification>
package clarify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	blockPattern = regexp.MustCompile(`(?is)<clarification>(.*?)</clarification>`)
	fencePattern = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")

	// ErrInvalidRequest means a clarification block was present but
	// malformed.
	ErrInvalidRequest = errors.New("invalid clarification request")
)

// Option is one labeled answer the subagent offers.
type Option struct {
	Label       string `yaml:"label"`
	Description string `yaml:"description,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare string label.
func (o *Option) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		o.Label = strings.TrimSpace(node.Value)
		return nil
	}
	type plain Option
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*o = Option(p)
	o.Label = strings.TrimSpace(o.Label)
	o.Description = strings.TrimSpace(o.Description)
	return nil
}

// Request is a parsed clarification block.
type Request struct {
	Question       string   `yaml:"question"`
	Options        []Option `yaml:"options"`
	Context        string   `yaml:"context,omitempty"`
	Recommendation string   `yaml:"recommendation,omitempty"`
}

// Validate checks the request has a question and at least two labeled
// options.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("%w: question is empty", ErrInvalidRequest)
	}
	labeled := 0
	for _, o := range r.Options {
		if o.Label != "" {
			labeled++
		}
	}
	if labeled < 2 {
		return fmt.Errorf("%w: need at least 2 labeled options, got %d", ErrInvalidRequest, labeled)
	}
	return nil
}

// Resolve picks the answer used when the round limit is hit: the option
// matching the recommendation, the recommendation text itself, or the first
// option.
func (r Request) Resolve() string {
	rec := strings.TrimSpace(r.Recommendation)
	if rec != "" {
		for _, o := range r.Options {
			if strings.EqualFold(o.Label, rec) {
				return o.Label
			}
		}
		// "B - use postgres" style recommendations name the label first.
		for _, o := range r.Options {
			if o.Label != "" && strings.HasPrefix(strings.ToLower(rec), strings.ToLower(o.Label)+" ") {
				return o.Label
			}
		}
		return rec
	}
	for _, o := range r.Options {
		if o.Label != "" {
			return o.Label
		}
	}
	return ""
}

// HasBlock reports whether output contains a clarification block, valid or
// not.
func HasBlock(output string) bool {
	return blockPattern.MatchString(output)
}

// Parse extracts the last clarification block in output. It returns
// ok=false when there is none, and an error wrapping ErrInvalidRequest when
// the block does not decode or validate.
func Parse(output string) (req Request, ok bool, err error) {
	matches := blockPattern.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return Request{}, false, nil
	}
	body := matches[len(matches)-1][1]
	body = fencePattern.ReplaceAllString(body, "")

	if err := yaml.Unmarshal([]byte(body), &req); err != nil {
		return Request{}, true, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Question = strings.TrimSpace(req.Question)
	req.Context = strings.TrimSpace(req.Context)
	req.Recommendation = strings.TrimSpace(req.Recommendation)
	if err := req.Validate(); err != nil {
		return Request{}, true, err
	}
	return req, true, nil
}

// StripBlocks removes every clarification block from output.
func StripBlocks(output string) string {
	return strings.TrimSpace(blockPattern.ReplaceAllString(output, ""))
}
