// Package api runs subagent sessions against the Anthropic Messages API and
// exposes them through the session.Client contract.
package api

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ErrNoAPIKey is returned when neither the config nor the environment
// provide an API key.
var ErrNoAPIKey = errors.New("ANTHROPIC_API_KEY is not set")

// Messenger is the slice of the SDK the runtime calls.
type Messenger interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// ClientConfig selects the backend and model.
type ClientConfig struct {
	Model  anthropic.Model
	APIKey string
	// Bedrock routes requests through AWS Bedrock using the default AWS
	// credential chain.
	Bedrock    bool
	AWSRegion  string
	AWSProfile string
}

// Client is a configured Messages API endpoint with usage accounting.
type Client struct {
	messages Messenger
	model    anthropic.Model
	usage    *Usage
}

// NewClient builds a Client for the direct API or Bedrock.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var opts []option.RequestOption
	if cfg.Bedrock {
		var load []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			load = append(load, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			load = append(load, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, load...))
	} else {
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, ErrNoAPIKey
		}
		opts = append(opts, option.WithAPIKey(key))
	}

	inner := anthropic.NewClient(opts...)
	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if cfg.Bedrock {
		model = BedrockModel(model)
	}
	return NewClientWith(&inner.Messages, model), nil
}

// NewClientWith wraps an existing Messenger, typically a test double.
func NewClientWith(m Messenger, model anthropic.Model) *Client {
	return &Client{messages: m, model: model, usage: &Usage{}}
}

// Model returns the model requests are sent to.
func (c *Client) Model() anthropic.Model { return c.model }

// Usage returns the token counters.
func (c *Client) Usage() *Usage { return c.usage }

var bedrockProfiles = map[anthropic.Model]string{
	anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
}

// BedrockModel maps an Anthropic model name to its cross-region Bedrock
// inference profile. Unknown or already-mapped names pass through.
func BedrockModel(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic.") {
		return model
	}
	if p, ok := bedrockProfiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Usage accumulates token counts across calls.
type Usage struct {
	mu     sync.Mutex
	input  int64
	output int64
	calls  int
}

// Add records one call.
func (u *Usage) Add(input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.input += input
	u.output += output
	u.calls++
}

// Totals returns the accumulated counts.
func (u *Usage) Totals() (input, output int64, calls int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.input, u.output, u.calls
}
