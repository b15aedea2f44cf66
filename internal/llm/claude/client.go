// Package claude implements enrich.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/arbiter/internal/enrich"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

// Config holds connection settings for the Claude API.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, used for tests and proxies.
	BaseURL string
}

// Client implements enrich.Provider for Claude.
type Client struct {
	client sdk.Client
	model  string
}

// New creates a Claude client. Retries are disabled; the enrichment adapter
// owns timeouts and records each call exactly once.
func New(c Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(c.APIKey),
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: sdk.NewClient(opts...), model: model}
}

// Name implements enrich.Provider.
func (c *Client) Name() string { return "claude" }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends a single-turn message at temperature zero and returns the
// concatenated text blocks of the reply.
func (c *Client) Complete(ctx context.Context, req *enrich.CompletionRequest) (*enrich.CompletionResponse, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: sdk.Float(0),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: create message: %w", err)
	}
	return fromSDKMessage(msg)
}

func fromSDKMessage(msg *sdk.Message) (*enrich.CompletionResponse, error) {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return nil, errors.New("claude: response has no text content")
	}
	return &enrich.CompletionResponse{
		Text:         b.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
