package enrich

import "context"

// Provider is the interface for any completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn completion.
type CompletionRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// CompletionResponse is the text produced for a CompletionRequest.
type CompletionResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}
