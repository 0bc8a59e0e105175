// Package llms is the gateway to chat completion providers. Agents go
// through the Provider interface so tests can substitute fakes.
package llms

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider for a JSON object response.
	JSONMode bool
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed request.
type Response struct {
	Content  string
	Usage    Usage
	Model    string
	Duration time.Duration
}

// Provider executes completion requests.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}
