// Package llm defines the language-model boundary used by LLM-backed crews.
// Providers are interchangeable behind Provider; prompt construction lives
// with the crews.
package llm

import (
	"context"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReason describes why the model stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // overrides the provider default if set
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for language model backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the current model identifier string.
	ModelID() string

	// MaxTokens returns the provider's default max output token limit.
	MaxTokens() int
}

// UserMessage builds a single user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// maxTokensOverride forwards to an inner provider but reports and requests
// a different output budget.
type maxTokensOverride struct {
	inner Provider
	max   int
}

// WithMaxTokensOverride wraps p so that MaxTokens reports n and requests
// that do not set their own budget are sent with n. Everything else is
// forwarded to p unchanged.
func WithMaxTokensOverride(p Provider, n int) Provider {
	if n <= 0 {
		return p
	}
	return &maxTokensOverride{inner: p, max: n}
}

func (o *maxTokensOverride) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = o.max
	}
	return o.inner.Complete(ctx, req)
}

func (o *maxTokensOverride) ModelID() string { return o.inner.ModelID() }
func (o *maxTokensOverride) MaxTokens() int  { return o.max }
