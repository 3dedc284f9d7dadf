// Package llm defines the generative client interface and the HTTP
// providers behind the AI fallback tier.
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Image is an inline picture attached to the request, used for vision.
type Image struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// CompletionRequest is the input to a Complete call. Images are attached to
// the last user message.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Images      []Image   `json:"-"`
	MaxTokens   int       `json:"maxTokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	Content    string        `json:"content"`
	StopReason string        `json:"stopReason,omitempty"`
	Usage      Usage         `json:"usage"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Client is the interface all providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g., "gemini", "openai").
	Name() string
}

// userText joins the user-visible text of a request: the system prompt
// first, then every message in order.
func userText(req CompletionRequest) string {
	var b []byte
	if req.System != "" {
		b = append(b, req.System...)
		b = append(b, "\n\n"...)
	}
	for i, m := range req.Messages {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, m.Content...)
	}
	return string(b)
}
