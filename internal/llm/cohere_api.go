package llm

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const defaultCohereBaseURL = "https://api.cohere.ai/v1"

// CohereAPIClient is a direct HTTP client for the Cohere chat API.
type CohereAPIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewCohereAPIClient creates a Cohere client.
func NewCohereAPIClient(apiKey, model, baseURL string) *CohereAPIClient {
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	return &CohereAPIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (c *CohereAPIClient) Name() string {
	return "cohere"
}

// Complete sends a chat request. The system prompt travels as a SYSTEM
// history turn, earlier messages as history, the last one as the message.
func (c *CohereAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body := cohereRequest{Model: c.model, Temperature: req.Temperature}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		body.ChatHistory = append(body.ChatHistory, cohereTurn{Role: "SYSTEM", Message: req.System})
	}
	for i, m := range req.Messages {
		if i == len(req.Messages)-1 {
			body.Message = m.Content
			break
		}
		role := "USER"
		if m.Role == RoleAssistant {
			role = "CHATBOT"
		}
		body.ChatHistory = append(body.ChatHistory, cohereTurn{Role: role, Message: m.Content})
	}

	var result cohereResponse
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, c.client, c.Name(), c.baseURL+"/chat", headers, body, &result); err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Content:    result.Text,
		StopReason: result.FinishReason,
		Model:      body.Model,
		Duration:   time.Since(start),
	}, nil
}

type cohereRequest struct {
	Model       string       `json:"model,omitempty"`
	Message     string       `json:"message"`
	ChatHistory []cohereTurn `json:"chat_history,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type cohereTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type cohereResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}
