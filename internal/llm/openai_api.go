package llm

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenAITemperature = 0.7
)

// OpenAIAPIClient is a direct HTTP client for the OpenAI chat completions API.
type OpenAIAPIClient struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	client      *http.Client
}

// NewOpenAIAPIClient creates an OpenAI client. A nil temperature uses 0.7.
func NewOpenAIAPIClient(apiKey, model, baseURL string, temperature *float64) *OpenAIAPIClient {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	t := defaultOpenAITemperature
	if temperature != nil {
		t = *temperature
	}
	return &OpenAIAPIClient{
		apiKey:      apiKey,
		model:       model,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		temperature: t,
		client:      &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (o *OpenAIAPIClient) Name() string {
	return "openai"
}

// Complete sends a chat completion request.
func (o *OpenAIAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	body := openAIRequest{
		Model:       o.model,
		Messages:    o.buildMessages(req),
		Temperature: o.temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}

	var result openAIResponse
	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := postJSON(ctx, o.client, o.Name(), o.baseURL+"/chat/completions", headers, body, &result); err != nil {
		return nil, err
	}

	out := &CompletionResponse{
		Model:    result.Model,
		Duration: time.Since(start),
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
	}
	if len(result.Choices) > 0 {
		out.Content = result.Choices[0].Message.Content
		out.StopReason = result.Choices[0].FinishReason
	}
	return out, nil
}

func (o *OpenAIAPIClient) buildMessages(req CompletionRequest) []openAIMessage {
	var msgs []openAIMessage
	if req.System != "" {
		msgs = append(msgs, openAIMessage{Role: RoleSystem, Content: req.System})
	}
	for i, m := range req.Messages {
		last := i == len(req.Messages)-1
		if !last || m.Role != RoleUser || len(req.Images) == 0 {
			msgs = append(msgs, openAIMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openAIContentPart{{Type: "text", Text: m.Content}}
		for _, img := range req.Images {
			parts = append(parts, openAIContentPart{
				Type: "image_url",
				ImageURL: &openAIImageURL{
					URL: "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
				},
			})
		}
		msgs = append(msgs, openAIMessage{Role: m.Role, Content: parts})
	}
	return msgs
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

// openAIMessage content is either a string or a list of content parts.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
