package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1"

// GeminiAPIClient is a direct HTTP client for the Google Gemini API.
type GeminiAPIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiAPIClient creates a Gemini client. An empty baseURL uses the
// public v1 endpoint.
func NewGeminiAPIClient(apiKey, model, baseURL string) *GeminiAPIClient {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiAPIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (g *GeminiAPIClient) Name() string {
	return "gemini"
}

// Complete sends a generateContent request.
func (g *GeminiAPIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	model := g.model
	if req.Model != "" {
		model = req.Model
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))

	var result geminiAPIResponse
	if err := postJSON(ctx, g.client, g.Name(), endpoint, nil, g.buildRequestBody(req), &result); err != nil {
		return nil, err
	}

	var content strings.Builder
	stopReason := ""
	if len(result.Candidates) > 0 {
		c := result.Candidates[0]
		for _, part := range c.Content.Parts {
			content.WriteString(part.Text)
		}
		stopReason = c.FinishReason
	}

	return &CompletionResponse{
		Content:    content.String(),
		StopReason: stopReason,
		Model:      model,
		Duration:   time.Since(start),
		Usage: Usage{
			InputTokens:  result.UsageMetadata.PromptTokenCount,
			OutputTokens: result.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func (g *GeminiAPIClient) buildRequestBody(req CompletionRequest) geminiRequest {
	parts := []geminiPart{{Text: userText(req)}}
	for _, img := range req.Images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: img.MimeType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: RoleUser, Parts: parts}},
	}
	if req.MaxTokens > 0 || req.Temperature != nil {
		body.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}
	return body
}

// API request/response structures

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiAPIResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}
