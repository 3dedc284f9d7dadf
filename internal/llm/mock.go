package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted backend for tests. CompleteFunc, when set,
// answers every call; otherwise Replies are returned in order and the
// last one repeats. Every request is recorded.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Replies      []string

	mu    sync.Mutex
	calls []CompletionRequest
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if len(m.Replies) == 0 {
		return &CompletionResponse{Content: "mock response"}, nil
	}
	return &CompletionResponse{Content: m.Replies[min(n, len(m.Replies)-1)]}, nil
}

// Calls returns the requests seen so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.calls...)
}
