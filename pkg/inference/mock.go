package inference

import (
	"context"
	"slices"
	"sync"
)

// Mock is an in-memory Provider that records every request it sees.
type Mock struct {
	ChatFunc   func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	HealthFunc func(ctx context.Context) error
	CloseFunc  func() error

	mu       sync.Mutex
	calls    []MockCall
	requests []*ChatRequest
}

// MockCall is one recorded invocation.
type MockCall struct {
	Method string
}

// NewMock returns a mock that answers every chat with text.
func NewMock(text string) *Mock {
	return &Mock{
		ChatFunc: func(context.Context, *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message:      NewAssistantMessage(text),
				FinishReason: "stop",
				Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
	}
}

// WithError returns a mock whose every call fails with err.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc:   func(context.Context, *ChatRequest) (*ChatResponse, error) { return nil, err },
		HealthFunc: func(context.Context) error { return err },
	}
}

func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "Chat"})
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ChatFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m.ChatFunc(ctx, req)
}

func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFunc == nil {
		return nil
	}
	return m.HealthFunc(ctx)
}

func (m *Mock) Close() error {
	m.record("Close")
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method})
	m.mu.Unlock()
}

// Calls returns a copy of the recorded calls in order.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount counts calls to method.
func (m *Mock) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastRequest returns the most recent chat request, or nil.
func (m *Mock) LastRequest() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset forgets recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.calls, m.requests = nil, nil
	m.mu.Unlock()
}

var _ Provider = (*Mock)(nil)
