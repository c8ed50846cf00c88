package tts

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Mock is an in-memory Provider. Its default audio is the spoken text itself
// so tests can assert on the decoded payload.
type Mock struct {
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)
	HealthFunc     func(ctx context.Context) error
	CloseFunc      func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall is one recorded invocation. Text is empty except for Synthesize.
type MockCall struct {
	Method string
	Text   string
}

// NewMock returns a mock that echoes text as MP3 "audio".
func NewMock() *Mock {
	return &Mock{SynthesizeFunc: echo}
}

// WithError returns a mock whose every call fails with err.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(context.Context, string) (*AudioResult, error) { return nil, err },
		HealthFunc:     func(context.Context) error { return err },
	}
}

// WithLatency delays every synthesis on m by delay, honoring cancellation.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	next := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text string) (*AudioResult, error) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if next == nil {
			return nil, WrapError("mock", ErrProviderUnavailable)
		}
		return next(ctx, text)
	}
	return m
}

func echo(_ context.Context, text string) (*AudioResult, error) {
	return &AudioResult{
		Audio:     []byte(text),
		Format:    AudioFormat{Encoding: EncodingMP3, SampleRate: 44100, Channels: 1},
		CharCount: len(text),
		LatencyMs: 10,
	}, nil
}

func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.record("Synthesize", text)
	if m.SynthesizeFunc == nil {
		return nil, WrapError("mock", ErrProviderUnavailable)
	}
	return m.SynthesizeFunc(ctx, text)
}

func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", "")
	if m.HealthFunc == nil {
		return nil
	}
	return m.HealthFunc(ctx)
}

func (m *Mock) Close() error {
	m.record("Close", "")
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text})
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

// LastCall returns the most recent call, or nil.
func (m *Mock) LastCall() *MockCall {
	calls := m.Calls()
	if len(calls) == 0 {
		return nil
	}
	return &calls[len(calls)-1]
}

var _ Provider = (*Mock)(nil)
