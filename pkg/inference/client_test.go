package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatReply(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":    "chatcmpl-test",
		"model": "gpt-4o-mini",
		"choices": []map[string]interface{}{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}

		var body chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "gpt-4o-mini" {
			t.Errorf("model = %s", body.Model)
		}
		if body.Temperature != 0.6 {
			t.Errorf("temperature = %v, want 0.6", body.Temperature)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", body.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatReply("  Push faster, keep it steady.  "))
	}))
	defer server.Close()

	client, err := NewClient(
		WithBaseURL(server.URL+"/"),
		WithAPIKey("test-key"),
		WithModel("gpt-4o-mini"),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			NewSystemMessage("You are a certified CPR instructor."),
			NewUserMessage("Rate is 90 bpm."),
		},
		Temperature: 0.6,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Message.Content != "Push faster, keep it steady." {
		t.Errorf("Unexpected content: %q", resp.Message.Content)
	}
	if resp.Message.Role != RoleAssistant {
		t.Errorf("Role = %s", resp.Message.Role)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestClientEmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatReply("   "))
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL))
	_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("hi")}})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestClientRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"overloaded","code":"server_busy"}}`))
			return
		}
		json.NewEncoder(w).Encode(chatReply("ok"))
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL), WithRetry(3, time.Millisecond))

	resp, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("hi")}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestClientAPIError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL), WithRetry(3, time.Millisecond))

	_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("hi")}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T: %v", err, err)
	}
	if !apiErr.IsUnauthorized() || apiErr.IsRetryable() {
		t.Errorf("unexpected classification: %+v", apiErr)
	}
	if apiErr.Code != "invalid_api_key" || apiErr.Message != "Invalid API key" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("4xx should not be retried, got %d attempts", n)
	}
}

func TestClientContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Chat(ctx, &ChatRequest{Messages: []Message{NewUserMessage("hi")}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL))
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{name: "defaults", opts: nil},
		{name: "no base url", opts: []Option{WithBaseURL("")}, wantErr: true},
		{name: "no model", opts: []Option{WithModel("")}, wantErr: true},
		{name: "negative retries", opts: []Option{WithRetry(-1, 0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
