package inference

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoAPIKey            = errors.New("inference: API key required")
	ErrNoModel             = errors.New("inference: model required")
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrEmptyResponse means the model answered with blank text.
	ErrEmptyResponse = errors.New("inference: empty response")
)

// APIError is a non-2xx answer from a chat completions endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("inference [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("inference [%s]: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
}

func (e *APIError) IsRateLimited() bool  { return e.StatusCode == http.StatusTooManyRequests }
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }
func (e *APIError) IsServerError() bool  { return e.StatusCode >= 500 && e.StatusCode < 600 }

// IsRetryable reports whether the same request may succeed later.
func (e *APIError) IsRetryable() bool { return e.IsRateLimited() || e.IsServerError() }

// ProviderError tags err with the provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// WrapError tags err with provider. A nil err stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError collects one error per provider tried. It unwraps to the last.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch n := len(e.Errors); n {
	case 0:
		return "inference chain: no errors recorded"
	case 1:
		return fmt.Sprintf("inference chain: %v", e.Errors[0])
	default:
		return fmt.Sprintf("inference chain: all %d providers failed, last error: %v", n, e.Errors[n-1])
	}
}

func (e *ChainError) Unwrap() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e.Errors[len(e.Errors)-1]
}
