package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestCategorizeError verifies the metric label chosen for sentinel errors,
// wrapped errors and transport messages.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"caller canceled", fmt.Errorf("upstream request canceled by caller: %w", context.Canceled), ErrorCategoryCanceled},
		{"auth", ErrUpstreamAuth, ErrorCategoryAuth},
		{"wrapped auth", fmt.Errorf("%w: HTTP 401", ErrUpstreamAuth), ErrorCategoryAuth},
		{"invalid input", fmt.Errorf("%w: Bad API Request", ErrInvalidInput), ErrorCategoryInvalidInput},
		{"upstream 5xx", fmt.Errorf("%w: HTTP 502", ErrUpstreamUnavailable), ErrorCategoryUpstream},
		{"timeout in message", fmt.Errorf("%w: request timeout: %w", ErrUpstreamUnavailable, context.DeadlineExceeded), ErrorCategoryTimeout},
		{"network in message", fmt.Errorf("%w: dial tcp: connection refused", ErrUpstreamUnavailable), ErrorCategoryNetwork},
		{"parse in message", fmt.Errorf("%w: parse response: unexpected EOF", ErrUpstreamUnavailable), ErrorCategoryParsing},
		{"breaker open", fmt.Errorf("%w: circuit breaker is open", ErrUpstreamUnavailable), ErrorCategoryCircuitOpen},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CategorizeError(tt.err)
			if got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}
