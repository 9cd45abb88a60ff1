package client

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the weatherApiErrorsTotal label.
const (
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryCanceled     ErrorCategory = "canceled"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryAuth         ErrorCategory = "auth"
	ErrorCategoryInvalidInput ErrorCategory = "invalid_input"
	ErrorCategoryCircuitOpen  ErrorCategory = "circuit_open"
	ErrorCategoryParsing      ErrorCategory = "parsing"
	ErrorCategoryUpstream     ErrorCategory = "upstream"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) && !errors.Is(err, ErrUpstreamUnavailable) {
		return ErrorCategoryCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, ErrUpstreamAuth) {
		return ErrorCategoryAuth
	}
	if errors.Is(err, ErrInvalidInput) {
		return ErrorCategoryInvalidInput
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "circuit breaker"):
		return ErrorCategoryCircuitOpen
	case strings.Contains(errStr, "timeout"):
		return ErrorCategoryTimeout
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "no such host"):
		return ErrorCategoryNetwork
	case strings.Contains(errStr, "parse"):
		return ErrorCategoryParsing
	}

	if errors.Is(err, ErrUpstreamUnavailable) {
		return ErrorCategoryUpstream
	}
	return ErrorCategoryUnknown
}
