package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-rpc-service/internal/client"
	"github.com/kjstillabower/weather-rpc-service/internal/observability"
	"github.com/kjstillabower/weather-rpc-service/internal/ratelimit"
	"github.com/kjstillabower/weather-rpc-service/internal/service"
	"github.com/kjstillabower/weather-rpc-service/internal/traffic"
)

// errorResponse is the caller-visible shape of a service error.
type errorResponse struct {
	status  int
	code    string
	message string
}

// classifyError maps the service error taxonomy onto HTTP. Each kind gets a
// distinct code so callers can tell "fix the input" from "retry later" from
// "service is broken".
func classifyError(err error) errorResponse {
	switch {
	case errors.Is(err, client.ErrInvalidInput):
		return errorResponse{http.StatusBadRequest, "INVALID_INPUT", "Location not recognised"}
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return errorResponse{http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests"}
	case errors.Is(err, client.ErrUpstreamAuth):
		return errorResponse{http.StatusInternalServerError, "UPSTREAM_AUTH_FAILURE", "Weather provider rejected our credentials"}
	// Invalidation failures wrap the backend cause, which may itself be a
	// deadline error; match them before the upstream case.
	case errors.Is(err, service.ErrCacheInvalidation):
		return errorResponse{http.StatusInternalServerError, "CACHE_INVALIDATION_FAILED", "Unable to clear cached weather data"}
	case errors.Is(err, client.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		return errorResponse{http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"}
	default:
		return errorResponse{http.StatusInternalServerError, "INTERNAL", "Internal error"}
	}
}

// writeServiceError writes the mapped error and feeds the traffic tracker
// that drives health. Caller mistakes do not count against the service.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := classifyError(err)
	switch {
	case errors.Is(err, context.Canceled):
		// The caller went away; not a service failure.
	case resp.status == http.StatusTooManyRequests:
		traffic.RecordDenied()
		if h.limits.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.limits.RetryAfter.Seconds())))
		}
	case resp.status == http.StatusBadRequest:
		traffic.RecordSuccess()
	default:
		traffic.RecordError()
	}

	logger := observability.LoggerFromContext(r.Context(), h.logger)
	if resp.status >= http.StatusInternalServerError {
		logger.Warn("request failed", zap.String("code", resp.code), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.String("code", resp.code), zap.Error(err))
	}
	writeError(w, r, resp.status, resp.code, resp.message)
}
