package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-rpc-service/internal/client"
	"github.com/kjstillabower/weather-rpc-service/internal/lifecycle"
	"github.com/kjstillabower/weather-rpc-service/internal/observability"
	"github.com/kjstillabower/weather-rpc-service/internal/service"
	"github.com/kjstillabower/weather-rpc-service/internal/traffic"
	"github.com/kjstillabower/weather-rpc-service/internal/validation"
)

// maxBodyBytes caps RPC request bodies.
const maxBodyBytes = 4 << 10

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// Window is the traffic window the error rate is computed over.
	Window time.Duration
	// DegradedErrorPct is the upstream error percentage at which health reports degraded.
	DegradedErrorPct int
	// CachePing, when set, reports cache reachability. An unreachable cache
	// is shown in checks but never changes the overall status.
	CachePing func(ctx context.Context) error
}

// RequestLimits bounds RPC inputs and shapes 429 responses.
type RequestLimits struct {
	MinLocationLength int
	MaxLocationLength int
	// RetryAfter is advertised when a caller exhausts its quota.
	RetryAfter time.Duration
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService   *service.WeatherService
	client           client.WeatherClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	limits           RequestLimits
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	weatherService *service.WeatherService,
	client client.WeatherClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	limits RequestLimits,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weatherService: weatherService,
		client:         client,
		healthConfig:   healthConfig,
		logger:         logger,
		limits:         limits,
	}
}

// GetCurrent handles GET /rpc/weather.getCurrent?location=<loc>.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	location, err := validation.ValidateLocation(r.URL.Query().Get("location"), h.limits.MinLocationLength, h.limits.MaxLocationLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	result, err := h.weatherService.GetCurrent(r.Context(), location, ClientIdentity(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// ClearCache handles POST /rpc/weather.clearCache with body {"location": "<loc>"}.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	var in validation.LocationInput
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", `request body must be JSON {"location": "..."}`)
		return
	}
	location, err := in.Validate(h.limits.MinLocationLength, h.limits.MaxLocationLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	if err := h.weatherService.ClearCache(r.Context(), location); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "api_key_invalid" || result.reason == "upstream_unreachable" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = "healthy"
		if err := h.healthConfig.CachePing(r.Context()); err != nil {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-rpc-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, upstream key and
// reachability, upstream error rate. Cache state is deliberately absent.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		if errors.Is(err, client.ErrUpstreamAuth) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
		return healthResult{"degraded", http.StatusServiceUnavailable, "upstream_unreachable"}
	}
	if h.healthConfig != nil && h.healthConfig.Window > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.Window)
		if total > 0 && errs*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"code","message","requestId"}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
