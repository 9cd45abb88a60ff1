package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-rpc-service/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// RequestTimeout bounds each RPC call. Zero disables the deadline.
	RequestTimeout time.Duration
	// Overload, when non-nil, guards the RPC routes.
	Overload *rate.Limiter
}

// NewRouter mounts the RPC surface under /rpc plus /health and /metrics.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	rpc := router.PathPrefix("/rpc").Subrouter()
	rpc.Use(OverloadMiddleware(opts.Overload))
	if opts.RequestTimeout > 0 {
		rpc.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	rpc.HandleFunc("/weather.getCurrent", h.GetCurrent).Methods(http.MethodGet)
	rpc.HandleFunc("/weather.clearCache", h.ClearCache).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Unknown procedure")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed for this procedure")
	})
	return router
}
