package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-rpc-service/internal/observability"
	"github.com/kjstillabower/weather-rpc-service/internal/traffic"
)

func TestCorrelationIDMiddleware_GeneratesAndStoresID(t *testing.T) {
	var seenID string
	var seenLogger *zap.Logger
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seenID = observability.CorrelationIDFromContext(r.Context())
		seenLogger = observability.LoggerFromContext(r.Context(), nil)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	header := w.Header().Get(CorrelationIDHeader)
	if header == "" {
		t.Fatal("X-Correlation-ID header missing")
	}
	if seenID != header {
		t.Errorf("context id = %q, header = %q", seenID, header)
	}
	if seenLogger == nil {
		t.Error("request logger not stored in context")
	}
}

func TestCorrelationIDMiddleware_PropagatesClientID(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTeapot, "TEST", "test")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationIDHeader, "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(CorrelationIDHeader); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.RequestID != "client-provided-id" {
		t.Errorf("requestId = %q, want client-provided-id", body.Error.RequestID)
	}
}

func TestMetricsMiddleware_LabelsByRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/rpc/{procedure}", func(w http.ResponseWriter, r *http.Request) {
		if InFlightCount() != 1 {
			t.Errorf("InFlightCount() = %d during request, want 1", InFlightCount())
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/rpc/{procedure}", "5xx")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rpc/weather.getCurrent", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("httpRequestsTotal delta = %v, want 1", got)
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after request, want 0", InFlightCount())
	}
}

func TestGetRoute_Unmatched(t *testing.T) {
	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nope", nil)); got != "unmatched" {
		t.Errorf("getRoute() = %q, want unmatched", got)
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 429: "4xx", 503: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	router := mux.NewRouter()
	router.Use(TimeoutMiddleware(10 * time.Millisecond))
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			if r.Context().Err() != context.DeadlineExceeded {
				t.Errorf("ctx.Err() = %v, want DeadlineExceeded", r.Context().Err())
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		}
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestOverloadMiddleware_Returns429WhenExhausted(t *testing.T) {
	traffic.Reset()
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(OverloadMiddleware(limiter))
	router.HandleFunc("/rpc/x", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.ToFloat64(observability.OverloadDeniedTotal)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rpc/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rpc/x", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", w.Header().Get("Retry-After"))
	}
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "RATE_LIMITED" || body.Error.RequestID == "" {
		t.Errorf("error = %+v", body.Error)
	}
	if got := testutil.ToFloat64(observability.OverloadDeniedTotal) - before; got != 1 {
		t.Errorf("overloadDeniedTotal delta = %v, want 1", got)
	}
	if got := traffic.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}
}

func TestOverloadMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := mux.NewRouter()
	router.Use(OverloadMiddleware(nil))
	router.HandleFunc("/rpc/x", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rpc/x", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestNewRouter_OverloadAppliesOnlyToRPC(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{}, envOptions{})
	env.router = NewRouter(env.handler, zap.NewNop(), RouterOptions{Overload: rate.NewLimiter(0, 0)})

	if w := env.do(t, getCurrentRequest("Lima")); w.Code != http.StatusTooManyRequests {
		t.Errorf("rpc status = %d, want 429", w.Code)
	}
	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
	if w := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil)); w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", w.Code)
	}
}
