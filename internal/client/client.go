package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-rpc-service/internal/models"
	"github.com/kjstillabower/weather-rpc-service/internal/observability"
)

// WeatherClient fetches current conditions from the upstream provider.
type WeatherClient interface {
	Fetch(ctx context.Context, location string) (models.WeatherData, error)
	ValidateAPIKey(ctx context.Context) error
}

// Upstream error taxonomy. Every error returned by Fetch wraps exactly one of these.
var (
	// ErrInvalidInput means the provider did not recognise the location.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstreamAuth means the provider rejected our credentials.
	ErrUpstreamAuth = errors.New("upstream auth failure")
	// ErrUpstreamUnavailable covers timeouts, network failures, bad payloads and any other non-2xx.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 1 << 20

// probeLocation is used by ValidateAPIKey.
const probeLocation = "London"

// VisualCrossingClient calls the Visual Crossing timeline API. One attempt per
// call, no retries.
type VisualCrossingClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewVisualCrossingClient returns a client for baseURL. A zero timeout means DefaultTimeout.
func NewVisualCrossingClient(apiKey, baseURL string, timeout time.Duration) (*VisualCrossingClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrUpstreamAuth)
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid API URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &VisualCrossingClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// BreakerSettings configures the optional upstream circuit breaker.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive unavailable outcomes that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a half-open probe.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probes are let through while half-open.
	HalfOpenRequests uint32
}

// EnableBreaker wraps upstream calls in a circuit breaker. Only
// ErrUpstreamUnavailable outcomes count as failures; an unknown location or a
// rejected key says nothing about the provider's health.
func (c *VisualCrossingClient) EnableBreaker(s BreakerSettings) {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenRequests == 0 {
		s.HalfOpenRequests = 1
	}
	observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather_api",
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// visualCrossingResponse is the subset of the timeline payload we consume.
type visualCrossingResponse struct {
	QueryCost         int     `json:"queryCost"`
	ResolvedAddress   string  `json:"resolvedAddress"`
	Address           string  `json:"address"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Description       string  `json:"description"`
	CurrentConditions struct {
		Temp       float64 `json:"temp"`
		Humidity   float64 `json:"humidity"`
		WindSpeed  float64 `json:"windspeed"`
		Conditions string  `json:"conditions"`
	} `json:"currentConditions"`
}

// Fetch returns current conditions for location.
func (c *VisualCrossingClient) Fetch(ctx context.Context, location string) (models.WeatherData, error) {
	if strings.TrimSpace(location) == "" {
		return models.WeatherData{}, fmt.Errorf("%w: location is required", ErrInvalidInput)
	}
	if c.breaker == nil {
		return c.call(ctx, location)
	}

	// Client-side outcomes are reported to the breaker as successes and
	// handed back to the caller separately.
	var callerErr error
	res, err := c.breaker.Execute(func() (interface{}, error) {
		data, err := c.call(ctx, location)
		if err != nil {
			if errors.Is(err, ErrUpstreamUnavailable) {
				return nil, err
			}
			callerErr = err
			return nil, nil
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.WeatherAPIErrorsTotal.WithLabelValues(string(ErrorCategoryCircuitOpen)).Inc()
			return models.WeatherData{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return models.WeatherData{}, err
	}
	if callerErr != nil {
		return models.WeatherData{}, callerErr
	}
	return res.(models.WeatherData), nil
}

func (c *VisualCrossingClient) call(ctx context.Context, location string) (models.WeatherData, error) {
	start := time.Now()
	data, status, err := c.do(ctx, location)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	}
	return data, err
}

func (c *VisualCrossingClient) do(ctx context.Context, location string) (models.WeatherData, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, location)
	if err != nil {
		return models.WeatherData{}, "error", fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// A caller that disconnected says nothing about the provider's health.
		if errors.Is(ctx.Err(), context.Canceled) {
			return models.WeatherData{}, "canceled", fmt.Errorf("upstream request canceled by caller: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() != nil {
			return models.WeatherData{}, "timeout", fmt.Errorf("%w: request timeout: %w", ErrUpstreamUnavailable, err)
		}
		return models.WeatherData{}, "error", fmt.Errorf("%w: http request failed: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	if err := classifyStatus(resp); err != nil {
		return models.WeatherData{}, status, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.WeatherData{}, status, fmt.Errorf("%w: read response body: %w", ErrUpstreamUnavailable, err)
	}
	var apiResp visualCrossingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherData{}, status, fmt.Errorf("%w: parse response: %w", ErrUpstreamUnavailable, err)
	}
	return mapResponse(apiResp, location, time.Now()), status, nil
}

func (c *VisualCrossingClient) buildRequest(ctx context.Context, location string) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + "/" + url.PathEscape(strings.TrimSpace(location)) + "/today")
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	params := url.Values{}
	params.Set("unitGroup", "metric")
	params.Set("include", "current")
	params.Set("contentType", "json")
	params.Set("key", c.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// classifyStatus maps a non-2xx response onto the error taxonomy. The
// provider's plain-text body is kept in the message for logs.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail := readDetail(resp.Body)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrInvalidInput, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamAuth, resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
}

func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "location not recognised"
	}
	return s
}

// mapResponse is the one place the provider schema is translated into WeatherData.
func mapResponse(r visualCrossingResponse, requested string, now time.Time) models.WeatherData {
	name := r.ResolvedAddress
	if name == "" {
		name = r.Address
	}
	if name == "" {
		name = strings.TrimSpace(requested)
	}
	return models.WeatherData{
		Location:    name,
		Temperature: r.CurrentConditions.Temp,
		Conditions:  r.CurrentConditions.Conditions,
		Humidity:    r.CurrentConditions.Humidity,
		WindSpeed:   r.CurrentConditions.WindSpeed,
		Description: r.Description,
		Coordinates: models.Coordinates{Latitude: r.Latitude, Longitude: r.Longitude},
		QueryCost:   r.QueryCost,
		Timestamp:   now.UTC(),
	}
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey probes the provider with a known location. It bypasses the
// breaker so health checks keep reporting the real upstream state.
func (c *VisualCrossingClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, probeLocation)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: validation request failed: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	err = classifyStatus(resp)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return err
}
