//go:build integration
// +build integration

package client

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

const liveURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

func newLiveClient(t *testing.T) *VisualCrossingClient {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	c, err := NewVisualCrossingClient(apiKey, liveURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewVisualCrossingClient() error = %v", err)
	}
	return c
}

func TestVisualCrossingClient_ValidateAPIKey_Integration(t *testing.T) {
	c := newLiveClient(t)
	if err := c.ValidateAPIKey(context.Background()); err != nil {
		t.Errorf("ValidateAPIKey() error = %v", err)
	}
}

func TestVisualCrossingClient_Fetch_Integration(t *testing.T) {
	c := newLiveClient(t)

	got, err := c.Fetch(context.Background(), "Seattle")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Location == "" {
		t.Error("Location should be set")
	}
	if got.Coordinates.Latitude == 0 {
		t.Error("Coordinates should be set")
	}
}

func TestVisualCrossingClient_Fetch_UnknownLocation_Integration(t *testing.T) {
	c := newLiveClient(t)

	_, err := c.Fetch(context.Background(), "zzzz-not-a-real-place-qqqq")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Fetch() error = %v, want ErrInvalidInput", err)
	}
}
