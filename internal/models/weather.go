package models

import "time"

// Coordinates is the resolved position reported by the upstream provider.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WeatherData is the normalized current-conditions payload. It is what gets
// cached, so every field must survive a JSON round trip.
type WeatherData struct {
	Location    string      `json:"location"`
	Temperature float64     `json:"temperature"`
	Conditions  string      `json:"conditions"`
	Humidity    float64     `json:"humidity"`
	WindSpeed   float64     `json:"windSpeed"`
	Description string      `json:"description"`
	Coordinates Coordinates `json:"coordinates"`
	QueryCost   int         `json:"queryCost"`
	Timestamp   time.Time   `json:"timestamp"`
}

// CurrentWeather is the getCurrent response: the weather fields flattened
// alongside the cache-hit flag.
type CurrentWeather struct {
	WeatherData
	FromCache bool `json:"fromCache"`
}
