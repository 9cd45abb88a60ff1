package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backend names accepted by cache.backend / CACHE_BACKEND.
const (
	BackendRedis     = "redis"
	BackendMemcached = "memcached"
	BackendInMemory  = "in_memory"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	CacheBackend      string
	CacheTTL          time.Duration
	CacheOpTimeout    time.Duration
	CacheWriteTimeout time.Duration

	RedisURL      string
	RedisPoolSize int

	MemcachedAddrs        string
	MemcachedMaxIdleConns int

	InMemorySweepInterval time.Duration

	RateLimit       int64
	RateLimitWindow time.Duration

	// Process-wide token bucket in front of the RPC routes; 0 RPS disables it.
	OverloadRPS   int
	OverloadBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool

	LocationMinLength int
	LocationMaxLength int

	HealthWindow     time.Duration
	DegradedErrorPct int

	ShutdownTimeout time.Duration

	TrackedLocations []string
	WarmCache        bool
	WarmInterval     time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend      string `yaml:"backend"`
		TTL          string `yaml:"ttl"`
		OpTimeout    string `yaml:"op_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		Redis        struct {
			URL      string `yaml:"url"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		InMemory struct {
			SweepInterval string `yaml:"sweep_interval"`
		} `yaml:"in_memory"`
	} `yaml:"cache"`

	RateLimit struct {
		Limit  int64  `yaml:"limit"`
		Window string `yaml:"window"`
	} `yaml:"rate_limit"`

	Reliability struct {
		OverloadRPS                    int    `yaml:"overload_rps"`
		OverloadBurst                  int    `yaml:"overload_burst"`
		CircuitBreakerEnabled          bool   `yaml:"circuit_breaker_enabled"`
		CircuitBreakerFailureThreshold int    `yaml:"circuit_breaker_failure_threshold"`
		CircuitBreakerTimeout          string `yaml:"circuit_breaker_timeout"`
		CoalesceEnabled                bool   `yaml:"coalesce_enabled"`
	} `yaml:"reliability"`

	Validation struct {
		LocationMinLength int `yaml:"location_min_length"`
		LocationMaxLength int `yaml:"location_max_length"`
	} `yaml:"validation"`

	Health struct {
		Window           string `yaml:"window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Warming struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"warming"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// LoadDotEnv loads .env from the working directory into the process
// environment without overriding variables already set. A missing file is not
// an error. Call before building the logger so LOG_LEVEL in .env applies.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads configuration from .env, config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml, then applies env overrides. Call from project root.
func Load() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		key, err := loadAPIKeyFromSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL,
		"https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, BackendRedis))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 12*time.Hour)
	cfg.CacheOpTimeout = parseDuration(fc.Cache.OpTimeout, 200*time.Millisecond)
	cfg.CacheWriteTimeout = parseDuration(fc.Cache.WriteTimeout, 2*time.Second)
	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), fc.Cache.Redis.URL, "redis://localhost:6379/0")
	cfg.RedisPoolSize = fc.Cache.Redis.PoolSize
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.InMemorySweepInterval = parseDuration(fc.Cache.InMemory.SweepInterval, time.Minute)

	cfg.RateLimit = fc.RateLimit.Limit
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	cfg.RateLimitWindow = parseDurationOrZero(fc.RateLimit.Window, time.Hour)

	cfg.OverloadRPS = fc.Reliability.OverloadRPS
	cfg.OverloadBurst = fc.Reliability.OverloadBurst
	if cfg.OverloadRPS > 0 && cfg.OverloadBurst <= 0 {
		cfg.OverloadBurst = cfg.OverloadRPS * 2
	}
	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreakerEnabled
	cfg.CircuitBreakerFailureThreshold = positiveOr(fc.Reliability.CircuitBreakerFailureThreshold, 5)
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreakerTimeout, 30*time.Second)
	cfg.CoalesceEnabled = fc.Reliability.CoalesceEnabled

	cfg.LocationMinLength = positiveOr(fc.Validation.LocationMinLength, 1)
	cfg.LocationMaxLength = positiveOr(fc.Validation.LocationMaxLength, 100)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 50)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	cfg.WarmCache = fc.Warming.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Warming.Interval, 0)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKeyFromSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.WeatherAPIKey, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is for validate to reject.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate rejects values the service cannot run with. RequestTimeout is
// raised above WeatherAPITimeout so the upstream ceiling is always reachable.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case BackendRedis, BackendMemcached, BackendInMemory:
	default:
		return fmt.Errorf("cache.backend must be redis, memcached or in_memory, got %q", cfg.CacheBackend)
	}
	if cfg.RateLimit <= 0 {
		return fmt.Errorf("rate_limit.limit must be positive, got %d", cfg.RateLimit)
	}
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if cfg.WarmInterval < 0 {
		return fmt.Errorf("warming.interval must not be negative")
	}
	if cfg.LocationMinLength > cfg.LocationMaxLength {
		return fmt.Errorf("validation.location_min_length %d exceeds location_max_length %d", cfg.LocationMinLength, cfg.LocationMaxLength)
	}
	return nil
}
