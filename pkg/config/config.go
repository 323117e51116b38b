package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"streamguard/internal/core/domain"
	"streamguard/internal/streamservers"
	"streamguard/pkg/tracing"
	"streamguard/pkg/validation"

	"gopkg.in/yaml.v2"
)

const (
	TokenCacheMemory = "memory"
	TokenCacheRedis  = "redis"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// APIToken, when set, is required as a bearer token on /api and /ws.
		APIToken string `yaml:"api_token"`
	} `yaml:"server"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing tracing.Config `yaml:"tracing"`

	HTTPClient struct {
		// Timeout bounds every backend request, login included.
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"http_client"`

	Switcher struct {
		Enabled  bool                   `yaml:"enabled"`
		Interval time.Duration          `yaml:"interval"`
		Triggers domain.Triggers        `yaml:"triggers"`
		Scenes   domain.SwitchingScenes `yaml:"scenes"`
	} `yaml:"switcher"`

	TokenCache struct {
		Enabled bool   `yaml:"enabled"`
		Backend string `yaml:"backend"`
		// TTL applies when a token's own expiry cannot be read.
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"token_cache"`

	// Events publishes decision changes on a Redis pub/sub channel.
	Events struct {
		Enabled bool   `yaml:"enabled"`
		Channel string `yaml:"channel"`
		// LeaseTTL bounds how long a crashed publisher blocks the others.
		LeaseTTL time.Duration `yaml:"lease_ttl"`
	} `yaml:"events"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`

		ConnectAttempts int           `yaml:"connect_attempts"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	} `yaml:"redis"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MaxConcurrent int `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	StreamServers []streamservers.Entry `yaml:"stream_servers"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if err := validation.ValidateOneOf(c.Logging.Format, "logging.format", "json", "console"); err != nil {
		return err
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// HTTP client
	if c.HTTPClient.Timeout <= 0 {
		return fmt.Errorf("http_client.timeout must be > 0")
	}

	// Switcher
	if c.Switcher.Enabled && c.Switcher.Interval <= 0 {
		return fmt.Errorf("switcher.interval must be > 0 when switcher.enabled=true")
	}

	// Token cache
	if c.TokenCache.Enabled {
		if err := validation.ValidateOneOf(c.TokenCache.Backend, "token_cache.backend", TokenCacheMemory, TokenCacheRedis); err != nil {
			return err
		}
		if c.TokenCache.TTL <= 0 {
			return fmt.Errorf("token_cache.ttl must be > 0 when token_cache.enabled=true")
		}
	}

	// Events
	if c.Events.Enabled && c.Events.Channel == "" {
		return fmt.Errorf("events.channel must not be empty when events.enabled=true")
	}
	if c.Events.Enabled && c.Events.LeaseTTL <= 0 {
		return fmt.Errorf("events.lease_ttl must be > 0 when events.enabled=true")
	}

	// Redis
	if c.NeedsRedis() {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis is used")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis is used")
		}
		if c.Redis.ConnectAttempts < 0 {
			return fmt.Errorf("redis.connect_attempts must be >= 0")
		}
		if c.Redis.BreakerFailures <= 0 {
			return fmt.Errorf("redis.breaker_failures must be > 0")
		}
		if c.Redis.BreakerTimeout <= 0 {
			return fmt.Errorf("redis.breaker_timeout must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	// Stream servers
	for i := range c.StreamServers {
		if err := c.StreamServers[i].Validate(); err != nil {
			return fmt.Errorf("stream_servers[%d]: %w", i, err)
		}
	}

	return nil
}

// UsesRedis reports whether the token cache is backed by Redis.
func (c *Config) UsesRedis() bool {
	return c.TokenCache.Enabled && c.TokenCache.Backend == TokenCacheRedis
}

// NeedsRedis reports whether any component connects to Redis.
func (c *Config) NeedsRedis() bool {
	return c.UsesRedis() || c.Events.Enabled
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML on top of the defaults, applies env overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing = tracing.DefaultConfig()

	cfg.HTTPClient.Timeout = 5 * time.Second

	cfg.Switcher.Enabled = true
	cfg.Switcher.Interval = 2 * time.Second
	cfg.Switcher.Scenes = domain.SwitchingScenes{
		Normal:  "Live",
		Low:     "Low",
		Offline: "Offline",
	}

	cfg.TokenCache.Enabled = true
	cfg.TokenCache.Backend = TokenCacheMemory
	cfg.TokenCache.TTL = 10 * time.Minute

	cfg.Events.Enabled = false
	cfg.Events.Channel = "streamguard:decisions"
	cfg.Events.LeaseTTL = 15 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.ConnectAttempts = 5
	cfg.Redis.BreakerFailures = 3
	cfg.Redis.BreakerTimeout = 30 * time.Second

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("STREAMGUARD_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if token := os.Getenv("STREAMGUARD_API_TOKEN"); token != "" {
		c.Server.APIToken = token
	}
	if level := os.Getenv("STREAMGUARD_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if backend := os.Getenv("STREAMGUARD_TOKEN_CACHE"); backend != "" {
		c.TokenCache.Backend = backend
	}
	if addr := os.Getenv("STREAMGUARD_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if pw := os.Getenv("STREAMGUARD_REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if v := os.Getenv("STREAMGUARD_EVENTS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Events.Enabled = enabled
		}
	}
	if v := os.Getenv("STREAMGUARD_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
}
