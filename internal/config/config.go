package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	// MetricsInterval is the period of metrics:update pushes to admins.
	MetricsInterval time.Duration `mapstructure:"metrics_interval" yaml:"metrics_interval"`
	// RateLimit caps commands per connection per minute; 0 disables it.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
	// HistoryLimit caps messages returned by the history endpoint and room:joined.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
	// AllowedOrigins are websocket origin patterns; empty skips the origin check.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "supportline.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "supportline",
		JWTAudience:       "supportline",
		JWTTTL:            24 * time.Hour,
		MetricsInterval:   15 * time.Second,
		RateLimit:         120,
		HistoryLimit:      500,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.MetricsInterval != 0 {
		c.MetricsInterval = other.MetricsInterval
	}
	if other.RateLimit != 0 {
		c.RateLimit = other.RateLimit
	}
}

// ClientConfig holds settings for the supportctl client.
type ClientConfig struct {
	// ServerURL is the HTTP base of the server; the websocket lives at /ws.
	ServerURL  string `mapstructure:"server_url" yaml:"server_url"`
	Credential string `mapstructure:"credential" yaml:"credential"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`

	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`

	ClaimTimeout time.Duration `mapstructure:"claim_timeout" yaml:"claim_timeout"`
	TypingDecay  time.Duration `mapstructure:"typing_decay" yaml:"typing_decay"`
	TypingIdle   time.Duration `mapstructure:"typing_idle" yaml:"typing_idle"`
}

// DefaultClient returns client defaults.
func DefaultClient() ClientConfig {
	return ClientConfig{
		ServerURL:        "http://localhost:8080",
		LogLevel:         "warn",
		MaxAttempts:      5,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ClaimTimeout:     10 * time.Second,
		TypingDecay:      3 * time.Second,
		TypingIdle:       2 * time.Second,
	}
}
