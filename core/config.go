package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the reporting agent.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// WorkloadID and Token are mandatory and validated at construction; every
// other field has a documented default.
//
// Example usage:
//
//	cfg, err := core.NewConfig(
//	    core.WithWorkloadID("1234"),
//	    core.WithToken(os.Getenv("FLEETPULSE_TOKEN")),
//	    core.WithWebhook(8080),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Identity: set once at construction, never mutated afterwards.
	WorkloadID string `yaml:"workload_id" env:"FLEETPULSE_WORKLOAD_ID"`
	Token      string `yaml:"token" env:"FLEETPULSE_TOKEN"`

	// Remote platform base address.
	BaseURL string `yaml:"base_url" env:"FLEETPULSE_BASE_URL" default:"https://api.fleetpulse.io"`

	// Interval is the current reporting interval. It is the only runtime
	// mutable field: policy synchronization replaces it through the
	// scheduler's re-arm path, never by bare assignment.
	Interval time.Duration `yaml:"interval" env:"FLEETPULSE_INTERVAL" default:"15m"`

	// Retry behavior for the outbound transport.
	RetryLimit int           `yaml:"retry_limit" env:"FLEETPULSE_RETRY_LIMIT" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"FLEETPULSE_RETRY_DELAY" default:"30s"`

	// Per-call HTTP timeout for outbound requests.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"FLEETPULSE_REQUEST_TIMEOUT" default:"10s"`

	// Inbound vote callback listener.
	WebhookEnabled bool   `yaml:"webhook_enabled" env:"FLEETPULSE_WEBHOOK_ENABLED" default:"false"`
	WebhookPort    int    `yaml:"webhook_port" env:"FLEETPULSE_WEBHOOK_PORT" default:"8080"`
	WebhookPath    string `yaml:"webhook_path" env:"FLEETPULSE_WEBHOOK_PATH" default:"/webhook"`

	// AutoRegister enables best-effort self-registration of the callback
	// URL with the platform at construction.
	AutoRegister bool `yaml:"auto_register" env:"FLEETPULSE_AUTO_REGISTER" default:"false"`

	// RedisURL, when set, enables the cross-worker vote relay.
	RedisURL string `yaml:"redis_url" env:"FLEETPULSE_REDIS_URL,REDIS_URL"`

	// Locale selects the language for platform-rendered strings.
	Locale string `yaml:"locale" env:"FLEETPULSE_LOCALE" default:"en"`

	// Debug enables verbose logging.
	Debug bool `yaml:"debug" env:"FLEETPULSE_DEBUG" default:"false"`
}

// Option is a functional option for configuring the agent.
// Options are applied in order and can return an error if the
// configuration is invalid.
type Option func(*Config) error

// DefaultConfig returns a configuration with sensible defaults.
// These defaults can be overridden using environment variables or
// functional options.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.fleetpulse.io",
		Interval:       15 * time.Minute,
		RetryLimit:     3,
		RetryDelay:     30 * time.Second,
		RequestTimeout: 10 * time.Second,
		WebhookPort:    8080,
		WebhookPath:    "/webhook",
		Locale:         "en",
	}
}

// NewConfig creates a configuration by layering defaults, environment
// variables, and the provided options, then validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnvironment()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML configuration file and returns the options it
// carries. File values sit between environment variables and explicit
// options in priority.
func LoadConfigFile(path string) (Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return func(c *Config) error {
		mergeConfig(c, &fileCfg)
		return nil
	}, nil
}

// mergeConfig copies non-zero fields from src into dst
func mergeConfig(dst, src *Config) {
	if src.WorkloadID != "" {
		dst.WorkloadID = src.WorkloadID
	}
	if src.Token != "" {
		dst.Token = src.Token
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.Interval > 0 {
		dst.Interval = src.Interval
	}
	if src.RetryLimit > 0 {
		dst.RetryLimit = src.RetryLimit
	}
	if src.RetryDelay > 0 {
		dst.RetryDelay = src.RetryDelay
	}
	if src.RequestTimeout > 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
	if src.WebhookEnabled {
		dst.WebhookEnabled = true
	}
	if src.WebhookPort > 0 {
		dst.WebhookPort = src.WebhookPort
	}
	if src.WebhookPath != "" {
		dst.WebhookPath = src.WebhookPath
	}
	if src.AutoRegister {
		dst.AutoRegister = true
	}
	if src.RedisURL != "" {
		dst.RedisURL = src.RedisURL
	}
	if src.Locale != "" {
		dst.Locale = src.Locale
	}
	if src.Debug {
		dst.Debug = true
	}
}

// applyEnvironment overlays environment variables onto the config
func (c *Config) applyEnvironment() {
	if v := os.Getenv("FLEETPULSE_WORKLOAD_ID"); v != "" {
		c.WorkloadID = v
	}
	if v := os.Getenv("FLEETPULSE_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("FLEETPULSE_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if d, ok := envDuration("FLEETPULSE_INTERVAL"); ok {
		c.Interval = d
	}
	if n, ok := envInt("FLEETPULSE_RETRY_LIMIT"); ok {
		c.RetryLimit = n
	}
	if d, ok := envDuration("FLEETPULSE_RETRY_DELAY"); ok {
		c.RetryDelay = d
	}
	if d, ok := envDuration("FLEETPULSE_REQUEST_TIMEOUT"); ok {
		c.RequestTimeout = d
	}
	if b, ok := envBool("FLEETPULSE_WEBHOOK_ENABLED"); ok {
		c.WebhookEnabled = b
	}
	if n, ok := envInt("FLEETPULSE_WEBHOOK_PORT"); ok {
		c.WebhookPort = n
	}
	if v := os.Getenv("FLEETPULSE_WEBHOOK_PATH"); v != "" {
		c.WebhookPath = v
	}
	if b, ok := envBool("FLEETPULSE_AUTO_REGISTER"); ok {
		c.AutoRegister = b
	}
	if v := os.Getenv("FLEETPULSE_REDIS_URL"); v != "" {
		c.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("FLEETPULSE_LOCALE"); v != "" {
		c.Locale = v
	}
	if b, ok := envBool("FLEETPULSE_DEBUG"); ok {
		c.Debug = b
	}
}

// Validate checks the configuration for correctness.
// Missing identity or credential is a fatal construction error.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WorkloadID) == "" {
		return ErrMissingWorkloadID
	}
	if strings.TrimSpace(c.Token) == "" {
		return ErrMissingToken
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidConfiguration, c.Interval)
	}
	if c.RetryLimit < 1 {
		return fmt.Errorf("%w: retry limit must be at least 1, got %d", ErrInvalidConfiguration, c.RetryLimit)
	}
	if c.WebhookPort < 1 || c.WebhookPort > 65535 {
		return fmt.Errorf("%w: webhook port out of range: %d", ErrInvalidConfiguration, c.WebhookPort)
	}
	if !strings.HasPrefix(c.WebhookPath, "/") {
		return fmt.Errorf("%w: webhook path must start with /: %q", ErrInvalidConfiguration, c.WebhookPath)
	}
	return nil
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Functional options

// WithWorkloadID sets the workload identity reported to the platform
func WithWorkloadID(id string) Option {
	return func(c *Config) error {
		if strings.TrimSpace(id) == "" {
			return ErrMissingWorkloadID
		}
		c.WorkloadID = id
		return nil
	}
}

// WithToken sets the platform credential
func WithToken(token string) Option {
	return func(c *Config) error {
		if strings.TrimSpace(token) == "" {
			return ErrMissingToken
		}
		c.Token = token
		return nil
	}
}

// WithBaseURL overrides the platform base address
func WithBaseURL(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("%w: base URL cannot be empty", ErrInvalidConfiguration)
		}
		c.BaseURL = strings.TrimRight(url, "/")
		return nil
	}
}

// WithInterval sets the initial reporting interval
func WithInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: interval must be positive", ErrInvalidConfiguration)
		}
		c.Interval = d
		return nil
	}
}

// WithRetry configures the transport retry budget
func WithRetry(limit int, delay time.Duration) Option {
	return func(c *Config) error {
		if limit < 1 {
			return fmt.Errorf("%w: retry limit must be at least 1", ErrInvalidConfiguration)
		}
		c.RetryLimit = limit
		c.RetryDelay = delay
		return nil
	}
}

// WithWebhook enables the inbound vote listener on the given port
func WithWebhook(port int) Option {
	return func(c *Config) error {
		c.WebhookEnabled = true
		c.WebhookPort = port
		return nil
	}
}

// WithAutoRegister enables best-effort callback URL self-registration
func WithAutoRegister() Option {
	return func(c *Config) error {
		c.AutoRegister = true
		return nil
	}
}

// WithRedisURL enables the cross-worker vote relay
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithLocale selects the locale for platform-rendered strings
func WithLocale(locale string) Option {
	return func(c *Config) error {
		c.Locale = locale
		return nil
	}
}

// WithDebug enables verbose logging
func WithDebug() Option {
	return func(c *Config) error {
		c.Debug = true
		return nil
	}
}
