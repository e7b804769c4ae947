package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the OpenRouter API origin used when Config.BaseURL
// is left empty.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

type Config struct {
	// APIKey is required; construction fails when it is empty or
	// whitespace-only.
	APIKey  string
	BaseURL string

	// Per-call fallbacks. Requests may override each of them.
	DefaultModel       string
	DefaultTemperature *float64 // 0..2
	DefaultMaxTokens   int      // >0 when set

	Timeout       time.Duration // per-attempt budget, covers the whole exchange (default: 30s)
	RetryAttempts int           // retries after the initial attempt (default: 2)
	RetryDelay    time.Duration // backoff base unit (default: 1s)

	// Optional attribution headers forwarded to the upstream.
	AppURL  string
	AppName string

	// Optional connection pool settings
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs). When set,
	// Timeout is not applied to it.
	HTTPClient *http.Client
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("APIKey is required")
	}
	if c.DefaultTemperature != nil && (*c.DefaultTemperature < 0 || *c.DefaultTemperature > 2) {
		return fmt.Errorf("DefaultTemperature %g out of range [0, 2]", *c.DefaultTemperature)
	}
	if c.DefaultMaxTokens < 0 {
		return fmt.Errorf("DefaultMaxTokens must be positive, got %d", c.DefaultMaxTokens)
	}
	return nil
}

// WithDefaults returns a copy of Config with documented defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	// Trim trailing slashes so paths can be appended safely.
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}

	return cfg
}

type client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an upstream completion client. The config is copied
// and never mutated afterwards.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	// The client-level timeout bounds each attempt individually, so a
	// slow attempt can still be retried under the caller's context.
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
			Timeout:   cfg.Timeout,
		}
	}

	return &client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("llmclient"),
	}, nil
}

// Config returns a read-only copy of the client configuration with the
// API key masked for display.
func (c *client) Config() Config {
	cfg := c.cfg
	cfg.APIKey = maskAPIKey(cfg.APIKey)
	cfg.HTTPClient = nil
	return cfg
}

const maskedKeyPlaceholder = "****"

// maskAPIKey keeps the first and last four characters visible. Keys of
// eight characters or fewer collapse to a fixed placeholder so nothing
// useful leaks.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return maskedKeyPlaceholder
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// defaultTransport creates a production-ready HTTP transport
// with connection pooling and reasonable timeouts.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Close releases resources held by the client.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
