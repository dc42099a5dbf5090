package comfy

import (
	"net/http"
	"time"
)

// ClientConfig holds the configuration for the backend client.
type ClientConfig struct {
	BaseURL        string
	HTTPClient     *http.Client
	Timeout        time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	WaitTimeout    time.Duration
	DefaultHeaders map[string]string
	UserAgent      string
}

// DefaultConfig returns the default configuration. WaitTimeout bounds
// the completion wait only; graph execution time is backend- and
// workload-dependent, so it defaults to minutes rather than seconds.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://localhost:8188",
		Timeout:        30 * time.Second,
		RetryAttempts:  2,
		RetryDelay:     time.Second,
		WaitTimeout:    5 * time.Minute,
		DefaultHeaders: map[string]string{"Content-Type": "application/json"},
		UserAgent:      "comfyflow-client/1.0",
	}
}

// ClientOption is a function that modifies ClientConfig.
type ClientOption func(*ClientConfig)

// WithBaseURL sets the base URL of the generation backend.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *ClientConfig) {
		c.BaseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *ClientConfig) {
		c.HTTPClient = client
	}
}

// WithTimeout sets the per-request timeout for single-shot calls.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithRetryAttempts sets the number of retry attempts on 5xx responses.
func WithRetryAttempts(attempts int) ClientOption {
	return func(c *ClientConfig) {
		c.RetryAttempts = attempts
	}
}

// WithRetryDelay sets the delay between retry attempts.
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.RetryDelay = delay
	}
}

// WithWaitTimeout bounds how long WaitForCompletion listens for the
// completion event before giving up.
func WithWaitTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.WaitTimeout = timeout
	}
}

// WithUserAgent sets the user agent string.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *ClientConfig) {
		c.UserAgent = userAgent
	}
}
