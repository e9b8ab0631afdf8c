// Package crm implements the AlfaCRM gateway: token caching, authenticated
// request dispatch with bounded retry, and the fan-out query engine that
// answers per-phone lookups across every branch and study status.
package crm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
)

// baseHeaders are sent on every CRM request. The CRM fronts its API with
// browser-oriented filtering, so the client presents itself as one.
var baseHeaders = map[string]string{
	"Content-Type":    "application/json",
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.36",
	"Accept-Encoding": "gzip, deflate, br",
	"Accept":          "application/json, text/plain, */*",
}

const tokenHeader = "X-ALFACRM-TOKEN"

// Options configures a Client.
type Options struct {
	Hostname       string        // CRM hostname, scheme-less
	RequestLimit   int           // hard ceiling on concurrent outbound requests
	MaxRetries     int           // attempts per dispatched request
	RetryDelay     time.Duration // initial backoff delay on HTTP 429
	RequestTimeout time.Duration // per-request socket timeout
	RatePerSecond  float64       // outbound request rate; 0 disables rate limiting
	Logger         logging.Logger
}

// DefaultOptions returns the options the original deployment runs with.
func DefaultOptions(hostname string) Options {
	return Options{
		Hostname:       hostname,
		RequestLimit:   2,
		MaxRetries:     5,
		RetryDelay:     2 * time.Second,
		RequestTimeout: 10 * time.Second,
		RatePerSecond:  5,
	}
}

// Client is the CRM gateway. One long-lived instance owns the outbound
// concurrency ceiling, the rate limiter, the circuit breaker and the token
// manager; every CRM call in the process flows through it.
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client
	tokens  *TokenManager
	sem     chan struct{}
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a gateway around the given token manager.
func NewClient(opts Options, tokens *TokenManager) (*Client, error) {
	if opts.Hostname == "" {
		return nil, errors.ConfigError("CRM hostname is required")
	}
	if opts.RequestLimit < 1 {
		opts.RequestLimit = 2
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RequestLimit)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "alfacrm",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		opts:    opts,
		baseURL: "https://" + opts.Hostname + "/v2api",
		http:    &http.Client{Timeout: opts.RequestTimeout},
		tokens:  tokens,
		sem:     make(chan struct{}, opts.RequestLimit),
		limiter: limiter,
		breaker: breaker,
		logger:  opts.Logger.WithFields(logging.String("component", "crm")),
		sleep:   sleepContext,
	}, nil
}

// Tokens exposes the token manager, used by the refresh job.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// endpoint builds a CRM API URL, e.g. endpoint("%d/customer/index", 3).
func (c *Client) endpoint(format string, args ...interface{}) string {
	return c.baseURL + "/" + fmt.Sprintf(format, args...)
}

// acquire claims a slot on the outbound concurrency ceiling.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.NetworkError("request cancelled while waiting for slot", ctx.Err())
	}
}

func (c *Client) release() {
	<-c.sem
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
