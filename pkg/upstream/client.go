// Package upstream holds the HTTP clients sources use to talk to the
// systems that know about packages: the Go module proxy, PyPI and raw
// repository content. One shared resilient core handles DNS caching,
// retries with backoff and per-host circuit breaking; thin typed clients
// sit on top of it.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

// Client is the shared HTTP core. All methods are safe for concurrent use.
type Client struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	cache      *Cache

	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (tests use this to skip the
// DNS-cached transport).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithMaxRetries sets the maximum retry attempts for retryable failures.
func WithMaxRetries(n int) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff between retries.
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.baseDelay = d
	}
}

// WithCache attaches a disk cache used by CachedJSON and CachedText.
func WithCache(cache *Cache) Option {
	return func(cl *Client) {
		cl.cache = cache
	}
}

// NewClient creates a Client with a DNS-cached transport and defaults
// suitable for polite API crawling.
func NewClient(opts ...Option) *Client {
	// Refresh cached DNS entries every 5 minutes.
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	cl := &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP")
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:  "lipindex/1.0",
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
		breakers:   make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// GetJSON fetches url and decodes the JSON response into v.
func (cl *Client) GetJSON(ctx context.Context, rawURL string, v interface{}) error {
	body, err := cl.get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()
	return json.NewDecoder(body).Decode(v)
}

// GetText fetches url and returns the response body as a string. Used for
// non-JSON endpoints: version lists, manifests, readme files.
func (cl *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	body, err := cl.get(ctx, rawURL, "*/*")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = body.Close()
	}()
	data, err := io.ReadAll(body)
	return string(data), err
}

// CachedJSON serves v from the cache under key when possible, otherwise
// fetches url and stores the decoded value. Use only for immutable keys
// (revision-pinned content) or with a TTL-bearing cache.
func (cl *Client) CachedJSON(ctx context.Context, key, rawURL string, v interface{}) error {
	if cl.cache != nil {
		if ok, _ := cl.cache.Get(key, v); ok {
			return nil
		}
	}
	if err := cl.GetJSON(ctx, rawURL, v); err != nil {
		return err
	}
	if cl.cache != nil {
		_ = cl.cache.Set(key, v)
	}
	return nil
}

// CachedText is CachedJSON for plain text responses.
func (cl *Client) CachedText(ctx context.Context, key, rawURL string) (string, error) {
	var text string
	if cl.cache != nil {
		if ok, _ := cl.cache.Get(key, &text); ok {
			return text, nil
		}
	}
	text, err := cl.GetText(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if cl.cache != nil {
		_ = cl.cache.Set(key, &text)
	}
	return text, nil
}

// get runs the retry loop under the host's circuit breaker.
func (cl *Client) get(ctx context.Context, rawURL, accept string) (io.ReadCloser, error) {
	host := extractHost(rawURL)
	breaker := cl.getBreaker(host)

	if !breaker.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", host, ErrUpstreamDown)
	}

	var body io.ReadCloser
	err := breaker.Call(func() error {
		var callErr error
		body, callErr = cl.getWithRetry(ctx, rawURL, accept)
		if errors.Is(callErr, ErrNotFound) {
			// Absence is a valid answer, not an upstream failure.
			return nil
		}
		return callErr
	}, 0)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, ErrNotFound
	}
	return body, nil
}

func (cl *Client) getWithRetry(ctx context.Context, rawURL, accept string) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt <= cl.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff with 10% jitter to avoid thundering herd.
			delay := cl.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(float64(delay) * (rand.Float64() * 0.1))
			delay += jitter

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := cl.doGet(ctx, rawURL, accept)
		if err == nil {
			return body, nil
		}

		lastErr = err

		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamDown) {
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

func (cl *Client) doGet(ctx context.Context, rawURL, accept string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", cl.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := cl.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamDown, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil

	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		_ = resp.Body.Close()
		return nil, ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited

	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamDown, resp.StatusCode)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// getBreaker returns or creates the circuit breaker for a host.
func (cl *Client) getBreaker(host string) *circuit.Breaker {
	cl.mu.RLock()
	breaker, exists := cl.breakers[host]
	cl.mu.RUnlock()

	if exists {
		return breaker
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if breaker, exists := cl.breakers[host]; exists {
		return breaker
	}

	// Trips after 5 consecutive failures, resets on an exponential
	// schedule.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	}
	breaker = circuit.NewBreakerWithOptions(opts)

	cl.breakers[host] = breaker
	return breaker
}

// BreakerStates reports each known host's breaker state, for health checks.
func (cl *Client) BreakerStates() map[string]string {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range cl.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

// extractHost groups URLs by host for circuit breaker selection.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}
