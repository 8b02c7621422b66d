package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// MaxBodySize caps how much of a response body is read.
const MaxBodySize = 1 << 20 // 1MB

// DefaultTimeout applies when a [Request] has no timeout.
const DefaultTimeout = 10 * time.Second

// connection pooling limits so many watches on one host share sockets
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Request describes a single HTTP probe.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string

	// URL is the absolute target URL.
	URL string

	// Headers are set on the outgoing request.
	Headers map[string]string

	// Timeout bounds the whole exchange, body included.
	// Zero means [DefaultTimeout].
	Timeout time.Duration
}

// Response is what came back from a [Request].
type Response struct {
	// Body is the response body, truncated to [MaxBodySize].
	Body []byte

	// StatusCode is zero if no response was received.
	StatusCode int

	// Latency is the wall time of the exchange, including failed ones.
	Latency time.Duration
}

// Client performs probes with per-request timeouts.
//
// Timeouts are applied through the request context rather than on the
// underlying [http.Client], so each watch can use its own.
type Client struct {
	httpClient *http.Client
	clock      clockwork.Clock
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock sets the clock used to measure latency.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewClient creates a [Client] with a pooled transport:
//   - MaxIdleConns: 100
//   - MaxIdleConnsPerHost: 10
//   - MaxConnsPerHost: 10
//   - IdleConnTimeout: 60 seconds
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs req.
//
// A non-nil error means the exchange did not complete: the request could
// not be built, the transport failed, the timeout elapsed, or the body
// could not be read. The returned Response still carries Latency, and
// StatusCode when headers were received. Non-2xx responses are not errors.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	start := c.clock.Now()
	elapsed := func() time.Duration { return c.clock.Since(start) }

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return Response{Latency: elapsed()}, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{Latency: elapsed()}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return Response{StatusCode: resp.StatusCode, Latency: elapsed()},
			fmt.Errorf("failed to read response body: %w", err)
	}

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    elapsed(),
	}, nil
}

// Close releases idle pooled connections. The client stays usable.
// Safe to call multiple times.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
