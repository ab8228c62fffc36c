// Package consul provides a typed client for the Consul coordination store
// (key-value entries, sessions) and a distributed lock built on top of it.
//
// The client performs no automatic retries; retry policy belongs to the
// caller. Transport failures are wrapped as transient connection errors so
// polling loops can distinguish them from protocol-level failures.
package consul

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	operatorerrors "github.com/clustermesh/platform-operator/internal/errors"
)

const (
	// DefaultRequestTimeout is the default timeout for individual API requests.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultHealthPollInterval is the default interval between health probes
	// in WaitHealthy.
	DefaultHealthPollInterval = 100 * time.Millisecond
)

var leaderAddressRe = regexp.MustCompile(`".+"`)

// Client provides access to the Consul HTTP API surface used by the operator:
// key-value operations, sessions, and the leader status endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	clock      clock.Clock
	logger     logr.Logger
}

// ClientConfig holds configuration for creating a new Client.
type ClientConfig struct {
	// BaseURL is the Consul HTTP address (e.g., "http://consul:8500").
	BaseURL string
	// RequestTimeout is the timeout for individual requests.
	// Defaults to DefaultRequestTimeout if zero.
	RequestTimeout time.Duration
	// RateLimitQPS caps the request rate against the store. Zero disables
	// rate limiting.
	RateLimitQPS float64
	// RateLimitBurst is the burst size for the rate limiter.
	// Defaults to 1 when RateLimitQPS is set.
	RateLimitBurst int
	// Logger receives request-level log records. Defaults to a discarding
	// logger.
	Logger logr.Logger
	// Clock is used for health polling. Defaults to the real clock.
	Clock clock.Clock
}

// NewClient creates a new Consul API client with the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL %q: %w", config.BaseURL, err)
	}

	requestTimeout := config.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}

	var limiter *rate.Limiter
	if config.RateLimitQPS > 0 {
		burst := config.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimitQPS), burst)
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    limiter,
		clock:      clk,
		logger:     config.Logger,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return http.NewRequestWithContext(ctx, method, u, body)
}

func (c *Client) doRequest(req *http.Request, op string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%s: %w", op, err)
		if operatorerrors.IsTransientConnection(err) {
			return nil, operatorerrors.WrapTransientConnection(wrapped)
		}
		return nil, wrapped
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// doAndReadAll performs the request and returns the full response body.
// A 404 response maps to ErrNotFound; 5xx responses are transient.
func (c *Client) doAndReadAll(req *http.Request, op string) ([]byte, error) {
	resp, err := c.doRequest(req, op)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response body: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, operatorerrors.WrapTransientConnection(
			fmt.Errorf("%s: consul API error (status %d): %s", op, resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s: consul API error (status %d): %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// WaitHealthy blocks until the store has an elected leader and accepts
// session creation. Consul requires the local node to be registered before
// sessions can be created, and creating a session triggers that registration,
// so a probe session is created and destroyed as the final readiness check.
func (c *Client) WaitHealthy(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHealthPollInterval
	}
	c.logger.Info("Waiting until consul is healthy")

	for {
		healthy, err := c.hasLeader(ctx)
		if err == nil && healthy {
			break
		}
		if err != nil {
			c.logger.V(1).Info("Leader check failed", "error", err.Error())
		}
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
	}

	for {
		id, err := c.CreateSession(ctx, SessionOptions{TTL: MinSessionTTL})
		if err == nil {
			_, _ = c.DestroySession(ctx, id)
			break
		}
		if err := c.sleep(ctx, interval); err != nil {
			return err
		}
	}

	c.logger.Info("Consul is healthy")
	return nil
}

func (c *Client) hasLeader(ctx context.Context) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/status/leader", nil, nil)
	if err != nil {
		return false, err
	}
	body, err := c.doAndReadAll(req, "get leader status")
	if err != nil {
		return false, err
	}
	return leaderAddressRe.Match(body), nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
