// Package configsvc talks to the central cluster config service, the
// source of truth for cluster records, credentials and DNS registration.
package configsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"

	operatorerrors "github.com/clustermesh/platform-operator/internal/errors"
)

// ErrClusterNotFound is returned when the config service has no record of
// the requested cluster.
var ErrClusterNotFound = errors.New("cluster not found")

const defaultRequestTimeout = 30 * time.Second

// Client is an HTTP client for the config service API. Tokens are passed
// per call because every Platform resource carries its own token.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     logr.Logger
}

// ClientConfig configures a config service Client.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Logger         logr.Logger
}

// NewClient validates the base URL and returns a ready Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing config service URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("config service URL %q must be absolute", cfg.BaseURL)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path, _ = url.JoinPath(u.Path, path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes the request, mapping transport failures to transient
// connection errors and HTTP errors to typed ones.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, operatorerrors.WrapTransientConnection(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, operatorerrors.WrapTransientConnection(err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrClusterNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, operatorerrors.WrapTransientConnection(
			fmt.Errorf("config service: %s %s: %s", req.Method, req.URL.Path, resp.Status))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("config service: %s %s: %s: %s",
			req.Method, req.URL.Path, resp.Status, bytes.TrimSpace(payload))
	}
	return payload, nil
}

// GetCluster fetches the full cluster record.
func (c *Client) GetCluster(ctx context.Context, clusterName, token string) (*Cluster, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/clusters/"+clusterName, token, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("include", "all")
	req.URL.RawQuery = q.Encode()

	payload, err := c.do(req)
	if err != nil {
		return nil, err
	}
	cluster := &Cluster{}
	if err := json.Unmarshal(payload, cluster); err != nil {
		return nil, fmt.Errorf("parsing cluster %s: %w", clusterName, err)
	}
	return cluster, nil
}

// PatchCluster applies a partial update to the cluster record.
func (c *Client) PatchCluster(ctx context.Context, clusterName, token string, payload any) error {
	req, err := c.newRequest(ctx, http.MethodPatch, "/api/v1/clusters/"+clusterName, token, payload)
	if err != nil {
		return err
	}
	if _, err := c.do(req); err != nil {
		return err
	}
	c.logger.V(1).Info("patched cluster", "cluster", clusterName)
	return nil
}

// SendNotification reports a lifecycle event for the cluster.
func (c *Client) SendNotification(ctx context.Context, clusterName, token string, notificationType NotificationType) error {
	body := map[string]string{"notification_type": string(notificationType)}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/clusters/"+clusterName+"/notifications", token, body)
	if err != nil {
		return err
	}
	if _, err := c.do(req); err != nil {
		return err
	}
	c.logger.V(1).Info("sent notification", "cluster", clusterName, "type", notificationType)
	return nil
}
