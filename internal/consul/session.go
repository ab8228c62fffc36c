package consul

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MinSessionTTL is the smallest session TTL the store accepts.
const MinSessionTTL = 10 * time.Second

// SessionBehavior controls what happens to held locks when a session is
// invalidated.
type SessionBehavior string

const (
	// SessionBehaviorRelease releases held locks on invalidation.
	SessionBehaviorRelease SessionBehavior = "release"
	// SessionBehaviorDelete deletes held lock keys on invalidation.
	SessionBehaviorDelete SessionBehavior = "delete"
)

// SessionOptions configures session creation.
type SessionOptions struct {
	// TTL bounds the session lifetime; the store invalidates the session if
	// it is not renewed within TTL. Must be at least MinSessionTTL.
	TTL time.Duration
	// LockDelay is the store-enforced grace period after the session is
	// invalidated before its lock keys become acquirable by another session.
	// Zero leaves the store default in place.
	LockDelay time.Duration
	// Name is an optional human-readable session name.
	Name string
	// Behavior selects the invalidation behavior for held locks.
	Behavior SessionBehavior
}

// Session is a session record as returned by the store.
type Session struct {
	ID        string `json:"ID"`
	Name      string `json:"Name,omitempty"`
	TTL       string `json:"TTL,omitempty"`
	LockDelay int64  `json:"LockDelay,omitempty"`
	Behavior  string `json:"Behavior,omitempty"`
}

// CreateSession creates a new session and returns its ID. A TTL below
// MinSessionTTL is a programming error and is rejected before any network
// call, as is a negative lock delay.
func (c *Client) CreateSession(ctx context.Context, opts SessionOptions) (string, error) {
	if opts.TTL < MinSessionTTL {
		return "", fmt.Errorf("session TTL %s is below the minimum %s", opts.TTL, MinSessionTTL)
	}
	if opts.LockDelay < 0 {
		return "", fmt.Errorf("session lock delay must not be negative, got %s", opts.LockDelay)
	}

	payload := map[string]string{
		"TTL": fmt.Sprintf("%ds", int(opts.TTL.Seconds())),
	}
	if opts.Name != "" {
		payload["Name"] = opts.Name
	}
	if opts.Behavior != "" {
		payload["Behavior"] = string(opts.Behavior)
	}
	if opts.LockDelay > 0 {
		payload["LockDelay"] = fmt.Sprintf("%ds", int(opts.LockDelay.Seconds()))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("create session: failed to encode payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/v1/session/create", nil, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	body, err := c.doAndReadAll(req, "create session")
	if err != nil {
		return "", err
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return "", fmt.Errorf("create session: failed to decode response: %w", err)
	}
	return session.ID, nil
}

// DestroySession destroys the session with the given ID. The returned bool
// reports whether the store acknowledged the destruction.
func (c *Client) DestroySession(ctx context.Context, sessionID string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodPut, "/v1/session/destroy/"+sessionID, nil, nil)
	if err != nil {
		return false, err
	}
	body, err := c.doAndReadAll(req, fmt.Sprintf("destroy session %q", sessionID))
	if err != nil {
		return false, err
	}
	return string(bytes.TrimSpace(body)) == "true", nil
}

// ListSessions returns all active sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/session/list", nil, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doAndReadAll(req, "list sessions")
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: failed to decode response: %w", err)
	}
	return sessions, nil
}
