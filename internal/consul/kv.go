package consul

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// KVPair is a single entry in the key-value store. Value is decoded from the
// base64 representation used by the HTTP API. Session is the ID of the
// session currently holding the acquire flag on this key, if any.
type KVPair struct {
	Key         string `json:"Key"`
	Value       []byte `json:"Value"`
	Session     string `json:"Session,omitempty"`
	ModifyIndex uint64 `json:"ModifyIndex"`
}

// PutOptions carries session-qualified conditional write semantics.
// Acquire and Release are mutually exclusive session IDs.
type PutOptions struct {
	Acquire string
	Release string
}

// GetKey returns the entries stored under key. With recurse, all entries in
// the key's subtree are returned. An absent key fails with ErrNotFound.
func (c *Client) GetKey(ctx context.Context, key string, recurse bool) ([]KVPair, error) {
	query := url.Values{}
	if recurse {
		query.Set("recurse", "true")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/kv/"+key, query, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.doAndReadAll(req, fmt.Sprintf("get key %q", key))
	if err != nil {
		return nil, err
	}

	var pairs []KVPair
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, fmt.Errorf("get key %q: failed to decode response: %w", key, err)
	}
	return pairs, nil
}

// GetKeyRaw returns the raw value bytes stored under key, without the
// key-value metadata envelope.
func (c *Client) GetKeyRaw(ctx context.Context, key string) ([]byte, error) {
	query := url.Values{}
	query.Set("raw", "true")

	req, err := c.newRequest(ctx, http.MethodGet, "/v1/kv/"+key, query, nil)
	if err != nil {
		return nil, err
	}
	return c.doAndReadAll(req, fmt.Sprintf("get key %q", key))
}

// PutKey writes value under key. With Acquire or Release set, the write is
// conditional on the session semantics enforced by the store; the returned
// bool reports whether the conditional write succeeded. Unconditional writes
// are last-writer-wins.
func (c *Client) PutKey(ctx context.Context, key string, value []byte, opts PutOptions) (bool, error) {
	query := url.Values{}
	if opts.Acquire != "" {
		query.Set("acquire", opts.Acquire)
	}
	if opts.Release != "" {
		query.Set("release", opts.Release)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/v1/kv/"+key, query, bytes.NewReader(value))
	if err != nil {
		return false, err
	}
	body, err := c.doAndReadAll(req, fmt.Sprintf("put key %q", key))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(body)) == "true", nil
}

// DeleteKey removes key from the store.
func (c *Client) DeleteKey(ctx context.Context, key string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/kv/"+key, nil, nil)
	if err != nil {
		return false, err
	}
	body, err := c.doAndReadAll(req, fmt.Sprintf("delete key %q", key))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(body)) == "true", nil
}
