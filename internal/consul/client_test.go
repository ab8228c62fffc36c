package consul

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	operatorerrors "github.com/clustermesh/platform-operator/internal/errors"
)

func newTestClient(t *testing.T, f *fakeConsul) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{BaseURL: f.URL()})
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr bool
	}{
		{
			name:   "valid config",
			config: ClientConfig{BaseURL: "http://localhost:8500"},
		},
		{
			name:   "valid config with rate limit",
			config: ClientConfig{BaseURL: "http://localhost:8500", RateLimitQPS: 2, RateLimitBurst: 4},
		},
		{
			name:    "empty URL",
			config:  ClientConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetKey(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)
	ctx := context.Background()

	ok, err := client.PutKey(ctx, "key/1", []byte("value1"), PutOptions{})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = client.PutKey(ctx, "key/2", []byte("value2"), PutOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	pairs, err := client.GetKey(ctx, "key/1", false)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, []byte("value1"), pairs[0].Value)

	raw, err := client.GetKeyRaw(ctx, "key/2")
	require.NoError(t, err)
	assert.Equal(t, []byte("value2"), raw)

	pairs, err = client.GetKey(ctx, "key", true)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestGetKeyNotFound(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)

	_, err := client.GetKey(context.Background(), "missing", false)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetKeyServerErrorIsTransient(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	f.failNext("/v1/kv/", 1)
	client := newTestClient(t, f)

	_, err := client.GetKey(context.Background(), "key", false)

	assert.True(t, operatorerrors.IsTransientConnection(err))
}

func TestDeleteKey(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)
	ctx := context.Background()

	_, err := client.PutKey(ctx, "key", []byte("value"), PutOptions{})
	require.NoError(t, err)

	ok, err := client.DeleteKey(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = client.GetKey(ctx, "key", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSession(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)

	id, err := client.CreateSession(context.Background(), SessionOptions{
		TTL:       10 * time.Second,
		LockDelay: time.Second,
		Name:      "test",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sessions, err := client.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "test", sessions[0].Name)
}

func TestCreateSessionRejectsShortTTL(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)

	_, err := client.CreateSession(context.Background(), SessionOptions{TTL: 5 * time.Second})

	require.Error(t, err)
	// Rejected before any network call.
	assert.Equal(t, 0, f.sessionCount())
}

func TestDestroySession(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)
	ctx := context.Background()

	id, err := client.CreateSession(ctx, SessionOptions{TTL: 10 * time.Second})
	require.NoError(t, err)

	destroyed, err := client.DestroySession(ctx, id)
	require.NoError(t, err)
	assert.True(t, destroyed)
	assert.Equal(t, 0, f.sessionCount())
}

func TestConditionalPut(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)
	ctx := context.Background()

	first, err := client.CreateSession(ctx, SessionOptions{TTL: 10 * time.Second})
	require.NoError(t, err)
	second, err := client.CreateSession(ctx, SessionOptions{TTL: 10 * time.Second})
	require.NoError(t, err)

	acquired, err := client.PutKey(ctx, "lock", []byte("a"), PutOptions{Acquire: first})
	require.NoError(t, err)
	assert.True(t, acquired)

	// A conflicting session cannot acquire the same key.
	acquired, err = client.PutKey(ctx, "lock", []byte("b"), PutOptions{Acquire: second})
	require.NoError(t, err)
	assert.False(t, acquired)

	// Only the holder can release.
	released, err := client.PutKey(ctx, "lock", []byte("a"), PutOptions{Release: second})
	require.NoError(t, err)
	assert.False(t, released)

	released, err = client.PutKey(ctx, "lock", []byte("a"), PutOptions{Release: first})
	require.NoError(t, err)
	assert.True(t, released)
}

func TestWaitHealthy(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	client := newTestClient(t, f)

	err := client.WaitHealthy(context.Background(), 10*time.Millisecond)

	require.NoError(t, err)
	// The probe session must not leak.
	assert.Equal(t, 0, f.sessionCount())
}

func TestWaitHealthyHonorsContext(t *testing.T) {
	f := newFakeConsul()
	defer f.Close()
	f.leaderless = true
	client := newTestClient(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := client.WaitHealthy(ctx, 10*time.Millisecond)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
