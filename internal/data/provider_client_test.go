package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Parley/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerConf(id, endpoint string) *conf.Provider {
	return &conf.Provider{
		Id:       id,
		Type:     "openai",
		Enabled:  true,
		Weight:   1.0,
		Model:    "gpt-4o-mini",
		Endpoint: endpoint,
		ApiKey:   "sk-test-key",
	}
}

func TestHTTPProviderClient_Consult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-key", r.Header.Get("Authorization"))
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "what is the capital of France?", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Paris"}}],
			"usage": {"total_tokens": 42}
		}`))
	}))
	defer server.Close()

	client, err := newHTTPProviderClient(providerConf("gpt4", server.URL), log.DefaultLogger)
	require.NoError(t, err)

	result, err := client.Consult(context.Background(), "what is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", result.Content)
	assert.Equal(t, int64(42), result.TokensUsed)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestHTTPProviderClient_Consult_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limit exceeded, retry later", "type": "rate_limit_error"}}`))
	}))
	defer server.Close()

	client, err := newHTTPProviderClient(providerConf("gpt4", server.URL), log.DefaultLogger)
	require.NoError(t, err)

	_, err = client.Consult(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestHTTPProviderClient_Consult_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client, err := newHTTPProviderClient(providerConf("gpt4", server.URL), log.DefaultLogger)
	require.NoError(t, err)

	_, err = client.Consult(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestHTTPProviderClient_Consult_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [], "usage": {"total_tokens": 0}}`))
	}))
	defer server.Close()

	client, err := newHTTPProviderClient(providerConf("gpt4", server.URL), log.DefaultLogger)
	require.NoError(t, err)

	_, err = client.Consult(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestHTTPProviderClient_Consult_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "too late"}}]}`))
	}))
	defer server.Close()

	client, err := newHTTPProviderClient(providerConf("gpt4", server.URL), log.DefaultLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Consult(ctx, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPProviderClient_InvalidProxy(t *testing.T) {
	cfg := providerConf("gpt4", "https://api.openai.com")
	cfg.ProxyUrl = "://bad"

	_, err := newHTTPProviderClient(cfg, log.DefaultLogger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid proxy url")
}

func TestClientPool(t *testing.T) {
	pool, err := newClientPool([]*conf.Provider{
		providerConf("gpt4", "https://api.openai.com"),
		providerConf("claude", "https://api.anthropic.com"),
	}, log.DefaultLogger)
	require.NoError(t, err)
	defer pool.Close()

	client, err := pool.Client("gpt4")
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = pool.Client("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter for provider")
}
