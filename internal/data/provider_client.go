package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"Parley/internal/biz"
	"Parley/internal/conf"
	"Parley/internal/model"
	"Parley/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	// UserAgent identifies Parley to provider backends.
	UserAgent = "Parley/1.0"

	// maxErrorBodyBytes bounds how much of an error body reaches logs and
	// classification messages.
	maxErrorBodyBytes = 2048
)

// HTTPProviderClient speaks the OpenAI-compatible chat-completions wire
// format to one configured backend. It performs exactly one attempt per call;
// retries, timeouts beyond the request context, and failure isolation are the
// caller's concern (the ErrorHandler and its circuit breakers).
type HTTPProviderClient struct {
	providerID string
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
	logger     *log.Helper
}

// chatRequest is the OpenAI-compatible request payload.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the subset of the response payload Parley consumes.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

// apiErrorResponse is the OpenAI-compatible error envelope.
type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// newHTTPProviderClient builds one backend adapter from its configuration.
func newHTTPProviderClient(p *conf.Provider, logger log.Logger) (*HTTPProviderClient, error) {
	transport := http.DefaultTransport
	if p.ProxyUrl != "" {
		if err := metadata.ValidateProxyURL(p.ProxyUrl); err != nil {
			return nil, fmt.Errorf("provider %s: invalid proxy url: %w", p.Id, err)
		}
		proxyURL, err := url.Parse(p.ProxyUrl)
		if err != nil {
			return nil, fmt.Errorf("provider %s: invalid proxy url: %w", p.Id, err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		log.NewHelper(logger).Infow("provider adapter using proxy",
			"provider_id", p.Id,
			"proxy", metadata.MaskProxyPassword(p.ProxyUrl))
	}

	return &HTTPProviderClient{
		providerID: p.Id,
		endpoint:   strings.TrimSuffix(p.Endpoint, "/"),
		model:      p.Model,
		apiKey:     p.ApiKey,
		// No client-level timeout: the request context carries the
		// deadline so the breaker's bound and the fan-out deadline win.
		httpClient: &http.Client{Transport: transport},
		logger:     log.NewHelper(logger),
	}, nil
}

// Consult sends one consultation to the backend and returns its answer.
func (c *HTTPProviderClient) Consult(ctx context.Context, query string) (*model.RawResult, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: query}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := c.endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	c.logger.Debugw("provider consultation completed",
		"provider_id", c.providerID,
		"latency", time.Since(start),
		"tokens", parsed.Usage.TotalTokens)

	return &model.RawResult{
		Content:    parsed.Choices[0].Message.Content,
		Confidence: 1.0, // backends speaking this format do not report one
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

// apiError shapes a non-200 response into an error whose message carries the
// HTTP status, so downstream classification can recognize 429/401/5xx.
func (c *HTTPProviderClient) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, parsed.Error.Message)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// ClientPool holds one adapter per configured provider.
type ClientPool struct {
	clients map[string]*HTTPProviderClient
}

// newClientPool builds adapters for every configured provider, enabled or
// not; disabled providers keep their adapter so re-enabling needs no rebuild.
func newClientPool(providers []*conf.Provider, logger log.Logger) (*ClientPool, error) {
	clients := make(map[string]*HTTPProviderClient, len(providers))
	for _, p := range providers {
		client, err := newHTTPProviderClient(p, logger)
		if err != nil {
			return nil, err
		}
		clients[p.Id] = client
	}
	return &ClientPool{clients: clients}, nil
}

// Client implements biz.ClientPool.
func (p *ClientPool) Client(providerID string) (biz.ProviderClient, error) {
	client, ok := p.clients[providerID]
	if !ok {
		return nil, fmt.Errorf("no adapter for provider: %s", providerID)
	}
	return client, nil
}

// Close releases idle connections held by the adapters.
func (p *ClientPool) Close() {
	for _, c := range p.clients {
		c.httpClient.CloseIdleConnections()
	}
}
