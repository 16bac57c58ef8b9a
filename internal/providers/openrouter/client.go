// Package openrouter is a focused OpenRouter chat-completions client. It
// implements ports.ChatCompleter and nothing else; prompt construction and
// response interpretation live with the callers.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voicedraft/internal/ports"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// HTTPStatusError captures non-2xx upstream responses with status-aware
// context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openrouter: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the OpenRouter chat completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	referer    string
	appTitle   string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers OpenRouter uses
// for app rankings.
func WithAttribution(referer, appTitle string) Option {
	return func(c *Client) {
		c.referer = referer
		c.appTitle = appTitle
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openrouter: API key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Complete performs one chat completion call. A backend error reported inside
// a 2xx envelope is returned in the response, not as an error; callers decide
// how to classify it.
func (c *Client) Complete(ctx context.Context, req ports.ChatRequest) (ports.ChatResponse, error) {
	if req.Model == "" {
		return ports.ChatResponse{}, errors.New("openrouter: model must not be empty")
	}
	if len(req.Messages) == 0 {
		return ports.ChatResponse{}, errors.New("openrouter: messages must not be empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return ports.ChatResponse{}, fmt.Errorf("openrouter: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return ports.ChatResponse{}, fmt.Errorf("openrouter: create request: %w", reqErr)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.appTitle != "" {
		httpReq.Header.Set("X-Title", c.appTitle)
	}

	raw, err := c.doJSONRequest(httpReq, url)
	if err != nil {
		return ports.ChatResponse{}, fmt.Errorf("openrouter: request failed: %w", err)
	}

	var payload ports.ChatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return ports.ChatResponse{}, fmt.Errorf("openrouter: decode response: %w", decErr)
	}
	return payload, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<22))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
