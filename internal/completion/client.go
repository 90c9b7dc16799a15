// Package completion wraps a chat-completion HTTP API behind plain,
// structured and streaming calls, with retry on transient failures.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tickflow/tickflow/internal/config"
)

// APIError is the error surfaced to callers after retries are
// exhausted or a non-retryable failure occurs. StatusEquivalent
// mirrors the upstream status for 400/401/403/429 and defaults to 500
// for everything else; local timeouts are reported as 408.
type APIError struct {
	Message          string
	StatusEquivalent int
	Details          any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion: %s (status %d)", e.Message, e.StatusEquivalent)
}

// Params overrides per-call sampling settings.
type Params struct {
	Model       string
	Temperature *float64
	MaxTokens   *int
}

// Client issues chat-completion requests.
type Client struct {
	cfg        config.CompletionConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client. The transport bounds every phase of
// connection setup: dial and TLS handshake through the dialer, time to
// first response header through ResponseHeaderTimeout. Streaming calls
// carry no per-attempt context deadline, so these transport bounds are
// what limits their initial connection.
func NewClient(cfg config.CompletionConfig, logger *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: cfg.Timeout()}).DialContext,
		TLSHandshakeTimeout:   cfg.Timeout(),
		ResponseHeaderTimeout: cfg.Timeout(),
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete issues a non-streaming request and returns the first
// choice's content as plain text.
func (c *Client) Complete(ctx context.Context, system, user string, params *Params) (string, error) {
	body := c.buildRequest(system, user, params, false, nil)
	raw, err := c.doWithRetry(ctx, body)
	if err != nil {
		return "", err
	}
	return extractContent(raw)
}

// CompleteStructured constrains the upstream output to the given JSON
// schema and unmarshals the content into out. Parse failures of the
// returned content are not retried.
func (c *Client) CompleteStructured(ctx context.Context, system, user string, params *Params, schemaName string, schema json.RawMessage, out any) error {
	format := &responseFormat{
		Type:       "json_schema",
		JSONSchema: &jsonSchemaFormat{Name: schemaName, Strict: true, Schema: schema},
	}
	body := c.buildRequest(system, user, params, false, format)
	raw, err := c.doWithRetry(ctx, body)
	if err != nil {
		return err
	}
	content, err := extractContent(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return &APIError{
			Message:          "structured completion returned invalid JSON",
			StatusEquivalent: http.StatusInternalServerError,
			Details:          err.Error(),
		}
	}
	return nil
}

// Stream issues a streaming request and hands back the raw response
// body unread, for the caller to forward without buffering. Closing
// the returned reader releases the connection.
func (c *Client) Stream(ctx context.Context, system, user string, params *Params) (io.ReadCloser, error) {
	body := c.buildRequest(system, user, params, true, nil)

	var lastErr *APIError
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.waitBackoff(ctx, attempt-1); err != nil {
				return nil, lastErr
			}
		}
		resp, apiErr, retryable := c.attempt(ctx, body)
		if apiErr == nil {
			return resp.Body, nil
		}
		lastErr = apiErr
		if !retryable {
			return nil, apiErr
		}
	}
	return nil, lastErr
}

func (c *Client) buildRequest(system, user string, params *Params, stream bool, format *responseFormat) chatRequest {
	messages := make([]message, 0, 2)
	if system != "" {
		messages = append(messages, message{Role: "system", Content: system})
	}
	messages = append(messages, message{Role: "user", Content: user})

	req := chatRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Stream:         stream,
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: format,
	}
	if params != nil {
		if params.Model != "" {
			req.Model = params.Model
		}
		if params.Temperature != nil {
			req.Temperature = *params.Temperature
		}
		if params.MaxTokens != nil {
			req.MaxTokens = *params.MaxTokens
		}
	}
	return req
}

// doWithRetry runs a non-streaming request, retrying 429, 5xx and
// network failures with capped exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, body chatRequest) ([]byte, error) {
	var lastErr *APIError
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.waitBackoff(ctx, attempt-1); err != nil {
				return nil, lastErr
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
		resp, apiErr, retryable := c.attempt(attemptCtx, body)
		if apiErr == nil {
			raw, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			if readErr != nil {
				lastErr = networkError(readErr)
				continue
			}
			return raw, nil
		}
		cancel()
		lastErr = apiErr
		if !retryable {
			return nil, apiErr
		}
		c.logger.Warn("completion attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("status_equivalent", apiErr.StatusEquivalent),
			zap.String("message", apiErr.Message),
		)
	}
	return nil, lastErr
}

// attempt issues one HTTP request. It returns the response on 2xx,
// or the classified error plus whether the failure class is worth
// retrying.
func (c *Client) attempt(ctx context.Context, body chatRequest) (*http.Response, *APIError, bool) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &APIError{Message: "failed to encode request", StatusEquivalent: http.StatusInternalServerError, Details: err.Error()}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &APIError{Message: "failed to build request", StatusEquivalent: http.StatusInternalServerError, Details: err.Error()}, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(err), true
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil, false
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()

	apiErr := upstreamError(resp.StatusCode, errBody)
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return nil, apiErr, retryable
}

func (c *Client) waitBackoff(ctx context.Context, retry int) error {
	timer := time.NewTimer(backoffDelay(retry))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay doubles from 250ms per retry, capped at 2s.
func backoffDelay(retry int) time.Duration {
	delay := 250 * time.Millisecond << retry
	if delay > 2*time.Second {
		delay = 2 * time.Second
	}
	return delay
}

func networkError(err error) *APIError {
	var netErr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	if timedOut {
		return &APIError{
			Message:          "completion request timed out",
			StatusEquivalent: http.StatusRequestTimeout,
			Details:          err.Error(),
		}
	}
	return &APIError{
		Message:          "connection to completion upstream failed",
		StatusEquivalent: http.StatusInternalServerError,
		Details:          err.Error(),
	}
}

func upstreamError(status int, body []byte) *APIError {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := fmt.Sprintf("upstream returned status %d", status)
	var details any
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
		details = parsed.Error
	} else if len(body) > 0 {
		details = string(body)
	}

	equivalent := http.StatusInternalServerError
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		equivalent = status
	}
	return &APIError{Message: message, StatusEquivalent: equivalent, Details: details}
}

func extractContent(raw []byte) (string, error) {
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &APIError{
			Message:          "failed to decode completion response",
			StatusEquivalent: http.StatusInternalServerError,
			Details:          err.Error(),
		}
	}
	if len(parsed.Choices) == 0 {
		return "", &APIError{
			Message:          "completion response contained no choices",
			StatusEquivalent: http.StatusInternalServerError,
		}
	}

	content := parsed.Choices[0].Message.Content
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text, nil
	}
	// Unexpected structured content: hand it back stringified.
	return string(content), nil
}
