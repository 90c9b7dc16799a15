package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tickflow/tickflow/internal/config"
)

func testConfig(baseURL string) config.CompletionConfig {
	return config.CompletionConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "test/model",
		Temperature:    0.2,
		MaxTokens:      256,
		TimeoutSeconds: 5,
		MaxRetries:     2,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(testConfig(server.URL), zap.NewNop()), server
}

func completionBody(content string) string {
	payload, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(payload)
}

func TestCompleteSuccess(t *testing.T) {
	var gotReq chatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &gotReq))
		fmt.Fprint(w, completionBody("hello there"))
	})

	out, err := client.Complete(context.Background(), "be terse", "say hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "test/model", gotReq.Model)
	assert.False(t, gotReq.Stream)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		n := len(stamps)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		fmt.Fprint(w, completionBody("made it"))
	})

	out, err := client.Complete(context.Background(), "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "made it", out)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)
	// Delays grow: roughly 250ms before the second attempt, 500ms
	// before the third.
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 200*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 400*time.Millisecond)
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	})

	_, err := client.Complete(context.Background(), "", "hi", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusEquivalent)
	assert.Equal(t, "rate limited", apiErr.Message)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	})

	_, err := client.Complete(context.Background(), "", "hi", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusEquivalent)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestCompleteTimeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	client.cfg.TimeoutSeconds = 1
	client.cfg.MaxRetries = 0

	start := time.Now()
	_, err := client.Complete(context.Background(), "", "hi", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusRequestTimeout, apiErr.StatusEquivalent)
}

func TestCompleteStructured(t *testing.T) {
	var gotReq chatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &gotReq))
		fmt.Fprint(w, completionBody(`{"label":"hardware","confidence":0.9}`))
	})

	schema := json.RawMessage(`{"type":"object"}`)
	var out struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	err := client.CompleteStructured(context.Background(), "classify", "printer broken", nil, "classification", schema, &out)
	require.NoError(t, err)
	assert.Equal(t, "hardware", out.Label)
	assert.InDelta(t, 0.9, out.Confidence, 0.001)

	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_schema", gotReq.ResponseFormat.Type)
	require.NotNil(t, gotReq.ResponseFormat.JSONSchema)
	assert.Equal(t, "classification", gotReq.ResponseFormat.JSONSchema.Name)
	assert.True(t, gotReq.ResponseFormat.JSONSchema.Strict)
}

func TestCompleteStructuredInvalidJSONNotRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		fmt.Fprint(w, completionBody("this is not json"))
	})

	var out map[string]any
	err := client.CompleteStructured(context.Background(), "", "hi", nil, "thing", json.RawMessage(`{}`), &out)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusEquivalent)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts, "a well-formed HTTP response with bad content is not transient")
}

func TestStream(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"chunk\":1}\n\ndata: [DONE]\n\n")
	})

	stream, err := client.Stream(context.Background(), "", "hi", nil)
	require.NoError(t, err)
	defer stream.Close()

	raw, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "data: {\"chunk\":1}")
	assert.Contains(t, string(raw), "[DONE]")
}

func TestCompleteParamsOverride(t *testing.T) {
	var gotReq chatRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &gotReq))
		fmt.Fprint(w, completionBody("ok"))
	})

	temp := 0.7
	tokens := 42
	_, err := client.Complete(context.Background(), "", "hi", &Params{
		Model:       "other/model",
		Temperature: &temp,
		MaxTokens:   &tokens,
	})
	require.NoError(t, err)

	assert.Equal(t, "other/model", gotReq.Model)
	assert.InDelta(t, 0.7, gotReq.Temperature, 0.001)
	assert.Equal(t, 42, gotReq.MaxTokens)
}

func TestNewClientBoundsConnectionSetup(t *testing.T) {
	client := NewClient(testConfig("http://upstream.invalid"), zap.NewNop())

	transport, ok := client.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.NotNil(t, transport.DialContext, "dial phase must carry a timeout")
	assert.Equal(t, 5*time.Second, transport.TLSHandshakeTimeout)
	assert.Equal(t, 5*time.Second, transport.ResponseHeaderTimeout)
}

func TestStreamTimesOutWhenUpstreamStalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)
	cfg.TimeoutSeconds = 1
	cfg.MaxRetries = 0
	client := NewClient(cfg, zap.NewNop())

	start := time.Now()
	_, err := client.Stream(context.Background(), "", "hi", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusRequestTimeout, apiErr.StatusEquivalent)
}

func TestBackoffDelayCap(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, backoffDelay(0))
	assert.Equal(t, 500*time.Millisecond, backoffDelay(1))
	assert.Equal(t, time.Second, backoffDelay(2))
	assert.Equal(t, 2*time.Second, backoffDelay(3))
	assert.Equal(t, 2*time.Second, backoffDelay(10))
}
