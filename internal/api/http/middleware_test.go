package http

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tickflow/tickflow/internal/observability"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func performRequest(t *testing.T, app *fiber.App, method, path string) (int, errorEnvelope) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var envelope errorEnvelope
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &envelope)
	}
	return resp.StatusCode, envelope
}

func TestErrorMiddlewareKeepsCodeStatusAndMessage(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), observability.NewMetrics(), 0)
	app.Get("/limited", func(c *fiber.Ctx) error {
		return apperrors.NewDomainError("RATE_LIMIT_EXCEEDED", "upstream said no",
			fiber.StatusTooManyRequests, map[string]any{"upstream": "raw upstream body"})
	})

	status, envelope := performRequest(t, app, fiber.MethodGet, "/limited")

	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", envelope.Error)
	assert.Equal(t, "upstream said no", envelope.Message)
	assert.Equal(t, "raw upstream body", envelope.Details["upstream"])
}

func TestErrorMiddlewareRecoversPanics(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), observability.NewMetrics(), 0)
	app.Get("/boom", func(c *fiber.Ctx) error {
		panic("handler exploded")
	})

	status, envelope := performRequest(t, app, fiber.MethodGet, "/boom")

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", envelope.Error)
}

func TestRequestTimeoutReachesHandlers(t *testing.T) {
	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), nil, 5*time.Second)
	app.Get("/deadline", func(c *fiber.Ctx) error {
		deadline, ok := c.UserContext().Deadline()
		assert.True(t, ok, "handler context carries the request deadline")
		assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
		return c.SendStatus(fiber.StatusNoContent)
	})

	status, _ := performRequest(t, app, fiber.MethodGet, "/deadline")
	assert.Equal(t, fiber.StatusNoContent, status)
}
