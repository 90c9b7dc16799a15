package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tickflow/tickflow/internal/api/dto"
	"github.com/tickflow/tickflow/internal/auth"
	"github.com/tickflow/tickflow/internal/service"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

// AIHandler manages assist endpoints.
type AIHandler struct {
	service *service.AIService
}

// NewAIHandler constructs handler.
func NewAIHandler(aiService *service.AIService) *AIHandler {
	return &AIHandler{service: aiService}
}

// Classify POST /ai/classify.
func (h *AIHandler) Classify(c *fiber.Ctx) error {
	var req dto.ClassifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Title == "" || req.Description == "" {
		return apperrors.NewValidationError("title and description required", nil)
	}

	classification, err := h.service.ClassifyTicket(c.UserContext(), req.Title, req.Description)
	if err != nil {
		return err
	}
	return c.JSON(dto.ClassifyResponse{
		CategoryID:    classification.CategoryID,
		Category:      classification.CategoryName,
		SubcategoryID: classification.SubcategoryID,
		Subcategory:   classification.SubcategoryName,
		Confidence:    classification.Confidence,
	})
}

// Summarize POST /ai/tickets/:id/summary.
func (h *AIHandler) Summarize(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	summary, err := h.service.SummarizeTicket(c.UserContext(), principal.User.ID, principal.Role, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.SummaryResponse{Summary: summary})
}

// SummarizeStream GET /ai/tickets/:id/summary/stream. The upstream
// body is forwarded unread as server-sent events.
func (h *AIHandler) SummarizeStream(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	// The connection-scoped context, not the request-timeout one: the
	// body is forwarded after the handler chain unwinds and cancels
	// the timeout, which would cut the stream short.
	stream, err := h.service.StreamTicketSummary(c.Context(), principal.User.ID, principal.Role, c.Params("id"))
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")
	return c.SendStream(stream)
}
