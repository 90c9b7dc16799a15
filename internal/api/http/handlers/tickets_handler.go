package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/tickflow/tickflow/internal/api/dto"
	"github.com/tickflow/tickflow/internal/auth"
	"github.com/tickflow/tickflow/internal/domain"
	"github.com/tickflow/tickflow/internal/service"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), principal.User.ID, principal.Role, service.TicketCreateInput{
		Title:         req.Title,
		Description:   req.Description,
		SubcategoryID: req.SubcategoryID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.FromTicket(ticket))
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}

	input := service.TicketListInput{
		Page:      parseIntQuery(c, "page", 1),
		Limit:     parseIntQuery(c, "limit", 20),
		SortBy:    c.Query("sortBy", "created_at"),
		SortOrder: c.Query("sortOrder", "desc"),
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status := domain.TicketStatus(statusStr)
		if !status.Valid() {
			return apperrors.NewValidationError("invalid status filter", nil)
		}
		input.Status = &status
	}
	if assignedToMe, err := strconv.ParseBool(c.Query("assignedToMe", "false")); err == nil {
		input.AssignedToMe = assignedToMe
	}

	page, err := h.service.ListTickets(c.UserContext(), principal.User.ID, principal.Role, input)
	if err != nil {
		return err
	}
	return c.JSON(dto.FromTicketPage(page))
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	ticket, err := h.service.GetTicketByID(c.UserContext(), principal.User.ID, principal.Role, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.FromTicket(ticket))
}

// AssignTicket POST /tickets/:id/assign.
func (h *TicketsHandler) AssignTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	ticket, err := h.service.AssignTicket(c.UserContext(), principal.User.ID, principal.Role, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(dto.FromTicket(ticket))
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.UpdateTicketStatus(c.UserContext(), principal.User.ID, principal.Role, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(dto.FromTicket(ticket))
}

// GetStats GET /tickets/stats.
func (h *TicketsHandler) GetStats(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	stats, err := h.service.GetTicketStats(c.UserContext(), principal.User.ID, principal.Role)
	if err != nil {
		return err
	}
	return c.JSON(dto.TicketStatsResponse{
		OpenCount:     stats.OpenCount,
		ResolvedCount: stats.ResolvedCount,
	})
}

func parseIntQuery(c *fiber.Ctx, key string, fallback int) int {
	val := c.Query(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
