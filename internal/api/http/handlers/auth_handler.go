package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tickflow/tickflow/internal/api/dto"
	"github.com/tickflow/tickflow/internal/auth"
	"github.com/tickflow/tickflow/internal/service"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

// AuthHandler manages session endpoints.
type AuthHandler struct {
	service    *service.AuthService
	cookieName string
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, cookieName string) *AuthHandler {
	return &AuthHandler{service: authService, cookieName: cookieName}
}

// Login POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	user, token, expiresAt, err := h.service.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Expires:  expiresAt,
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return c.JSON(dto.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      dto.FromUser(user),
	})
}

// Logout POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: "Lax",
	})
	return c.SendStatus(fiber.StatusNoContent)
}

// ChangePassword POST /auth/password/change.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewAuthenticationError("authentication required")
	}
	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	if err := h.service.ChangePassword(c.UserContext(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
