package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/tickflow/tickflow/internal/domain"
	"github.com/tickflow/tickflow/internal/repository"
	apperrors "github.com/tickflow/tickflow/pkg/util"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	User *domain.User
	Role domain.Role
}

// AuthMiddleware validates session tokens and loads principals.
type AuthMiddleware struct {
	tokens     *TokenManager
	users      repository.UserRepository
	cookieName string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users repository.UserRepository, cookieName string) *AuthMiddleware {
	if cookieName == "" {
		cookieName = "tickflow_session"
	}
	return &AuthMiddleware{tokens: tokens, users: users, cookieName: cookieName}
}

// Handle enforces authentication for protected routes. The session
// token is read from the cookie first, falling back to a bearer header.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token := m.extractToken(c)
	if token == "" {
		return apperrors.NewAuthenticationError("missing session token")
	}

	claims, err := m.tokens.ParseToken(token)
	if err != nil {
		return apperrors.NewAuthenticationError("invalid or expired token")
	}

	user, err := m.users.GetByID(c.UserContext(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewAuthenticationError("user not found")
		}
		return apperrors.MapError(err)
	}

	c.Locals(principalKey, &Principal{User: user, Role: user.Role})
	return c.Next()
}

func (m *AuthMiddleware) extractToken(c *fiber.Ctx) string {
	if cookie := c.Cookies(m.cookieName); cookie != "" {
		return cookie
	}
	authHeader := c.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
