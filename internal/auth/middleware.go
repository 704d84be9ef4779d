package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/observability"
)

const (
	identityLocalsKey = "identity"
	// AccessTokenQuery carries the token for websocket handshakes, where
	// browsers cannot set headers.
	AccessTokenQuery = "access_token"
)

// Middleware authenticates the request from a Bearer token or the
// access_token query parameter and stores the identity in Locals.
func Middleware(tokens *TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := tokens.Verify(tokenFromRequest(c))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(identityLocalsKey, identity)
		c.SetUserContext(observability.WithUserID(c.UserContext(), identity.UserID))
		return c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. It must run after
// Middleware.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromCtx(c)
		if !ok || !identity.IsAdmin() {
			return fiber.NewError(fiber.StatusUnauthorized, domain.ErrUnauthorized.Error()+": admin role required")
		}
		return c.Next()
	}
}

func IdentityFromCtx(c *fiber.Ctx) (domain.Identity, bool) {
	identity, ok := c.Locals(identityLocalsKey).(domain.Identity)
	if !ok || identity.IsZero() {
		return domain.Identity{}, false
	}
	return identity, true
}

func tokenFromRequest(c *fiber.Ctx) string {
	if header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(c.Query(AccessTokenQuery))
}
