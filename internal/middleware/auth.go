package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"realtycrm/pkg/auth"
)

// Locals keys set by AuthMiddleware
const (
	LocalUserID    = "user_id"
	LocalUserEmail = "user_email"
	LocalUserRole  = "user_role"
)

// AuthMiddleware verifies access tokens and stores the caller in Locals.
// The token comes from the Authorization header, or from the token query
// parameter for WebSocket upgrades where browsers can't set headers.
func AuthMiddleware(jwtAuth *auth.JWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		principal, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			log.Printf("❌ [AUTH] Token rejected on %s: %v", c.Path(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		setPrincipal(c, principal)
		return c.Next()
	}
}

// OptionalAuthMiddleware stores the caller when a valid token is present
// and lets anonymous requests through
func OptionalAuthMiddleware(jwtAuth *auth.JWTAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)
		if token == "" {
			return c.Next()
		}
		principal, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			log.Printf("⚠️  [AUTH] Ignoring invalid optional token: %v", err)
			return c.Next()
		}
		setPrincipal(c, principal)
		return c.Next()
	}
}

func tokenFromRequest(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		if token, err := auth.ExtractToken(header); err == nil {
			return token
		}
	}
	return c.Query("token")
}

func setPrincipal(c *fiber.Ctx, p *auth.Principal) {
	c.Locals(LocalUserID, p.ID)
	c.Locals(LocalUserEmail, p.Email)
	c.Locals(LocalUserRole, p.Role)
}

// UserID returns the authenticated caller's id, or "" for anonymous requests
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// UserRole returns the authenticated caller's role
func UserRole(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalUserRole).(string)
	return role
}
