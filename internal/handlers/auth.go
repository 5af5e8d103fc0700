package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/middleware"
	"realtycrm/internal/models"
	"realtycrm/internal/services"
)

// AuthHandler handles login, registration and the token lifecycle
type AuthHandler struct {
	users *services.UserService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users *services.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

// Login exchanges credentials for a token pair
// POST /api/login
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email and password are required")
	}

	resp, err := h.users.Login(c.UserContext(), req)
	if err != nil {
		log.Printf("⚠️  [AUTH] Login failed for %s: %v", models.NormalizeEmail(req.Email), err)
		return respondError(c, err)
	}
	return c.JSON(resp)
}

// Register creates an account. Anonymous callers get a token pair for the
// new account; an admin creating a team member gets the user back.
// POST /api/register
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	callerRole := middleware.UserRole(c)
	user, err := h.users.Register(c.UserContext(), req, callerRole)
	if err != nil {
		return respondError(c, err)
	}

	if middleware.UserID(c) != "" {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
	}
	resp, err := h.users.Login(c.UserContext(), models.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Me returns the caller's account
// GET /api/me
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := h.users.GetUser(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// RefreshRequest is the body of a token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh issues a new token pair from a refresh token
// POST /api/refresh
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return badRequest(c, "refreshToken is required")
	}
	resp, err := h.users.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired refresh token",
		})
	}
	return c.JSON(resp)
}

// Logout revokes the caller's refresh tokens
// POST /api/logout
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.users.Logout(c.UserContext(), middleware.UserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ListUsers returns the team, optionally one role
// GET /api/users
func (h *AuthHandler) ListUsers(c *fiber.Ctx) error {
	users, err := h.users.ListUsers(c.UserContext(), c.Query("role"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

// SetActiveRequest is the body of PUT /api/users/:id/active
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SetActive enables or disables an account
// PUT /api/users/:id/active
func (h *AuthHandler) SetActive(c *fiber.Ctx) error {
	var req SetActiveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	id := c.Params("id")
	if id == middleware.UserID(c) && !req.Active {
		return badRequest(c, "You can't disable your own account")
	}
	user, err := h.users.SetActive(c.UserContext(), id, req.Active)
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("👤 [USERS] %s set %s active=%v", middleware.UserID(c), id, req.Active)
	return c.JSON(user)
}
