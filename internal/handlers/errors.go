package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/crm"
	"realtycrm/internal/logging"
	"realtycrm/internal/middleware"
	"realtycrm/internal/services"
)

// statusFor maps domain errors onto HTTP statuses. Anything unrecognised is
// an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, crm.ErrInvalidTransition):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, crm.ErrNotFound),
		errors.Is(err, services.ErrDocumentNotFound),
		errors.Is(err, services.ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, crm.ErrUpstream):
		return fiber.StatusBadGateway
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, crm.ErrStageWithoutTimestamp),
		errors.Is(err, crm.ErrUnknownField),
		errors.Is(err, crm.ErrImmutableField),
		errors.Is(err, crm.ErrUnknownKind):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrTokenRevoked):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrUserInactive),
		errors.Is(err, services.ErrWhatsAppDisabled):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrEmailTaken):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

// respondError writes err with its mapped status. Internal errors are logged
// and hidden from the client.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		requestID, _ := c.Locals("requestid").(string)
		logging.WithRequest(requestID, middleware.UserID(c)).Error("request failed",
			"method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}

	body := fiber.Map{"error": err.Error()}
	var transitionErr *crm.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		body["from"] = transitionErr.From
		body["to"] = transitionErr.To
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
