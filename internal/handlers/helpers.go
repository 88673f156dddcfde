package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/services"
)

// statusFor maps service sentinel errors onto HTTP status codes so every
// handler reports failures the same way.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrAgentNotFound),
		errors.Is(err, services.ErrInstanceNotFound),
		errors.Is(err, services.ErrNodeNotFound),
		errors.Is(err, services.ErrLinkNotFound),
		errors.Is(err, services.ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInstanceBusy),
		errors.Is(err, services.ErrEmailTaken):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrUnknownProvider),
		errors.Is(err, services.ErrInvalidCapability),
		errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// fail writes the standard error envelope. Unexpected errors are logged and
// reported as a generic 500 so internals stay out of responses.
func fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("❌ %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
	})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": message,
	})
}
