package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	discovery   *services.DiscoveryService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(connManager *services.ConnectionManager, discovery *services.DiscoveryService) *HealthHandler {
	return &HealthHandler{connManager: connManager, discovery: discovery}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":          "healthy",
		"connections":     h.connManager.Count(),
		"local_inference": h.discovery.Reachable(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}
