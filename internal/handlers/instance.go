package handlers

import (
	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

// InstanceHandler handles deployed-instance endpoints. Creation places the
// instance on the canvas in the same call; there is no floating unplaced
// instance in the normal flow.
type InstanceHandler struct {
	agents *services.AgentService
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(agents *services.AgentService) *InstanceHandler {
	return &InstanceHandler{agents: agents}
}

// CreateInstanceRequest is the request body for placing an instance
type CreateInstanceRequest struct {
	AgentID  string          `json:"agent_id"`
	Position models.Position `json:"position"`
	Name     string          `json:"name"`
}

// Create clones a prototype into a new instance and attaches it to a fresh
// canvas node at the given position
// POST /api/instances
func (h *InstanceHandler) Create(c *fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.AgentID == "" {
		return badRequest(c, "agent_id is required")
	}

	inst, node, err := h.agents.CreateInstance(c.UserContext(), req.AgentID, req.Position, req.Name)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"instance": inst,
		"node":     node,
	})
}

// List returns all instances in the current workspace
// GET /api/instances
func (h *InstanceHandler) List(c *fiber.Ctx) error {
	instances := h.agents.ListInstances()
	if instances == nil {
		instances = []models.Instance{}
	}
	return c.JSON(fiber.Map{
		"instances": instances,
		"count":     len(instances),
	})
}

// Get returns one instance including its runtime state
// GET /api/instances/:id
func (h *InstanceHandler) Get(c *fiber.Ctx) error {
	inst, err := h.agents.GetInstance(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(inst)
}

// UpdateConfig replaces an instance's configuration. The instance's own
// logs, errors, tasks and links survive whatever the payload carries for
// them.
// PUT /api/instances/:id/config
func (h *InstanceHandler) UpdateConfig(c *fiber.Ctx) error {
	var config models.InstanceConfig
	if err := c.BodyParser(&config); err != nil {
		return badRequest(c, "Invalid request body")
	}

	inst, err := h.agents.UpdateInstanceConfig(c.UserContext(), c.Params("id"), config)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(inst)
}

// Rename changes an instance's display name
// PUT /api/instances/:id/name
func (h *InstanceHandler) Rename(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	inst, err := h.agents.RenameInstance(c.UserContext(), c.Params("id"), req.Name)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(inst)
}

// Delete removes an instance together with its canvas node and links
// DELETE /api/instances/:id
func (h *InstanceHandler) Delete(c *fiber.Ctx) error {
	if err := h.agents.DeleteInstance(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Instance deleted",
	})
}
