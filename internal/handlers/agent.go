package handlers

import (
	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

// AgentHandler handles prototype CRUD. Prototypes are templates; editing or
// deleting one follows the clone semantics in the agent service.
type AgentHandler struct {
	agents *services.AgentService
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(agents *services.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

// CreateAgentRequest is the request body for prototype creation
type CreateAgentRequest struct {
	Name   string             `json:"name"`
	Role   string             `json:"role"`
	Config models.AgentConfig `json:"config"`
}

// Create creates a new prototype
// POST /api/agents
func (h *AgentHandler) Create(c *fiber.Ctx) error {
	var req CreateAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	agent, err := h.agents.CreateAgent(c.UserContext(), req.Name, req.Role, req.Config)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(agent)
}

// List returns all prototypes in the current workspace
// GET /api/agents
func (h *AgentHandler) List(c *fiber.Ctx) error {
	agents := h.agents.List()
	if agents == nil {
		agents = []models.Agent{}
	}
	return c.JSON(fiber.Map{
		"agents": agents,
		"count":  len(agents),
	})
}

// Get returns one prototype
// GET /api/agents/:id
func (h *AgentHandler) Get(c *fiber.Ctx) error {
	agent, err := h.agents.Get(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(agent)
}

// Update applies a partial edit to a prototype. Deployed instances keep the
// configuration they were cloned with.
// PUT /api/agents/:id
func (h *AgentHandler) Update(c *fiber.Ctx) error {
	var patch models.AgentPatch
	if err := c.BodyParser(&patch); err != nil {
		return badRequest(c, "Invalid request body")
	}

	agent, err := h.agents.UpdateAgent(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(agent)
}

// Impact reports how many deployed copies keep their own settings if this
// prototype is edited
// GET /api/agents/:id/impact
func (h *AgentHandler) Impact(c *fiber.Ctx) error {
	impact, err := h.agents.GetAgentImpact(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(impact)
}

// Delete removes a prototype and cascades to every instance cloned from it
// DELETE /api/agents/:id
func (h *AgentHandler) Delete(c *fiber.Ctx) error {
	if err := h.agents.DeleteAgent(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Agent and its instances deleted",
	})
}
