package handlers

import (
	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

// CanvasHandler handles the node and link layer of the workspace.
type CanvasHandler struct {
	canvas *services.CanvasService
}

// NewCanvasHandler creates a new canvas handler
func NewCanvasHandler(canvas *services.CanvasService) *CanvasHandler {
	return &CanvasHandler{canvas: canvas}
}

// Get returns the full canvas state
// GET /api/canvas
func (h *CanvasHandler) Get(c *fiber.Ctx) error {
	canvas := h.canvas.Canvas()
	if canvas.Nodes == nil {
		canvas.Nodes = []models.CanvasNode{}
	}
	if canvas.Links == nil {
		canvas.Links = []models.CanvasLink{}
	}
	return c.JSON(canvas)
}

// AttachNodeRequest is the request body for re-attaching a stored instance
type AttachNodeRequest struct {
	InstanceID string          `json:"instance_id"`
	Position   models.Position `json:"position"`
}

// AttachNode places an existing unattached instance on the canvas
// POST /api/canvas/nodes
func (h *CanvasHandler) AttachNode(c *fiber.Ctx) error {
	var req AttachNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.InstanceID == "" {
		return badRequest(c, "instance_id is required")
	}

	node, err := h.canvas.AttachInstance(c.UserContext(), req.InstanceID, req.Position)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(node)
}

// MoveNode updates a node's position
// PUT /api/canvas/nodes/:id/position
func (h *CanvasHandler) MoveNode(c *fiber.Ctx) error {
	var pos models.Position
	if err := c.BodyParser(&pos); err != nil {
		return badRequest(c, "Invalid request body")
	}

	node, err := h.canvas.MoveNode(c.UserContext(), c.Params("id"), pos)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(node)
}

// DetachNode removes a node, its instance, and links touching it
// DELETE /api/canvas/nodes/:id
func (h *CanvasHandler) DetachNode(c *fiber.Ctx) error {
	if err := h.canvas.DetachNode(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Node removed",
	})
}

// CreateLinkRequest is the request body for linking two nodes
type CreateLinkRequest struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Label      string `json:"label"`
}

// CreateLink connects two live nodes
// POST /api/canvas/links
func (h *CanvasHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.FromNodeID == "" || req.ToNodeID == "" {
		return badRequest(c, "from_node_id and to_node_id are required")
	}

	link, err := h.canvas.CreateLink(c.UserContext(), req.FromNodeID, req.ToNodeID, req.Label)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(link)
}

// DeleteLink removes one link
// DELETE /api/canvas/links/:id
func (h *CanvasHandler) DeleteLink(c *fiber.Ctx) error {
	if err := h.canvas.DeleteLink(c.UserContext(), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Link deleted",
	})
}
