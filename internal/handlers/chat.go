package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

// ChatHandler is the synchronous REST path into the chat service. Streaming
// clients use the WebSocket protocol instead.
type ChatHandler struct {
	chat *services.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// CompletionRequest is the request body for a synchronous chat turn
type CompletionRequest struct {
	InstanceID  string              `json:"instance_id"`
	Message     string              `json:"message"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// Complete runs one full chat turn and returns the settled agent message.
// Vendor failures still settle as an error-flagged message with status 200;
// only infrastructure problems surface as HTTP errors.
// POST /api/chat/completions
func (h *ChatHandler) Complete(c *fiber.Ctx) error {
	var req CompletionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.InstanceID == "" {
		return badRequest(c, "instance_id is required")
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return badRequest(c, "message or attachments required")
	}

	result, err := h.chat.Send(c.UserContext(), req.InstanceID, req.Message, req.Attachments)
	if err != nil {
		return fail(c, err)
	}

	resp := fiber.Map{
		"message": result.Message,
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	return c.JSON(resp)
}
