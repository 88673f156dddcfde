package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

// ProviderHandler handles provider settings and connectivity endpoints.
// Responses always carry the masked credential view, never the stored
// secret.
type ProviderHandler struct {
	providers *services.ProviderService
	discovery *services.DiscoveryService
	pubsub    *services.PubSubService // nil when Redis is not configured
}

// NewProviderHandler creates a new provider handler
func NewProviderHandler(providers *services.ProviderService, discovery *services.DiscoveryService, pubsub *services.PubSubService) *ProviderHandler {
	return &ProviderHandler{
		providers: providers,
		discovery: discovery,
		pubsub:    pubsub,
	}
}

// List returns every cataloged provider with the caller's settings merged in
// GET /api/providers
func (h *ProviderHandler) List(c *fiber.Ctx) error {
	views := h.providers.List()
	return c.JSON(fiber.Map{
		"providers": views,
		"count":     len(views),
	})
}

// Get returns one provider's merged view
// GET /api/providers/:id
func (h *ProviderHandler) Get(c *fiber.Ctx) error {
	id := capability.ProviderID(c.Params("id"))
	if !capability.ValidProvider(id) {
		return notFound(c, "Provider not found")
	}

	view, err := h.providers.Get(id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

// Update applies a partial settings change, honoring the masked-secret
// protocol on the credential field
// PUT /api/providers/:id
func (h *ProviderHandler) Update(c *fiber.Ctx) error {
	id := capability.ProviderID(c.Params("id"))
	if !capability.ValidProvider(id) {
		return notFound(c, "Provider not found")
	}

	var update models.ProviderSettingsUpdate
	if err := c.BodyParser(&update); err != nil {
		return badRequest(c, "Invalid request body")
	}

	view, err := h.providers.Update(c.UserContext(), id, update)
	if err != nil {
		return fail(c, err)
	}

	h.invalidateOtherReplicas(c)
	return c.JSON(view)
}

// Delete removes the stored settings, reverting the provider to catalog
// defaults
// DELETE /api/providers/:id
func (h *ProviderHandler) Delete(c *fiber.Ctx) error {
	id := capability.ProviderID(c.Params("id"))
	if !capability.ValidProvider(id) {
		return notFound(c, "Provider not found")
	}

	if err := h.providers.Delete(c.UserContext(), id); err != nil {
		return fail(c, err)
	}

	h.invalidateOtherReplicas(c)
	return c.JSON(fiber.Map{
		"message": "Provider settings reset to defaults",
	})
}

// Probe checks provider connectivity. The local provider goes through the
// discovery probe, optionally against an endpoint named in the body; cloud
// providers are pinged through their model-list endpoint.
// POST /api/providers/:id/probe
func (h *ProviderHandler) Probe(c *fiber.Ctx) error {
	id := capability.ProviderID(c.Params("id"))
	if !capability.ValidProvider(id) {
		return notFound(c, "Provider not found")
	}

	if id == capability.ProviderOllama {
		var req struct {
			Endpoint string `json:"endpoint"`
		}
		// An empty or absent body probes the configured endpoint.
		_ = c.BodyParser(&req)
		return c.JSON(h.discovery.Probe(c.UserContext(), req.Endpoint))
	}

	res, err := h.providers.ListModels(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}

	probe := models.ProbeResult{
		Detected:  res.Err == "",
		Reason:    res.Err,
		CheckedAt: time.Now(),
	}
	for _, m := range res.Models {
		probe.Models = append(probe.Models, m.ID)
	}
	return c.JSON(probe)
}

// Models returns the live model list from the provider's API
// GET /api/providers/:id/models
func (h *ProviderHandler) Models(c *fiber.Ctx) error {
	id := capability.ProviderID(c.Params("id"))
	if !capability.ValidProvider(id) {
		return notFound(c, "Provider not found")
	}

	res, err := h.providers.ListModels(c.UserContext(), id)
	if err != nil {
		return fail(c, err)
	}
	if res.Err != "" {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": res.Err,
		})
	}
	return c.JSON(fiber.Map{
		"models": res.Models,
		"count":  len(res.Models),
	})
}

// invalidateOtherReplicas tells sibling replicas to reload the scope whose
// provider settings just changed. Local state is already current; failures
// are best effort since siblings re-sync on their next auth change.
func (h *ProviderHandler) invalidateOtherReplicas(c *fiber.Ctx) {
	if h.pubsub == nil {
		return
	}
	userID, _ := c.Locals("user_id").(string)
	if err := h.pubsub.PublishConfigInvalidate(c.UserContext(), userID); err != nil {
		log.Printf("⚠️ Failed to publish config invalidation: %v", err)
	}
}
