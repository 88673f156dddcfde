package handlers

import (
	"github.com/gofiber/fiber/v2"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

// PreferencesHandler handles workspace preference endpoints.
type PreferencesHandler struct {
	settings *services.SettingsService
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(settings *services.SettingsService) *PreferencesHandler {
	return &PreferencesHandler{settings: settings}
}

// Get retrieves the current scope's preferences
// GET /api/settings/preferences
func (h *PreferencesHandler) Get(c *fiber.Ctx) error {
	return c.JSON(h.settings.Preferences(c.UserContext()))
}

// Update replaces the current scope's preferences
// PUT /api/settings/preferences
func (h *PreferencesHandler) Update(c *fiber.Ctx) error {
	var prefs models.Preferences
	if err := c.BodyParser(&prefs); err != nil {
		return badRequest(c, "Invalid request body")
	}

	if prefs.SaveMode != "" && prefs.SaveMode != models.SaveModeLocal && prefs.SaveMode != models.SaveModeAccount {
		return badRequest(c, "save_mode must be local or account")
	}
	if prefs.DefaultProvider != "" && !capability.ValidProvider(capability.ProviderID(prefs.DefaultProvider)) {
		return badRequest(c, "unknown default provider")
	}

	if err := h.settings.SetPreferences(c.UserContext(), prefs); err != nil {
		return fail(c, err)
	}
	return c.JSON(h.settings.Preferences(c.UserContext()))
}
