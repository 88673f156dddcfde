package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"
)

// Setting names.
const (
	SettingPreferences = "preferences"
)

// SettingsService handles per-scope named settings on top of the
// workspace's active store.
type SettingsService struct {
	workspace *WorkspaceService
}

// NewSettingsService creates a new settings service.
func NewSettingsService(workspace *WorkspaceService) *SettingsService {
	return &SettingsService{workspace: workspace}
}

// Get retrieves a raw setting value, "" when unset.
func (s *SettingsService) Get(ctx context.Context, name string) (string, error) {
	return s.workspace.Setting(ctx, name)
}

// Set stores a raw setting value.
func (s *SettingsService) Set(ctx context.Context, name, value string) error {
	return s.workspace.PutSetting(ctx, name, value)
}

// Preferences returns the scope's preferences. Missing or corrupt stored
// values fall back to the defaults rather than failing.
func (s *SettingsService) Preferences(ctx context.Context) models.Preferences {
	raw, err := s.workspace.Setting(ctx, SettingPreferences)
	if err != nil {
		log.Printf("⚠️ [SETTINGS] Failed to read preferences, using defaults: %v", err)
		return models.DefaultPreferences()
	}
	if raw == "" {
		return models.DefaultPreferences()
	}

	prefs := models.DefaultPreferences()
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		log.Printf("⚠️ [SETTINGS] Corrupt preferences value, using defaults: %v", err)
		return models.DefaultPreferences()
	}
	return prefs
}

// SetPreferences validates and stores the scope's preferences. An unset
// save mode normalizes to local.
func (s *SettingsService) SetPreferences(ctx context.Context, prefs models.Preferences) error {
	switch prefs.SaveMode {
	case "":
		prefs.SaveMode = models.SaveModeLocal
	case models.SaveModeLocal, models.SaveModeAccount:
	default:
		return invalidf("unknown save mode: %s", prefs.SaveMode)
	}
	if prefs.DefaultProvider != "" && !capability.ValidProvider(capability.ProviderID(prefs.DefaultProvider)) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, prefs.DefaultProvider)
	}

	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	return s.workspace.PutSetting(ctx, SettingPreferences, string(raw))
}
