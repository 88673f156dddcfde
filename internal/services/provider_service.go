package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/llm"
	"agentdeck/internal/models"
)

// ProviderService merges catalog defaults with the user's stored provider
// settings and enforces the masked-secret update protocol. Plaintext
// credentials never leave this layer: reads carry the masked preview only.
type ProviderService struct {
	workspace  *WorkspaceService
	config     *ConfigService
	dispatcher *llm.Dispatcher
}

// NewProviderService creates a new provider service.
func NewProviderService(workspace *WorkspaceService, config *ConfigService, dispatcher *llm.Dispatcher) *ProviderService {
	return &ProviderService{
		workspace:  workspace,
		config:     config,
		dispatcher: dispatcher,
	}
}

// List returns the API view of every cataloged provider in catalog order.
func (s *ProviderService) List() []models.ProviderView {
	entries := s.config.Entries()
	views := make([]models.ProviderView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.view(entry.ID))
	}
	return views
}

// Get returns the API view of one provider.
func (s *ProviderService) Get(id capability.ProviderID) (models.ProviderView, error) {
	if !capability.ValidProvider(id) {
		return models.ProviderView{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return s.view(id), nil
}

// view builds the merged presentation for one provider. Stored settings
// override catalog defaults; stored capability toggles are re-clamped to
// the current ceiling so a narrowed catalog wins over older saves.
func (s *ProviderService) view(id capability.ProviderID) models.ProviderView {
	entry, _ := s.config.Entry(id)
	ceiling := s.config.Ceiling(id)

	v := models.ProviderView{
		Provider:     id,
		DisplayName:  entry.DisplayName,
		Local:        entry.Local,
		DefaultModel: entry.DefaultModel,
		Ceiling:      ceiling.Slice(),
	}
	if v.DisplayName == "" {
		v.DisplayName = string(id)
	}

	stored, ok := s.workspace.GetProviderSettings(id)
	if !ok {
		// No saved record: disabled, no credential, full ceiling permitted.
		v.Capabilities = ceiling.Slice()
		return v
	}

	v.Enabled = stored.Enabled
	v.HasCredential = stored.Credential != ""
	v.Credential = models.MaskCredential(stored.Credential)
	updatedAt := stored.UpdatedAt
	v.UpdatedAt = &updatedAt

	if stored.Capabilities == nil {
		v.Capabilities = ceiling.Slice()
	} else {
		enabled := capability.Set{}
		for c, on := range stored.Capabilities {
			if on && ceiling.Has(c) {
				enabled[c] = true
			}
		}
		v.Capabilities = enabled.Slice()
	}
	return v
}

// Update applies a partial settings change. The credential field follows
// the masked-secret protocol: the mask marker or an absent field keeps the
// existing secret, an empty string deletes it, anything else replaces it.
// Capability toggles outside the catalog ceiling are rejected.
func (s *ProviderService) Update(ctx context.Context, id capability.ProviderID, update models.ProviderSettingsUpdate) (models.ProviderView, error) {
	if !capability.ValidProvider(id) {
		return models.ProviderView{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}

	stored, ok := s.workspace.GetProviderSettings(id)
	if !ok {
		stored = models.ProviderSettings{Provider: id}
	}

	if update.Enabled != nil {
		stored.Enabled = *update.Enabled
	}

	if update.Credential != nil {
		switch {
		case *update.Credential == "":
			stored.Credential = ""
		case strings.Contains(*update.Credential, models.CredentialMaskMarker):
			// Masked round-trip, either the bare marker or the preview
			// form: keep the existing secret.
		default:
			stored.Credential = *update.Credential
		}
	}

	if update.Capabilities != nil {
		ceiling := s.config.Ceiling(id)
		for c, on := range update.Capabilities {
			if !capability.Valid(c) {
				return models.ProviderView{}, fmt.Errorf("%w: unknown capability %s", ErrInvalidCapability, c)
			}
			if on && !ceiling.Has(c) {
				return models.ProviderView{}, fmt.Errorf("%w: %s is not available for provider %s", ErrInvalidCapability, c, id)
			}
		}
		if stored.Capabilities == nil {
			// First explicit toggle set: start from the full ceiling so
			// untouched capabilities keep their default-on state.
			stored.Capabilities = make(map[capability.Capability]bool)
			for _, c := range ceiling.Slice() {
				stored.Capabilities[c] = true
			}
		}
		for c, on := range update.Capabilities {
			stored.Capabilities[c] = on
		}
	}

	stored.UpdatedAt = time.Now()
	if err := s.workspace.SaveProviderSettings(ctx, stored); err != nil {
		return models.ProviderView{}, err
	}

	log.Printf("🔌 [PROVIDER] Updated settings for %s (enabled=%v)", id, stored.Enabled)
	return s.view(id), nil
}

// Delete removes the stored settings for a provider, reverting it to
// catalog defaults. Deleting settings that were never saved is not an
// error.
func (s *ProviderService) Delete(ctx context.Context, id capability.ProviderID) error {
	if !capability.ValidProvider(id) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if err := s.workspace.DeleteProviderSettings(ctx, id); err != nil && err != ErrUnknownProvider {
		return err
	}
	log.Printf("🔌 [PROVIDER] Reset %s to catalog defaults", id)
	return nil
}

// Credential returns the plaintext secret for dispatching a request.
// Internal use only; API reads go through the masked view.
func (s *ProviderService) Credential(id capability.ProviderID) string {
	stored, ok := s.workspace.GetProviderSettings(id)
	if !ok {
		return ""
	}
	return stored.Credential
}

// CapabilityEnabled reports whether a capability is currently permitted
// for a provider: within the catalog ceiling and not switched off by the
// user.
func (s *ProviderService) CapabilityEnabled(id capability.ProviderID, c capability.Capability) bool {
	if !s.config.Ceiling(id).Has(c) {
		return false
	}
	stored, ok := s.workspace.GetProviderSettings(id)
	if !ok || stored.Capabilities == nil {
		return true
	}
	return stored.Capabilities[c]
}

// ListModels queries the provider's model-list endpoint with the stored
// credential. Vendor failures come back inside the result, not as errors.
func (s *ProviderService) ListModels(ctx context.Context, id capability.ProviderID) (llm.ModelsResult, error) {
	if !capability.ValidProvider(id) {
		return llm.ModelsResult{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return s.dispatcher.ListModels(ctx, id, s.Credential(id)), nil
}
