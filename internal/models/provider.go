package models

import (
	"time"

	"agentdeck/internal/capability"
)

// CredentialMaskMarker is the literal credential value clients send to mean
// "keep the existing secret, only update other fields". An empty string
// means "delete this credential". Omitting the field entirely also means
// keep; the marker stays accepted for wire compatibility.
const CredentialMaskMarker = "********"

// ProviderSettings is the user-editable record for one provider: whether it
// is enabled, its credential (API key, or endpoint URL for the local
// provider), and which capabilities are currently permitted.
type ProviderSettings struct {
	Provider     capability.ProviderID           `json:"provider" bson:"provider"`
	Enabled      bool                            `json:"enabled" bson:"enabled"`
	Credential   string                          `json:"credential,omitempty" bson:"credential,omitempty"`
	Capabilities map[capability.Capability]bool  `json:"capabilities" bson:"capabilities"`
	UpdatedAt    time.Time                       `json:"updated_at" bson:"updatedAt"`
}

// Clone returns a copy with its own capability map.
func (p ProviderSettings) Clone() ProviderSettings {
	out := p
	if p.Capabilities != nil {
		out.Capabilities = make(map[capability.Capability]bool, len(p.Capabilities))
		for k, v := range p.Capabilities {
			out.Capabilities[k] = v
		}
	}
	return out
}

// ProviderSettingsUpdate is a partial provider update. Nil fields are left
// unchanged. Credential follows the masked-secret convention documented on
// CredentialMaskMarker.
type ProviderSettingsUpdate struct {
	Enabled      *bool                          `json:"enabled,omitempty"`
	Credential   *string                        `json:"credential,omitempty"`
	Capabilities map[capability.Capability]bool `json:"capabilities,omitempty"`
}

// Catalog is the read-only provider defaults file (providers.json). It is
// loaded at startup and hot-reloaded on change.
type Catalog struct {
	Providers []CatalogEntry `json:"providers"`
}

// CatalogEntry supplies deployment defaults for one provider. An optional
// capabilities list narrows the built-in ceiling for this deployment; an
// empty list means the full ceiling applies.
type CatalogEntry struct {
	ID           capability.ProviderID   `json:"id"`
	DisplayName  string                  `json:"display_name"`
	BaseURL      string                  `json:"base_url"`
	DefaultModel string                  `json:"default_model"`
	ImageModel   string                  `json:"image_model,omitempty"`
	Local        bool                    `json:"local,omitempty"`
	Capabilities []capability.Capability `json:"capabilities,omitempty"`
}

// ProbeResult is the outcome of a local-inference detection probe. A failed
// or timed-out probe yields Detected=false with a reason; it is never a
// hard error.
type ProbeResult struct {
	Detected     bool                    `json:"detected"`
	Endpoint     string                  `json:"endpoint"`
	Models       []string                `json:"models,omitempty"`
	Capabilities []capability.Capability `json:"capabilities,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	CheckedAt    time.Time               `json:"checked_at"`
}

// ProviderView is the API-facing merge of a catalog entry with the user's
// stored settings. Credential carries only the masked preview.
type ProviderView struct {
	Provider      capability.ProviderID   `json:"provider"`
	DisplayName   string                  `json:"display_name"`
	Enabled       bool                    `json:"enabled"`
	Local         bool                    `json:"local,omitempty"`
	HasCredential bool                    `json:"has_credential"`
	Credential    string                  `json:"credential,omitempty"`
	DefaultModel  string                  `json:"default_model,omitempty"`
	Capabilities  []capability.Capability `json:"capabilities"`
	Ceiling       []capability.Capability `json:"available_capabilities"`
	UpdatedAt     *time.Time              `json:"updated_at,omitempty"`
}

// MaskCredential returns the preview form of a secret: first 3 and last 4
// characters around the mask marker. Short secrets are fully masked so the
// preview never reconstructs them.
func MaskCredential(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) < 12 {
		return CredentialMaskMarker
	}
	return credential[:3] + CredentialMaskMarker + credential[len(credential)-4:]
}
