package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/database"
	"agentdeck/internal/llm"
	"agentdeck/internal/models"
)

const testCatalog = `{
  "providers": [
    {"id": "gemini", "display_name": "Google Gemini", "default_model": "gemini-2.0-flash"},
    {"id": "anthropic", "display_name": "Anthropic", "default_model": "claude-sonnet-4-0"},
    {"id": "ollama", "display_name": "Ollama", "base_url": "http://localhost:11434/v1", "default_model": "llama3.2", "local": true}
  ]
}`

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return db
}

func setupWorkspace(t *testing.T) *WorkspaceService {
	t.Helper()
	ws := NewWorkspaceService(NewDeviceStore(setupTestDB(t)), nil)
	if err := ws.OnAuthChange(context.Background(), ""); err != nil {
		t.Fatalf("Failed to load guest scope: %v", err)
	}
	return ws
}

func writeCatalogFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write catalog file: %v", err)
	}
	return path
}

func setupCatalog(t *testing.T, content string) *ConfigService {
	t.Helper()
	config := NewConfigService(writeCatalogFile(t, content))
	if err := config.Load(); err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	return config
}

// testStack wires the full service graph on an in-memory device store, the
// way main wires it for a guest session.
type testStack struct {
	workspace  *WorkspaceService
	config     *ConfigService
	dispatcher *llm.Dispatcher
	providers  *ProviderService
	chat       *ChatService
	agents     *AgentService
	canvas     *CanvasService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	ws := setupWorkspace(t)
	config := setupCatalog(t, testCatalog)
	dispatcher := llm.NewDispatcher(config.Endpoints())
	providers := NewProviderService(ws, config, dispatcher)
	chat := NewChatService(ws, providers, config, dispatcher, time.Minute)
	return &testStack{
		workspace:  ws,
		config:     config,
		dispatcher: dispatcher,
		providers:  providers,
		chat:       chat,
		agents:     NewAgentService(ws, chat),
		canvas:     NewCanvasService(ws, chat),
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestProviderViewDefaultsWithoutRecord(t *testing.T) {
	st := newTestStack(t)

	view, err := st.providers.Get(capability.ProviderGemini)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.Enabled {
		t.Error("provider with no stored record reported enabled")
	}
	if view.HasCredential || view.Credential != "" {
		t.Error("provider with no stored record reported a credential")
	}
	if view.UpdatedAt != nil {
		t.Error("provider with no stored record carries an UpdatedAt")
	}
	if view.DisplayName != "Google Gemini" {
		t.Errorf("DisplayName = %q, want catalog value", view.DisplayName)
	}
	if view.DefaultModel != "gemini-2.0-flash" {
		t.Errorf("DefaultModel = %q, want catalog value", view.DefaultModel)
	}
	if !reflect.DeepEqual(view.Capabilities, view.Ceiling) {
		t.Errorf("default capabilities %v differ from ceiling %v", view.Capabilities, view.Ceiling)
	}
}

func TestProviderListFollowsCatalogOrder(t *testing.T) {
	st := newTestStack(t)

	views := st.providers.List()
	want := []capability.ProviderID{
		capability.ProviderGemini,
		capability.ProviderAnthropic,
		capability.ProviderOllama,
	}
	if len(views) != len(want) {
		t.Fatalf("List returned %d providers, want %d", len(views), len(want))
	}
	for i, id := range want {
		if views[i].Provider != id {
			t.Errorf("List[%d] = %q, want %q", i, views[i].Provider, id)
		}
	}
	if !views[2].Local {
		t.Error("ollama entry lost its local flag")
	}
}

func TestProviderGetUnknownRejected(t *testing.T) {
	st := newTestStack(t)

	if _, err := st.providers.Get(capability.ProviderID("skynet")); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Get(skynet) error = %v, want ErrUnknownProvider", err)
	}
}

func TestCredentialMaskedProtocol(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()
	plain := "sk-agentdeck-live-0123456789abcdef"

	view, err := st.providers.Update(ctx, capability.ProviderGemini, models.ProviderSettingsUpdate{
		Enabled:    boolPtr(true),
		Credential: strPtr(plain),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !view.HasCredential {
		t.Fatal("HasCredential false after storing a credential")
	}
	if view.Credential == plain {
		t.Fatal("view leaked the plaintext credential")
	}
	if view.Credential != models.MaskCredential(plain) {
		t.Errorf("masked credential = %q, want %q", view.Credential, models.MaskCredential(plain))
	}
	if !strings.Contains(view.Credential, models.CredentialMaskMarker) {
		t.Errorf("masked credential %q lacks the mask marker", view.Credential)
	}
	if got := st.providers.Credential(capability.ProviderGemini); got != plain {
		t.Errorf("internal credential = %q, want the stored plaintext", got)
	}

	// Sending the masked preview back keeps the existing secret.
	if _, err := st.providers.Update(ctx, capability.ProviderGemini, models.ProviderSettingsUpdate{
		Credential: strPtr(view.Credential),
	}); err != nil {
		t.Fatalf("masked round-trip update failed: %v", err)
	}
	if got := st.providers.Credential(capability.ProviderGemini); got != plain {
		t.Errorf("masked round-trip replaced the secret with %q", got)
	}

	// The bare marker means keep as well.
	if _, err := st.providers.Update(ctx, capability.ProviderGemini, models.ProviderSettingsUpdate{
		Credential: strPtr(models.CredentialMaskMarker),
	}); err != nil {
		t.Fatalf("bare marker update failed: %v", err)
	}
	if got := st.providers.Credential(capability.ProviderGemini); got != plain {
		t.Errorf("bare marker update replaced the secret with %q", got)
	}

	// An absent field touches nothing.
	if _, err := st.providers.Update(ctx, capability.ProviderGemini, models.ProviderSettingsUpdate{
		Enabled: boolPtr(false),
	}); err != nil {
		t.Fatalf("credential-less update failed: %v", err)
	}
	if got := st.providers.Credential(capability.ProviderGemini); got != plain {
		t.Errorf("credential-less update replaced the secret with %q", got)
	}

	// An explicit empty string deletes.
	view, err = st.providers.Update(ctx, capability.ProviderGemini, models.ProviderSettingsUpdate{
		Credential: strPtr(""),
	})
	if err != nil {
		t.Fatalf("credential delete failed: %v", err)
	}
	if view.HasCredential || view.Credential != "" {
		t.Error("credential survived an explicit empty-string update")
	}
	if got := st.providers.Credential(capability.ProviderGemini); got != "" {
		t.Errorf("internal credential = %q after delete, want empty", got)
	}
}

func TestShortCredentialFullyMasked(t *testing.T) {
	st := newTestStack(t)

	_, err := st.providers.Update(context.Background(), capability.ProviderGroq, models.ProviderSettingsUpdate{
		Credential: strPtr("tiny-key"),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	view, err := st.providers.Get(capability.ProviderGroq)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.Credential != models.CredentialMaskMarker {
		t.Errorf("short credential preview = %q, want the bare marker", view.Credential)
	}
}

func TestCapabilityToggleOutsideCeilingRejected(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	// web_search is not in anthropic's ceiling.
	_, err := st.providers.Update(ctx, capability.ProviderAnthropic, models.ProviderSettingsUpdate{
		Capabilities: map[capability.Capability]bool{capability.WebSearch: true},
	})
	if !errors.Is(err, ErrInvalidCapability) {
		t.Errorf("toggle-on outside ceiling: error = %v, want ErrInvalidCapability", err)
	}

	_, err = st.providers.Update(ctx, capability.ProviderAnthropic, models.ProviderSettingsUpdate{
		Capabilities: map[capability.Capability]bool{capability.Capability("warp_drive"): true},
	})
	if !errors.Is(err, ErrInvalidCapability) {
		t.Errorf("unknown capability: error = %v, want ErrInvalidCapability", err)
	}

	// Rejected updates must not leave a partial record behind.
	if _, ok := st.workspace.GetProviderSettings(capability.ProviderAnthropic); ok {
		t.Error("rejected update persisted provider settings")
	}

	// Toggling a capability off is always allowed, ceiling or not.
	if _, err := st.providers.Update(ctx, capability.ProviderAnthropic, models.ProviderSettingsUpdate{
		Capabilities: map[capability.Capability]bool{capability.WebSearch: false},
	}); err != nil {
		t.Errorf("toggle-off outside ceiling rejected: %v", err)
	}
}

func TestFirstToggleSeedsFullCeiling(t *testing.T) {
	st := newTestStack(t)

	view, err := st.providers.Update(context.Background(), capability.ProviderGemini, models.ProviderSettingsUpdate{
		Capabilities: map[capability.Capability]bool{capability.WebSearch: false},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	enabled := capability.NewSet(view.Capabilities...)
	if enabled.Has(capability.WebSearch) {
		t.Error("web_search still enabled after toggling it off")
	}
	// Untouched capabilities keep their default-on state.
	for _, c := range []capability.Capability{capability.Chat, capability.Streaming, capability.Vision} {
		if !enabled.Has(c) {
			t.Errorf("capability %s lost its default-on state after first toggle", c)
		}
	}
	if st.providers.CapabilityEnabled(capability.ProviderGemini, capability.WebSearch) {
		t.Error("CapabilityEnabled reports web_search on after toggle-off")
	}
	if !st.providers.CapabilityEnabled(capability.ProviderGemini, capability.Vision) {
		t.Error("CapabilityEnabled reports vision off without a toggle")
	}
}

func TestCatalogNarrowingReclampsStoredToggles(t *testing.T) {
	ctx := context.Background()
	ws := setupWorkspace(t)
	path := writeCatalogFile(t, testCatalog)
	config := NewConfigService(path)
	if err := config.Load(); err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	providers := NewProviderService(ws, config, llm.NewDispatcher(config.Endpoints()))

	// Seed stored toggles under the full ceiling, web_search included.
	if _, err := providers.Update(ctx, capability.ProviderGemini, models.ProviderSettingsUpdate{
		Capabilities: map[capability.Capability]bool{capability.Vision: true},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	view, _ := providers.Get(capability.ProviderGemini)
	if !capability.NewSet(view.Capabilities...).Has(capability.WebSearch) {
		t.Fatal("full-ceiling seed did not include web_search")
	}

	narrowed := `{
  "providers": [
    {"id": "gemini", "display_name": "Google Gemini", "default_model": "gemini-2.0-flash",
     "capabilities": ["chat", "streaming", "vision"]}
  ]
}`
	if err := os.WriteFile(path, []byte(narrowed), 0644); err != nil {
		t.Fatalf("Failed to rewrite catalog: %v", err)
	}
	if err := config.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	view, err := providers.Get(capability.ProviderGemini)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	enabled := capability.NewSet(view.Capabilities...)
	if enabled.Has(capability.WebSearch) {
		t.Error("narrowed catalog still exposes a stored web_search toggle")
	}
	for _, c := range []capability.Capability{capability.Chat, capability.Streaming, capability.Vision} {
		if !enabled.Has(c) {
			t.Errorf("capability %s missing after catalog narrowing", c)
		}
	}
	if len(view.Ceiling) != 3 {
		t.Errorf("ceiling has %d capabilities after narrowing, want 3", len(view.Ceiling))
	}
	if providers.CapabilityEnabled(capability.ProviderGemini, capability.WebSearch) {
		t.Error("CapabilityEnabled ignores the narrowed ceiling")
	}
}

func TestProviderDeleteResetsToCatalogDefaults(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	if _, err := st.providers.Update(ctx, capability.ProviderAnthropic, models.ProviderSettingsUpdate{
		Enabled:    boolPtr(true),
		Credential: strPtr("sk-ant-REDACTED"),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := st.providers.Delete(ctx, capability.ProviderAnthropic); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	view, err := st.providers.Get(capability.ProviderAnthropic)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.Enabled || view.HasCredential || view.UpdatedAt != nil {
		t.Error("Delete did not revert the provider to catalog defaults")
	}

	// Deleting settings that were never saved is not an error.
	if err := st.providers.Delete(ctx, capability.ProviderAnthropic); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}
