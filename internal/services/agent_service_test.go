package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"
)

func TestCreateAgentValidation(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		agent   string
		config  models.AgentConfig
		wantErr error
	}{
		{
			name:    "empty name",
			agent:   "   ",
			config:  models.AgentConfig{Provider: capability.ProviderGemini},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown provider",
			agent:   "Bot",
			config:  models.AgentConfig{Provider: capability.ProviderID("made-up")},
			wantErr: ErrUnknownProvider,
		},
		{
			name:  "capability outside provider ceiling",
			agent: "Bot",
			config: models.AgentConfig{
				Provider:     capability.ProviderAnthropic,
				Capabilities: []capability.Capability{capability.ImageGeneration},
			},
			wantErr: ErrInvalidInput,
		},
		{
			name:  "unnamed tool",
			agent: "Bot",
			config: models.AgentConfig{
				Provider: capability.ProviderGemini,
				Tools:    []models.Tool{{Name: "  "}},
			},
			wantErr: ErrInvalidInput,
		},
		{
			name:  "code format without language",
			agent: "Bot",
			config: models.AgentConfig{
				Provider: capability.ProviderGemini,
				Format:   models.FormatConfig{Enabled: true, Target: models.FormatCode},
			},
			wantErr: ErrInvalidInput,
		},
		{
			name:  "unknown format target",
			agent: "Bot",
			config: models.AgentConfig{
				Provider: capability.ProviderGemini,
				Format:   models.FormatConfig{Enabled: true, Target: "toml"},
			},
			wantErr: ErrInvalidInput,
		},
		{
			name:  "unknown summarization unit",
			agent: "Bot",
			config: models.AgentConfig{
				Provider:  capability.ProviderGemini,
				Summarize: models.SummarizeConfig{Enabled: true, Unit: "paragraphs", Limit: 5},
			},
			wantErr: ErrInvalidInput,
		},
		{
			name:  "non-positive summarization limit",
			agent: "Bot",
			config: models.AgentConfig{
				Provider:  capability.ProviderGemini,
				Summarize: models.SummarizeConfig{Enabled: true, Unit: models.UnitMessages, Limit: 0},
			},
			wantErr: ErrInvalidInput,
		},
		{
			name:  "unknown summarization provider",
			agent: "Bot",
			config: models.AgentConfig{
				Provider:  capability.ProviderGemini,
				Summarize: models.SummarizeConfig{Enabled: true, Unit: models.UnitMessages, Limit: 5, Provider: "hal9000"},
			},
			wantErr: ErrUnknownProvider,
		},
	}

	for _, tc := range cases {
		_, err := st.agents.CreateAgent(ctx, tc.agent, "", tc.config)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("%s: error = %v, want %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestCreateAgentDefaultsProvider(t *testing.T) {
	st := newTestStack(t)

	agent, err := st.agents.CreateAgent(context.Background(), "Defaulted", "helper", models.AgentConfig{})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	if agent.Config.Provider != capability.DefaultProvider {
		t.Errorf("Provider = %q, want default %q", agent.Config.Provider, capability.DefaultProvider)
	}
	if agent.Role != "helper" {
		t.Errorf("Role = %q, want helper", agent.Role)
	}
}

func TestCreateAgentClonesCallerConfig(t *testing.T) {
	st := newTestStack(t)

	cfg := models.AgentConfig{
		Provider: capability.ProviderGemini,
		Tools: []models.Tool{{
			Name:       "getWeather",
			Parameters: map[string]any{"type": "object"},
		}},
	}
	agent, err := st.agents.CreateAgent(context.Background(), "Cloner", "", cfg)
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	// The caller still holds the schema map; mutating it must not reach the
	// stored prototype.
	cfg.Tools[0].Parameters["type"] = "mutated"

	got, err := st.agents.Get(agent.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Config.Tools[0].Parameters["type"] != "object" {
		t.Error("stored prototype shares the caller's schema map")
	}
}

func TestUpdateAgentLeavesInstancesUntouched(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	agent, err := st.agents.CreateAgent(ctx, "Researcher", "", models.AgentConfig{
		Provider:     capability.ProviderGemini,
		Model:        "gemini-2.0-flash",
		SystemPrompt: "be thorough",
	})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	inst1, _, err := st.agents.CreateInstance(ctx, agent.ID, models.Position{X: 10, Y: 20}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	inst2, _, err := st.agents.CreateInstance(ctx, agent.ID, models.Position{X: 30, Y: 40}, "Second")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	before1, _ := st.agents.GetInstance(inst1.ID)
	before2, _ := st.agents.GetInstance(inst2.ID)

	newCfg := agent.Config
	newCfg.Model = "gemini-2.5-pro"
	newCfg.SystemPrompt = "be brief"
	if _, err := st.agents.UpdateAgent(ctx, agent.ID, models.AgentPatch{
		Name:   strPtr("Researcher v2"),
		Config: &newCfg,
	}); err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	after1, _ := st.agents.GetInstance(inst1.ID)
	after2, _ := st.agents.GetInstance(inst2.ID)
	if !reflect.DeepEqual(before1, after1) {
		t.Errorf("instance %s changed after prototype update:\nbefore %+v\nafter  %+v", inst1.ID, before1, after1)
	}
	if !reflect.DeepEqual(before2, after2) {
		t.Errorf("instance %s changed after prototype update", inst2.ID)
	}
}

func TestPrototypeRenameRoundTrip(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	agent, err := st.agents.CreateAgent(ctx, "Weather Bot", "assistant", models.AgentConfig{
		Provider:     capability.ProviderGemini,
		Model:        "gemini-2.0-flash",
		SystemPrompt: "be terse",
		Tools: []models.Tool{{
			Name:        "getWeather",
			Description: "Fetch the forecast for a city",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	inst, node, err := st.agents.CreateInstance(ctx, agent.ID, models.Position{X: 0, Y: 0}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if inst.Name != "Weather Bot" {
		t.Fatalf("instance name = %q, want the prototype name at placement", inst.Name)
	}
	if node.InstanceID != inst.ID {
		t.Fatalf("node points at %q, want %q", node.InstanceID, inst.ID)
	}

	if _, err := st.agents.UpdateAgent(ctx, agent.ID, models.AgentPatch{Name: strPtr("Weather Bot v2")}); err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	updated, _ := st.agents.Get(agent.ID)
	if updated.Name != "Weather Bot v2" {
		t.Errorf("prototype name = %q, want Weather Bot v2", updated.Name)
	}

	got, err := st.agents.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if got.Name != "Weather Bot" {
		t.Errorf("instance name = %q, want its placement-time snapshot", got.Name)
	}
	if got.Config.SystemPrompt != "be terse" {
		t.Errorf("instance prompt = %q, want its placement-time snapshot", got.Config.SystemPrompt)
	}
	if len(got.Config.Tools) != 1 || got.Config.Tools[0].Name != "getWeather" {
		t.Errorf("instance tools = %+v, want the cloned getWeather tool", got.Config.Tools)
	}
}

func TestCreateInstanceNameOverrideAndUnknownAgent(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	agent, err := st.agents.CreateAgent(ctx, "Base", "", models.AgentConfig{Provider: capability.ProviderGemini})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}

	inst, _, err := st.agents.CreateInstance(ctx, agent.ID, models.Position{X: 1, Y: 2}, "  Custom Name  ")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if inst.Name != "Custom Name" {
		t.Errorf("instance name = %q, want the trimmed override", inst.Name)
	}
	if inst.Position != (models.Position{X: 1, Y: 2}) {
		t.Errorf("instance position = %+v, want the placement position", inst.Position)
	}

	if _, _, err := st.agents.CreateInstance(ctx, "missing", models.Position{}, ""); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("CreateInstance(missing) error = %v, want ErrAgentNotFound", err)
	}
}

func TestUpdateInstanceConfigKeepsRuntime(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	agent, err := st.agents.CreateAgent(ctx, "Evolving", "", models.AgentConfig{Provider: capability.ProviderGemini})
	if err != nil {
		t.Fatalf("CreateAgent failed: %v", err)
	}
	inst, _, err := st.agents.CreateInstance(ctx, agent.ID, models.Position{}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if err := st.workspace.AppendMessages(ctx, inst.ID,
		models.ChatMessage{ID: "m1", Sender: models.SenderUser, Text: "hi"},
		models.ChatMessage{ID: "m2", Sender: models.SenderAgent, Text: "hello"},
	); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	updated, err := st.agents.UpdateInstanceConfig(ctx, inst.ID, models.InstanceConfig{
		AgentConfig: models.AgentConfig{
			Provider:     capability.ProviderAnthropic,
			Model:        "claude-sonnet-4-0",
			SystemPrompt: "switched",
		},
	})
	if err != nil {
		t.Fatalf("UpdateInstanceConfig failed: %v", err)
	}
	if updated.Config.Provider != capability.ProviderAnthropic || updated.Config.SystemPrompt != "switched" {
		t.Error("instance config was not replaced")
	}
	if len(updated.Config.Logs) != 2 {
		t.Errorf("logs = %d messages after config update, want 2", len(updated.Config.Logs))
	}

	// Validation applies on this path too.
	if _, err := st.agents.UpdateInstanceConfig(ctx, inst.ID, models.InstanceConfig{
		AgentConfig: models.AgentConfig{Provider: "nope"},
	}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("invalid provider error = %v, want ErrUnknownProvider", err)
	}
}

func TestRenameInstance(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	agent, _ := st.agents.CreateAgent(ctx, "Named", "", models.AgentConfig{Provider: capability.ProviderGemini})
	inst, _, err := st.agents.CreateInstance(ctx, agent.ID, models.Position{}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	renamed, err := st.agents.RenameInstance(ctx, inst.ID, "  Field Unit  ")
	if err != nil {
		t.Fatalf("RenameInstance failed: %v", err)
	}
	if renamed.Name != "Field Unit" {
		t.Errorf("name = %q, want the trimmed value", renamed.Name)
	}

	if _, err := st.agents.RenameInstance(ctx, inst.ID, "   "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank rename error = %v, want ErrInvalidInput", err)
	}
	if _, err := st.agents.RenameInstance(ctx, "missing", "x"); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("missing instance error = %v, want ErrInstanceNotFound", err)
	}
}

func TestDeleteAgentCascades(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	doomed, _ := st.agents.CreateAgent(ctx, "Doomed", "", models.AgentConfig{Provider: capability.ProviderGemini})
	inst1, node1, err := st.agents.CreateInstance(ctx, doomed.ID, models.Position{X: 1, Y: 1}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	inst2, node2, err := st.agents.CreateInstance(ctx, doomed.ID, models.Position{X: 2, Y: 2}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	survivor, _ := st.agents.CreateAgent(ctx, "Survivor", "", models.AgentConfig{Provider: capability.ProviderGemini})
	inst3, node3, err := st.agents.CreateInstance(ctx, survivor.ID, models.Position{X: 3, Y: 3}, "")
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	if _, err := st.canvas.CreateLink(ctx, node1.ID, node2.ID, ""); err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	// A link into the surviving agent's node goes too, because it touches a
	// deleted node.
	if _, err := st.canvas.CreateLink(ctx, node2.ID, node3.ID, ""); err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	if err := st.agents.DeleteAgent(ctx, doomed.ID); err != nil {
		t.Fatalf("DeleteAgent failed: %v", err)
	}

	if _, err := st.agents.Get(doomed.ID); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("deleted agent still resolves: %v", err)
	}
	for _, id := range []string{inst1.ID, inst2.ID} {
		if _, err := st.agents.GetInstance(id); !errors.Is(err, ErrInstanceNotFound) {
			t.Errorf("instance %s survived the cascade", id)
		}
	}
	for _, id := range []string{node1.ID, node2.ID} {
		if _, err := st.workspace.GetNode(id); !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("node %s survived the cascade", id)
		}
	}
	if links := st.workspace.ListLinks(); len(links) != 0 {
		t.Errorf("%d links survived the cascade, want 0", len(links))
	}

	// The other prototype and its deployment are untouched.
	if _, err := st.agents.Get(survivor.ID); err != nil {
		t.Errorf("surviving agent lost: %v", err)
	}
	if _, err := st.agents.GetInstance(inst3.ID); err != nil {
		t.Errorf("surviving instance lost: %v", err)
	}
	if _, err := st.workspace.GetNode(node3.ID); err != nil {
		t.Errorf("surviving node lost: %v", err)
	}
}

func TestDeleteInstanceRemovesNodeAndLinks(t *testing.T) {
	st := newTestStack(t)
	ctx := context.Background()

	agent, _ := st.agents.CreateAgent(ctx, "Pruned", "", models.AgentConfig{Provider: capability.ProviderGemini})
	inst1, node1, _ := st.agents.CreateInstance(ctx, agent.ID, models.Position{X: 1, Y: 1}, "")
	inst2, node2, _ := st.agents.CreateInstance(ctx, agent.ID, models.Position{X: 2, Y: 2}, "")
	if _, err := st.canvas.CreateLink(ctx, node1.ID, node2.ID, "feeds"); err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}

	if err := st.agents.DeleteInstance(ctx, inst1.ID); err != nil {
		t.Fatalf("DeleteInstance failed: %v", err)
	}

	if _, err := st.agents.GetInstance(inst1.ID); !errors.Is(err, ErrInstanceNotFound) {
		t.Error("deleted instance still resolves")
	}
	if _, err := st.workspace.GetNode(node1.ID); !errors.Is(err, ErrNodeNotFound) {
		t.Error("deleted instance's node still resolves")
	}
	if links := st.workspace.ListLinks(); len(links) != 0 {
		t.Errorf("%d links survived instance delete, want 0", len(links))
	}
	if _, err := st.agents.GetInstance(inst2.ID); err != nil {
		t.Errorf("sibling instance lost: %v", err)
	}
	if _, err := st.agents.Get(agent.ID); err != nil {
		t.Errorf("prototype lost on instance delete: %v", err)
	}
}
