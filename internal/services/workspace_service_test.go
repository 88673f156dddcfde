package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentdeck/internal/capability"
	"agentdeck/internal/models"

	"github.com/google/uuid"
)

func putAgent(t *testing.T, ws *WorkspaceService, name string) models.Agent {
	t.Helper()
	now := time.Now()
	agent := models.Agent{
		ID:   uuid.New().String(),
		Name: name,
		Config: models.AgentConfig{
			Provider: capability.ProviderGemini,
			Model:    "gemini-2.0-flash",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ws.SaveAgent(context.Background(), agent); err != nil {
		t.Fatalf("SaveAgent failed: %v", err)
	}
	return agent
}

func putInstance(t *testing.T, ws *WorkspaceService, agentID, name string, createdAt time.Time) models.Instance {
	t.Helper()
	inst := models.Instance{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Name:      name,
		Config:    models.FromAgent(models.AgentConfig{Provider: capability.ProviderGemini}),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := ws.SaveInstance(context.Background(), inst); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}
	return inst
}

func putNode(t *testing.T, ws *WorkspaceService, instanceID string) models.CanvasNode {
	t.Helper()
	node := models.CanvasNode{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		CreatedAt:  time.Now(),
	}
	if err := ws.SaveNode(context.Background(), node); err != nil {
		t.Fatalf("SaveNode failed: %v", err)
	}
	return node
}

func TestAuthTransitionWipesScope(t *testing.T) {
	ctx := context.Background()
	guestDB := setupTestDB(t)
	accountDB := setupTestDB(t)

	factory := func(userID string) AgentStore { return NewDeviceStore(accountDB) }
	ws := NewWorkspaceService(NewDeviceStore(guestDB), factory)
	if err := ws.OnAuthChange(ctx, ""); err != nil {
		t.Fatalf("initial guest load failed: %v", err)
	}

	guestAgent := putAgent(t, ws, "Guest Helper")
	putInstance(t, ws, guestAgent.ID, "Guest Copy", time.Now())

	if err := ws.OnAuthChange(ctx, "user-1"); err != nil {
		t.Fatalf("transition to account scope failed: %v", err)
	}
	if ws.UserID() != "user-1" {
		t.Errorf("UserID = %q after login, want user-1", ws.UserID())
	}
	if n := len(ws.ListAgents()); n != 0 {
		t.Fatalf("account scope sees %d guest agents, want 0", n)
	}
	if n := len(ws.ListInstances()); n != 0 {
		t.Fatalf("account scope sees %d guest instances, want 0", n)
	}

	putAgent(t, ws, "Account Helper")

	// Back to guest: the guest data is intact and nothing leaked across.
	if err := ws.OnAuthChange(ctx, ""); err != nil {
		t.Fatalf("transition back to guest failed: %v", err)
	}
	agents := ws.ListAgents()
	if len(agents) != 1 || agents[0].Name != "Guest Helper" {
		t.Fatalf("guest scope = %+v, want only Guest Helper", agents)
	}
	if n := len(ws.ListInstances()); n != 1 {
		t.Errorf("guest scope has %d instances, want 1", n)
	}

	// And the account scope kept exactly its own record: a wipe-and-reload,
	// never a merge.
	if err := ws.OnAuthChange(ctx, "user-1"); err != nil {
		t.Fatalf("second account transition failed: %v", err)
	}
	agents = ws.ListAgents()
	if len(agents) != 1 || agents[0].Name != "Account Helper" {
		t.Fatalf("account scope = %+v, want only Account Helper", agents)
	}
}

func TestUpdateInstanceConfigDiscardsCallerRuntime(t *testing.T) {
	ws := setupWorkspace(t)
	ctx := context.Background()

	agent := putAgent(t, ws, "Keeper")
	inst := putInstance(t, ws, agent.ID, "Keeper Copy", time.Now().Add(-time.Hour))
	if err := ws.AppendMessages(ctx, inst.ID,
		models.ChatMessage{ID: "m1", Sender: models.SenderUser, Text: "hello", Timestamp: time.Now()},
		models.ChatMessage{ID: "m2", Sender: models.SenderAgent, Text: "hi", Timestamp: time.Now()},
	); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}
	if err := ws.AppendInstanceError(ctx, inst.ID, "transient vendor failure"); err != nil {
		t.Fatalf("AppendInstanceError failed: %v", err)
	}

	// The incoming payload smuggles its own runtime fields; all of them must
	// be discarded in favor of the instance's own.
	incoming := models.InstanceConfig{
		AgentConfig: models.AgentConfig{
			Provider:     capability.ProviderAnthropic,
			Model:        "claude-sonnet-4-0",
			SystemPrompt: "new prompt",
		},
		Logs:   []models.ChatMessage{{ID: "injected", Text: "fake history"}},
		Errors: []models.ErrorEntry{},
		Tasks:  []models.TaskEntry{{ID: "t9", Text: "fake task"}},
	}
	updated, err := ws.UpdateInstanceConfig(ctx, inst.ID, incoming)
	if err != nil {
		t.Fatalf("UpdateInstanceConfig failed: %v", err)
	}

	if updated.Config.Provider != capability.ProviderAnthropic || updated.Config.SystemPrompt != "new prompt" {
		t.Error("config fields were not replaced")
	}
	if len(updated.Config.Logs) != 2 || updated.Config.Logs[0].Text != "hello" {
		t.Errorf("logs = %+v, want the original two messages", updated.Config.Logs)
	}
	if len(updated.Config.Errors) != 1 {
		t.Errorf("errors = %+v, want the original entry", updated.Config.Errors)
	}
	if len(updated.Config.Tasks) != 0 {
		t.Errorf("tasks = %+v, want the original empty list", updated.Config.Tasks)
	}
	if !updated.UpdatedAt.After(inst.UpdatedAt) {
		t.Error("UpdatedAt was not bumped")
	}
}

func TestReplaceLogsLeavesOtherRuntimeAlone(t *testing.T) {
	ws := setupWorkspace(t)
	ctx := context.Background()

	agent := putAgent(t, ws, "Trimmed")
	inst := putInstance(t, ws, agent.ID, "Trimmed Copy", time.Now().Add(-time.Hour))
	if err := ws.AppendMessages(ctx, inst.ID,
		models.ChatMessage{ID: "m1", Sender: models.SenderUser, Text: "one", Timestamp: time.Now()},
		models.ChatMessage{ID: "m2", Sender: models.SenderAgent, Text: "two", Timestamp: time.Now()},
		models.ChatMessage{ID: "m3", Sender: models.SenderUser, Text: "three", Timestamp: time.Now()},
	); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}
	if err := ws.AppendInstanceError(ctx, inst.ID, "kept error"); err != nil {
		t.Fatalf("AppendInstanceError failed: %v", err)
	}

	if err := ws.ReplaceLogs(ctx, inst.ID, []models.ChatMessage{
		{ID: "m3", Sender: models.SenderUser, Text: "three", Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("ReplaceLogs failed: %v", err)
	}

	got, err := ws.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if len(got.Config.Logs) != 1 || got.Config.Logs[0].Text != "three" {
		t.Errorf("logs = %+v, want just the retained tail", got.Config.Logs)
	}
	if len(got.Config.Errors) != 1 || got.Config.Errors[0].Message != "kept error" {
		t.Errorf("errors = %+v, want the original entry untouched", got.Config.Errors)
	}
	if got.Name != "Trimmed Copy" || got.Config.Provider != capability.ProviderGemini {
		t.Error("ReplaceLogs touched non-log fields")
	}
}

func TestAgentImpactCountsOnlyAttachedInstances(t *testing.T) {
	ws := setupWorkspace(t)

	agent := putAgent(t, ws, "Measured")
	attached1 := putInstance(t, ws, agent.ID, "First", time.Now().Add(-3*time.Hour))
	attached2 := putInstance(t, ws, agent.ID, "Second", time.Now().Add(-2*time.Hour))
	orphan := putInstance(t, ws, agent.ID, "Orphan", time.Now().Add(-time.Hour))
	putNode(t, ws, attached1.ID)
	putNode(t, ws, attached2.ID)

	// An unrelated prototype's instance must not bleed into the count.
	other := putAgent(t, ws, "Unrelated")
	bystander := putInstance(t, ws, other.ID, "Bystander", time.Now())
	putNode(t, ws, bystander.ID)

	impact, err := ws.AgentImpact(agent.ID)
	if err != nil {
		t.Fatalf("AgentImpact failed: %v", err)
	}
	if impact.InstanceCount != 2 {
		t.Fatalf("InstanceCount = %d, want 2", impact.InstanceCount)
	}
	if impact.Instances[0].ID != attached1.ID || impact.Instances[1].ID != attached2.ID {
		t.Errorf("impact order = [%s %s], want creation order", impact.Instances[0].Name, impact.Instances[1].Name)
	}
	for _, inst := range impact.Instances {
		if inst.ID == orphan.ID {
			t.Error("orphan instance counted toward impact")
		}
	}

	if _, err := ws.AgentImpact("missing"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("AgentImpact(missing) error = %v, want ErrAgentNotFound", err)
	}
}

func TestListInstancesSortedByCreation(t *testing.T) {
	ws := setupWorkspace(t)
	agent := putAgent(t, ws, "Ordered")

	now := time.Now()
	third := putInstance(t, ws, agent.ID, "third", now.Add(-time.Hour))
	first := putInstance(t, ws, agent.ID, "first", now.Add(-3*time.Hour))
	second := putInstance(t, ws, agent.ID, "second", now.Add(-2*time.Hour))

	got := ws.ListInstances()
	want := []string{first.ID, second.ID, third.ID}
	if len(got) != len(want) {
		t.Fatalf("ListInstances returned %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("ListInstances[%d] = %s, want %s", i, got[i].Name, id)
		}
	}
}

func TestListInstancesReturnsClones(t *testing.T) {
	ws := setupWorkspace(t)
	agent := putAgent(t, ws, "Cloned")
	inst := putInstance(t, ws, agent.ID, "Copy", time.Now())
	if err := ws.AppendMessages(context.Background(), inst.ID,
		models.ChatMessage{ID: "m1", Sender: models.SenderUser, Text: "original", Timestamp: time.Now()},
	); err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	leaked := ws.ListInstances()[0]
	leaked.Config.Logs[0].Text = "tampered"
	leaked.Config.SystemPrompt = "tampered"

	got, err := ws.GetInstance(inst.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if got.Config.Logs[0].Text != "original" || got.Config.SystemPrompt != "" {
		t.Error("mutating a listed instance reached the workspace state")
	}
}
