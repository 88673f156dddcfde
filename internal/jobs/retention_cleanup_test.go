package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"agentdeck/internal/database"
	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

func newTestWorkspace(t *testing.T) *services.WorkspaceService {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to initialize database: %v", err)
	}

	ws := services.NewWorkspaceService(services.NewDeviceStore(db), nil)
	if err := ws.OnAuthChange(context.Background(), ""); err != nil {
		t.Fatalf("failed to load workspace: %v", err)
	}
	return ws
}

func seedInstance(t *testing.T, ws *services.WorkspaceService, inst models.Instance) models.Instance {
	t.Helper()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if err := ws.SaveInstance(context.Background(), inst); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}
	return inst
}

func chatLog(n int) []models.ChatMessage {
	out := make([]models.ChatMessage, n)
	for i := range out {
		out[i] = models.ChatMessage{
			ID:        fmt.Sprintf("m%d", i),
			Sender:    models.SenderUser,
			Text:      fmt.Sprintf("msg-%d", i),
			Timestamp: time.Now(),
		}
	}
	return out
}

func TestRetentionTrimsLogsAndExpiresErrors(t *testing.T) {
	ws := newTestWorkspace(t)
	now := time.Now()

	idle := seedInstance(t, ws, models.Instance{
		Name:      "Idle",
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now.Add(-time.Hour),
		Config: models.InstanceConfig{
			Logs: chatLog(30),
			Errors: []models.ErrorEntry{
				{ID: "stale", Message: "old failure", Timestamp: now.Add(-48 * time.Hour)},
				{ID: "fresh", Message: "recent failure", Timestamp: now.Add(-time.Hour)},
			},
		},
	})
	active := seedInstance(t, ws, models.Instance{
		Name:      "Active",
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now,
		Config:    models.InstanceConfig{Logs: chatLog(30)},
	})

	job := NewRetentionCleanupJob(ws, 10, 24*time.Hour)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, err := ws.GetInstance(idle.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if len(got.Config.Logs) != 10 {
		t.Fatalf("idle instance keeps %d messages, want 10", len(got.Config.Logs))
	}
	// The newest messages survive, the oldest are dropped.
	if got.Config.Logs[0].Text != "msg-20" || got.Config.Logs[9].Text != "msg-29" {
		t.Errorf("kept range %q..%q, want msg-20..msg-29", got.Config.Logs[0].Text, got.Config.Logs[9].Text)
	}
	if len(got.Config.Errors) != 1 || got.Config.Errors[0].ID != "fresh" {
		t.Errorf("kept errors = %+v, want only the fresh one", got.Config.Errors)
	}
	if !got.UpdatedAt.After(idle.UpdatedAt) {
		t.Error("rewrite did not advance the instance's update time")
	}

	// Recently active instances are left alone entirely.
	got, err = ws.GetInstance(active.ID)
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if len(got.Config.Logs) != 30 {
		t.Errorf("active instance trimmed to %d messages, want untouched 30", len(got.Config.Logs))
	}
}

func TestRetentionDisabledIsANoOp(t *testing.T) {
	ws := newTestWorkspace(t)
	now := time.Now()

	inst := seedInstance(t, ws, models.Instance{
		Name:      "Idle",
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now.Add(-time.Hour),
		Config:    models.InstanceConfig{Logs: chatLog(30)},
	})

	if err := NewRetentionCleanupJob(ws, 0, 0).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got, _ := ws.GetInstance(inst.ID)
	if len(got.Config.Logs) != 30 {
		t.Errorf("disabled job trimmed logs to %d", len(got.Config.Logs))
	}
}
