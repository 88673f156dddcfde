package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

func TestOrphanCleanupDeletesOldDetachedInstances(t *testing.T) {
	ws := newTestWorkspace(t)
	now := time.Now()

	attached := seedInstance(t, ws, models.Instance{
		Name:      "Attached",
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-48 * time.Hour),
	})
	if err := ws.SaveNode(context.Background(), models.CanvasNode{
		ID:         uuid.NewString(),
		InstanceID: attached.ID,
		CreatedAt:  now.Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("SaveNode failed: %v", err)
	}

	oldOrphan := seedInstance(t, ws, models.Instance{
		Name:      "Old Orphan",
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-48 * time.Hour),
	})
	freshOrphan := seedInstance(t, ws, models.Instance{
		Name:      "Fresh Orphan",
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	})

	agents := services.NewAgentService(ws, nil)
	if err := NewOrphanCleanupJob(agents, ws).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := ws.GetInstance(oldOrphan.ID); err == nil {
		t.Error("old orphan survived cleanup")
	}
	if _, err := ws.GetInstance(attached.ID); err != nil {
		t.Errorf("attached instance was deleted: %v", err)
	}
	if _, ok := ws.NodeForInstance(attached.ID); !ok {
		t.Error("attached instance lost its node")
	}
	if _, err := ws.GetInstance(freshOrphan.ID); err != nil {
		t.Errorf("fresh orphan was deleted: %v", err)
	}
}
