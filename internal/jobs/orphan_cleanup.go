package jobs

import (
	"context"
	"log"
	"time"

	"agentdeck/internal/services"
)

// orphanMaxAge is how long an instance may exist without a canvas node
// before cleanup reclaims it. Placement creates the node in the same call,
// so a nodeless instance this old is leftover from a failed placement.
const orphanMaxAge = 24 * time.Hour

// OrphanCleanupJob deletes instances that never made it onto the canvas.
type OrphanCleanupJob struct {
	agents    *services.AgentService
	workspace *services.WorkspaceService
}

// NewOrphanCleanupJob creates the orphan cleanup job.
func NewOrphanCleanupJob(agents *services.AgentService, workspace *services.WorkspaceService) *OrphanCleanupJob {
	return &OrphanCleanupJob{agents: agents, workspace: workspace}
}

func (j *OrphanCleanupJob) Name() string { return "orphan-instance-cleanup" }

// Run scans all instances and removes the ones with no canvas node that
// are older than orphanMaxAge.
func (j *OrphanCleanupJob) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-orphanMaxAge)
	deleted := 0

	for _, inst := range j.workspace.ListInstances() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, attached := j.workspace.NodeForInstance(inst.ID); attached {
			continue
		}
		if inst.CreatedAt.After(cutoff) {
			continue
		}

		if err := j.agents.DeleteInstance(ctx, inst.ID); err != nil {
			log.Printf("⚠️ [CLEANUP] Failed to delete orphaned instance %s: %v", inst.ID, err)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Printf("🗑️ [CLEANUP] Deleted %d orphaned instance(s)", deleted)
	}
	return nil
}
