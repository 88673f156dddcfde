package jobs

import (
	"context"
	"log"
	"time"

	"agentdeck/internal/models"
	"agentdeck/internal/services"
)

// RetentionCleanupJob trims conversation logs past a configured message
// count and expires old error entries, so long-lived instances do not grow
// without bound. A maxMessages of zero disables log trimming; an errorMaxAge
// of zero disables error expiry.
type RetentionCleanupJob struct {
	workspace   *services.WorkspaceService
	maxMessages int
	errorMaxAge time.Duration
}

// NewRetentionCleanupJob creates the retention cleanup job.
func NewRetentionCleanupJob(workspace *services.WorkspaceService, maxMessages int, errorMaxAge time.Duration) *RetentionCleanupJob {
	return &RetentionCleanupJob{
		workspace:   workspace,
		maxMessages: maxMessages,
		errorMaxAge: errorMaxAge,
	}
}

func (j *RetentionCleanupJob) Name() string { return "retention-cleanup" }

// Run walks all instances and rewrites the ones whose logs or errors exceed
// the retention limits.
func (j *RetentionCleanupJob) Run(ctx context.Context) error {
	if j.maxMessages <= 0 && j.errorMaxAge <= 0 {
		return nil
	}

	now := time.Now()
	errorCutoff := now.Add(-j.errorMaxAge)
	trimmed := 0
	pruned := 0

	for _, inst := range j.workspace.ListInstances() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Skip recently active instances; a trim could race an in-flight
		// append between this read and the save below.
		if now.Sub(inst.UpdatedAt) < 10*time.Minute {
			continue
		}

		changed := false
		if j.maxMessages > 0 && len(inst.Config.Logs) > j.maxMessages {
			inst.Config.Logs = inst.Config.Logs[len(inst.Config.Logs)-j.maxMessages:]
			trimmed++
			changed = true
		}
		if j.errorMaxAge > 0 && len(inst.Config.Errors) > 0 {
			kept := make([]models.ErrorEntry, 0, len(inst.Config.Errors))
			for _, e := range inst.Config.Errors {
				if e.Timestamp.After(errorCutoff) {
					kept = append(kept, e)
				}
			}
			if len(kept) != len(inst.Config.Errors) {
				pruned += len(inst.Config.Errors) - len(kept)
				inst.Config.Errors = kept
				changed = true
			}
		}
		if !changed {
			continue
		}

		inst.UpdatedAt = now
		if err := j.workspace.SaveInstance(ctx, inst); err != nil {
			log.Printf("⚠️ [RETENTION] Failed to save instance %s: %v", inst.ID, err)
		}
	}

	if trimmed > 0 || pruned > 0 {
		log.Printf("[RETENTION] Cleanup complete: trimmed logs on %d instance(s), expired %d error(s)", trimmed, pruned)
	}
	return nil
}
