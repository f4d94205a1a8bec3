package tasks

import (
	"context"
	"fmt"
)

// newJournalPruneTask deletes journal events older than the configured
// retention.
func newJournalPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "journal_prune")

	return func(ctx context.Context) error {
		retention := deps.Config.Journal.Retention

		deleted, err := deps.Journal.Prune(ctx, retention)
		if err != nil {
			return fmt.Errorf("journal prune failed: %w", err)
		}

		log.InfoContext(ctx, "Journal pruned", "deleted", deleted, "retention", retention)
		return nil
	}
}
