// Package tasks implements the host's scheduled maintenance tasks.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgard/bothost/internal/config"
)

// ScheduledTaskFunc is the signature of every scheduled task. It should
// return promptly once ctx is cancelled.
type ScheduledTaskFunc func(ctx context.Context) error

// Revalidator re-checks the credentials of running bots.
type Revalidator interface {
	RevalidateRunning(ctx context.Context) (int, error)
}

// Pruner deletes old journal events.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TaskDeps contains the dependencies of scheduled tasks. Journal is nil
// when the journal is disabled.
type TaskDeps struct {
	Logger  *slog.Logger
	Manager Revalidator
	Journal Pruner
	Config  *config.Config
}

// RegisterAllTasks returns every task keyed by the name used in the
// scheduler section of the configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	tasks := map[string]ScheduledTaskFunc{
		"credential_check": newCredentialCheckTask(deps),
	}
	if deps.Journal != nil {
		tasks["journal_prune"] = newJournalPruneTask(deps)
	}

	deps.Logger.Debug("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
