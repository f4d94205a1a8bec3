package tasks

import (
	"context"
	"fmt"
	"time"
)

// newCredentialCheckTask stops running bots whose credential the provider
// no longer accepts.
func newCredentialCheckTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "credential_check")

	return func(ctx context.Context) error {
		startTime := time.Now()

		stopped, err := deps.Manager.RevalidateRunning(ctx)
		if stopped > 0 {
			log.WarnContext(ctx, "Stopped bots with revoked credentials", "stopped", stopped)
		}
		if err != nil {
			return fmt.Errorf("credential check incomplete: %w", err)
		}

		log.DebugContext(ctx, "Credential check completed", "duration", time.Since(startTime))
		return nil
	}
}
