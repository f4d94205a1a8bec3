package manager

import (
	"context"
	"log/slog"
)

// Result is the acknowledgement shape returned to the control layer.
type Result struct {
	OK bool `json:"ok"`
}

// RegisterResult carries the new bot's id when registration succeeded.
type RegisterResult struct {
	ID string `json:"id,omitempty"`
	OK bool   `json:"ok"`
}

// Control adapts the Manager to the boolean result shapes the control layer
// serves. Errors are logged here and reduced to ok=false.
type Control struct {
	m      *Manager
	logger *slog.Logger
}

// NewControl wraps m.
func NewControl(m *Manager) *Control {
	return &Control{m: m, logger: m.logger.With("component", "control")}
}

func (c *Control) result(op, id string, err error) Result {
	if err != nil {
		c.logger.Info("Control operation failed", "op", op, "bot_id", id, "error", err)
		return Result{}
	}
	return Result{OK: true}
}

// Register admits a bot.
func (c *Control) Register(ctx context.Context, token, name string) RegisterResult {
	id, err := c.m.Register(ctx, token, name)
	if err != nil {
		c.logger.Info("Control operation failed", "op", "register", "name", name, "error", err)
		return RegisterResult{}
	}
	return RegisterResult{ID: id, OK: true}
}

// Start starts bot id.
func (c *Control) Start(ctx context.Context, id string) Result {
	return c.result("start", id, c.m.Start(ctx, id))
}

// Stop stops bot id.
func (c *Control) Stop(ctx context.Context, id string) Result {
	return c.result("stop", id, c.m.Stop(ctx, id))
}

// Remove removes bot id.
func (c *Control) Remove(ctx context.Context, id string) Result {
	return c.result("remove", id, c.m.Remove(ctx, id))
}

// SetCommand stores a handler for bot id.
func (c *Control) SetCommand(ctx context.Context, id, trigger, source string) Result {
	return c.result("set_command", id, c.m.SetCommand(ctx, id, trigger, source))
}

// RemoveCommand deletes a handler from bot id.
func (c *Control) RemoveCommand(ctx context.Context, id, trigger string) Result {
	return c.result("remove_command", id, c.m.RemoveCommand(ctx, id, trigger))
}

// List returns every bot.
func (c *Control) List() []BotInfo {
	return c.m.List()
}

// ListCommands returns bot id's commands.
func (c *Control) ListCommands(id string) map[string]string {
	return c.m.ListCommands(id)
}
