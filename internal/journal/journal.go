// Package journal keeps an append-only log of bot lifecycle and handler
// events in SQLite. It records what happened to bots, never their
// configuration.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/internal/logger"
)

// Kind names an event type.
type Kind string

const (
	KindRegistered        Kind = "registered"
	KindStarted           Kind = "started"
	KindStopped           Kind = "stopped"
	KindRemoved           Kind = "removed"
	KindCommandSet        Kind = "command_set"
	KindCommandRemoved    Kind = "command_removed"
	KindHandlerFault      Kind = "handler_fault"
	KindHandlerTimeout    Kind = "handler_timeout"
	KindCredentialRevoked Kind = "credential_revoked"
)

// Event is one journal entry.
type Event struct {
	ID        int64
	BotID     string
	Kind      Kind
	Trigger   string
	Detail    string
	CreatedAt time.Time
}

// Recorder accepts events. Recording never fails the caller; problems are
// logged by the implementation.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Event) {}

type eventRow struct {
	ID        int64  `db:"id"`
	BotID     string `db:"bot_id"`
	Kind      string `db:"kind"`
	Command   string `db:"command"`
	Detail    string `db:"detail"`
	CreatedAt int64  `db:"created_at"`
}

func (r eventRow) event() Event {
	return Event{
		ID:        r.ID,
		BotID:     r.BotID,
		Kind:      Kind(r.Kind),
		Trigger:   r.Command,
		Detail:    r.Detail,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
	}
}

// Store is the sqlx-backed journal.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore wraps an open, migrated database.
func NewStore(db *sqlx.DB, log *slog.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{db: db, logger: log.With("component", "journal"), now: time.Now}
}

// Append inserts ev. A zero CreatedAt is set to now.
func (s *Store) Append(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO bot_events (bot_id, kind, command, detail, created_at)
		VALUES (:bot_id, :kind, :command, :detail, :created_at)`,
		eventRow{
			BotID:     ev.BotID,
			Kind:      string(ev.Kind),
			Command:   ev.Trigger,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt.UnixMilli(),
		})
	if err != nil {
		return errs.Database("failed to append journal event", err)
	}
	return nil
}

// Record implements Recorder.
func (s *Store) Record(ctx context.Context, ev Event) {
	if err := s.Append(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error("Failed to record event", "bot_id", ev.BotID, "kind", ev.Kind, "error", err)
	}
}

// Recent returns up to limit events for botID, newest first. An empty
// botID returns events for every bot.
func (s *Store) Recent(ctx context.Context, botID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []eventRow
	var err error
	if botID == "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, bot_id, kind, command, detail, created_at FROM bot_events ORDER BY id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, bot_id, kind, command, detail, created_at FROM bot_events WHERE bot_id = ? ORDER BY id DESC LIMIT ?`,
			botID, limit)
	}
	if err != nil {
		return nil, errs.Database("failed to query journal", err)
	}

	out := make([]Event, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out, nil
}

// Prune deletes events older than olderThan and returns how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM bot_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errs.Database("failed to prune journal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Database("failed to count pruned events", err)
	}
	if n > 0 {
		s.logger.Info("Pruned journal", "deleted", n, "older_than", olderThan)
	}
	return n, nil
}
