// Package app wires the bot host together and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/bothost/internal/config"
	"github.com/edgard/bothost/internal/journal"
	"github.com/edgard/bothost/internal/manager"
	"github.com/edgard/bothost/internal/provider"
	"github.com/edgard/bothost/internal/sandbox"
	"github.com/edgard/bothost/internal/scheduler"
	"github.com/edgard/bothost/internal/scheduler/tasks"
	"github.com/edgard/bothost/internal/session"
)

// App owns the manager, the scheduler and the optional journal.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	manager   *manager.Manager
	control   *manager.Control
	scheduler *scheduler.Scheduler
}

// New builds every component from cfg. prov is the messaging provider the
// bots connect through.
func New(cfg *config.Config, prov provider.Provider, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	a := &App{logger: log.With("component", "app"), cfg: cfg}

	var (
		recorder journal.Recorder = journal.Nop{}
		pruner   tasks.Pruner
	)
	if cfg.Journal.Enabled {
		db, err := journal.NewDB(cfg.Journal.Path, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		store := journal.NewStore(db, log)
		a.db, recorder, pruner = db, store, store
	}

	executor := sandbox.NewExecutor(sandbox.Config{
		Timeout:        cfg.Sandbox.Timeout,
		InterruptGrace: cfg.Sandbox.InterruptGrace,
		MaxReplies:     cfg.Sandbox.MaxReplies,
		MaxReplyLength: cfg.Sandbox.MaxReplyLength,
		MaxAbandoned:   cfg.Sandbox.MaxAbandoned,
	}, log)

	a.manager = manager.New(manager.Config{
		Session: session.Config{
			VerifyOnStart:  cfg.Provider.VerifyOnStart,
			StopTimeout:    cfg.Lifecycle.StopTimeout,
			ConnectRetries: cfg.Lifecycle.ConnectRetries,
			ConnectBackoff: cfg.Lifecycle.ConnectBackoff,
			MaxConcurrent:  cfg.Sandbox.MaxConcurrent,
			ReplyTimeout:   cfg.Sandbox.Timeout,
			PingAck:        cfg.Messages.PingAck,
			PingResultFmt:  cfg.Messages.PingResultFmt,
		},
		DefaultStart:    cfg.Messages.DefaultStart,
		MaxSourceLength: cfg.Sandbox.MaxSourceLength,
	}, manager.Deps{
		Provider: prov,
		Executor: executor,
		Journal:  recorder,
		Logger:   log,
	})
	a.control = manager.NewControl(a.manager)

	sched, err := scheduler.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:  log,
		Manager: a.manager,
		Journal: pruner,
		Config:  cfg,
	}))
	if err != nil {
		journal.CloseDB(a.db, log)
		return nil, err
	}
	a.scheduler = sched

	return a, nil
}

// Manager returns the bot registry.
func (a *App) Manager() *manager.Manager {
	return a.manager
}

// Control returns the control facade handed to the API layer.
func (a *App) Control() *manager.Control {
	return a.control
}

// Run registers the configured bots, starts the scheduler and blocks until
// ctx is cancelled. On the way out every bot is stopped and the journal
// closed.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting bot host...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.bootstrap(gCtx)
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Bot host stopped due to error", "error", err)
		return err
	}
	a.logger.Info("Bot host stopped gracefully")
	return nil
}

func (a *App) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Lifecycle.StopTimeout+time.Second)
	defer cancel()

	if err := a.manager.StopAll(stopCtx); err != nil {
		a.logger.Error("Error stopping bots", "error", err)
	}
	journal.CloseDB(a.db, a.logger)
}

// bootstrap registers the bots declared in the configuration. A bot that
// fails to register or start is logged and skipped.
func (a *App) bootstrap(ctx context.Context) {
	for _, b := range a.cfg.Bots {
		log := a.logger.With("name", b.Name)

		id, err := a.manager.Register(ctx, b.Token, b.Name)
		if err != nil {
			log.Error("Failed to register configured bot", "error", err)
			continue
		}
		for trigger, source := range b.Commands {
			if err := a.manager.SetCommand(ctx, id, trigger, source); err != nil {
				log.Error("Failed to set configured command", "bot_id", id, "trigger", trigger, "error", err)
			}
		}
		if !b.Autostart {
			continue
		}
		if err := a.manager.Start(ctx, id); err != nil {
			log.Error("Failed to start configured bot", "bot_id", id, "error", err)
		}
	}
}
