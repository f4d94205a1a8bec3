// Package manager is the registry of hosted bots and the only component the
// control layer talks to. Each bot has its own lock serializing lifecycle
// operations; the registry lock is held only for map access, never across
// provider I/O.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/bothost/internal/commands"
	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/internal/journal"
	"github.com/edgard/bothost/internal/logger"
	"github.com/edgard/bothost/internal/provider"
	"github.com/edgard/bothost/internal/sandbox"
	"github.com/edgard/bothost/internal/session"
)

// BotInfo is the listing view of a bot.
type BotInfo struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	State session.State `json:"state"`
}

// Config tunes the manager and the sessions it creates.
type Config struct {
	Session         session.Config
	DefaultStart    string
	MaxSourceLength int
}

// Deps are the collaborators shared by every bot.
type Deps struct {
	Provider provider.Provider
	Executor *sandbox.Executor
	Journal  journal.Recorder
	Logger   *slog.Logger
}

type entry struct {
	mu      sync.Mutex // serializes start, stop and remove
	id      string
	name    string
	table   *commands.Table
	session *session.Session
	removed bool
}

func (e *entry) info() BotInfo {
	return BotInfo{ID: e.id, Name: e.name, State: e.session.State()}
}

// Manager owns every hosted bot.
type Manager struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	validate *validator.Validate
	newID    func() string

	mu   sync.RWMutex
	bots map[string]*entry
}

// DefaultBotName is used when a bot is registered without a name.
const DefaultBotName = "Unnamed"

type registerInput struct {
	Token string `validate:"required"`
	Name  string `validate:"required,max=64"`
}

type commandInput struct {
	Trigger string `validate:"required,command"`
}

var commandName = regexp.MustCompile(`^/[A-Za-z0-9_]{1,32}$`)

// New creates an empty manager.
func New(cfg Config, deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if cfg.MaxSourceLength <= 0 {
		cfg.MaxSourceLength = 64 * 1024
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("command", func(fl validator.FieldLevel) bool {
		return commandName.MatchString(fl.Field().String())
	})

	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With("component", "manager"),
		validate: v,
		newID:    uuid.NewString,
		bots:     make(map[string]*entry),
	}
}

// Register verifies token with the provider and admits a new stopped bot.
// Nothing is registered unless the provider accepts the credential. A blank
// name becomes DefaultBotName.
func (m *Manager) Register(ctx context.Context, token, name string) (string, error) {
	in := registerInput{Token: strings.TrimSpace(token), Name: strings.TrimSpace(name)}
	if in.Name == "" {
		in.Name = DefaultBotName
	}
	if err := m.validate.Struct(in); err != nil {
		return "", errs.Validation("invalid bot registration", err)
	}

	identity, err := m.deps.Provider.VerifyCredential(ctx, in.Token)
	if err != nil {
		m.logger.Warn("Credential rejected, bot not registered", "name", in.Name, "error", err)
		return "", err
	}

	m.mu.Lock()
	id := m.allocateIDLocked()
	table := commands.NewTable(m.cfg.DefaultStart)
	m.bots[id] = &entry{
		id:    id,
		name:  in.Name,
		table: table,
		session: session.New(id, in.Token, table, m.cfg.Session, session.Deps{
			Provider: m.deps.Provider,
			Executor: m.deps.Executor,
			Journal:  m.deps.Journal,
			Logger:   m.deps.Logger,
		}),
	}
	m.mu.Unlock()

	m.deps.Journal.Record(ctx, journal.Event{BotID: id, Kind: journal.KindRegistered, Detail: in.Name})
	m.logger.Info("Bot registered", "bot_id", id, "name", in.Name, "username", identity.Username)
	return id, nil
}

// allocateIDLocked returns an id no current record uses.
func (m *Manager) allocateIDLocked() string {
	for {
		id := m.newID()
		if _, taken := m.bots[id]; !taken {
			return id
		}
		m.logger.Warn("Bot id collision, allocating another", "bot_id", id)
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.bots[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound(id)
	}
	return e, nil
}

// lock returns the entry for id with its lock held. The caller must unlock.
func (m *Manager) lock(id string) (*entry, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, errs.NotFound(id)
	}
	return e, nil
}

// Start connects bot id. Starting a running bot replaces its session's
// connection; concurrent calls are serialized so at most one connection
// ever exists.
func (m *Manager) Start(ctx context.Context, id string) error {
	e, err := m.lock(id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	return e.session.Start(ctx)
}

// Stop disconnects bot id. Stopping a stopped bot succeeds.
func (m *Manager) Stop(ctx context.Context, id string) error {
	e, err := m.lock(id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	e.session.Stop(ctx)
	return nil
}

// Remove stops bot id and forgets it together with its commands.
func (m *Manager) Remove(ctx context.Context, id string) error {
	e, err := m.lock(id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	e.session.Stop(ctx)
	e.removed = true

	m.mu.Lock()
	delete(m.bots, id)
	m.mu.Unlock()

	m.deps.Journal.Record(ctx, journal.Event{BotID: id, Kind: journal.KindRemoved})
	m.logger.Info("Bot removed", "bot_id", id)
	return nil
}

// SetCommand stores source under trigger for bot id. A running bot uses it
// from its next message on. Source that does not compile is still stored;
// the failure is reported in the chat when the command runs. Empty source
// is a handler that does nothing.
func (m *Manager) SetCommand(ctx context.Context, id, trigger, source string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	in := commandInput{Trigger: commands.Canonical(trigger)}
	if err := m.validate.Struct(in); err != nil {
		return errs.Validation("invalid command", err)
	}
	if len(source) > m.cfg.MaxSourceLength {
		return errs.Validation("handler source too long", nil)
	}
	if m.deps.Executor != nil {
		if err := m.deps.Executor.Check(source); err != nil {
			m.logger.Warn("Stored handler does not compile", "bot_id", id, "trigger", in.Trigger, "error", err)
		}
	}

	e.table.Set(in.Trigger, source)
	m.deps.Journal.Record(ctx, journal.Event{BotID: id, Kind: journal.KindCommandSet, Trigger: in.Trigger})
	m.logger.Debug("Command set", "bot_id", id, "trigger", in.Trigger)
	return nil
}

// RemoveCommand deletes trigger from bot id. Unknown bots and absent
// triggers are no-ops.
func (m *Manager) RemoveCommand(ctx context.Context, id, trigger string) error {
	e, err := m.lookup(id)
	if err != nil {
		m.logger.Debug("Remove command for unknown bot ignored", "bot_id", id)
		return nil
	}

	key := commands.Canonical(trigger)
	if e.table.Remove(key) {
		m.deps.Journal.Record(ctx, journal.Event{BotID: id, Kind: journal.KindCommandRemoved, Trigger: key})
	}
	return nil
}

// Get returns the listing view of bot id.
func (m *Manager) Get(id string) (BotInfo, error) {
	e, err := m.lookup(id)
	if err != nil {
		return BotInfo{}, err
	}
	return e.info(), nil
}

// List returns every bot ordered by name, then id.
func (m *Manager) List() []BotInfo {
	entries := m.snapshot()
	out := make([]BotInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListCommands returns bot id's user commands. Unknown ids yield an empty
// map.
func (m *Manager) ListCommands(id string) map[string]string {
	e, err := m.lookup(id)
	if err != nil {
		return map[string]string{}
	}
	return e.table.Snapshot()
}

func (m *Manager) snapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.bots))
	for _, e := range m.bots {
		out = append(out, e)
	}
	return out
}

// StopAll stops every bot concurrently.
func (m *Manager) StopAll(ctx context.Context) error {
	entries := m.snapshot()
	m.logger.Info("Stopping all bots", "count", len(entries))

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.removed {
				e.session.Stop(ctx)
			}
			return nil
		})
	}
	return g.Wait()
}

// RevalidateRunning re-checks the credential of every running bot and stops
// those the provider now rejects. It returns how many were stopped. Bots
// whose check could not reach the provider are left running.
func (m *Manager) RevalidateRunning(ctx context.Context) (int, error) {
	var (
		mu      sync.Mutex
		stopped int
		failed  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, e := range m.snapshot() {
		if e.session.State() != session.StateRunning {
			continue
		}
		g.Go(func() error {
			err := e.session.Verify(gctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, errs.ErrInvalidCredential):
			default:
				m.logger.Warn("Credential check inconclusive", "bot_id", e.id, "error", err)
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
				return nil
			}

			e.mu.Lock()
			defer e.mu.Unlock()
			if e.removed {
				return nil
			}
			e.session.Stop(gctx)
			m.deps.Journal.Record(gctx, journal.Event{BotID: e.id, Kind: journal.KindCredentialRevoked, Detail: err.Error()})
			m.logger.Warn("Credential revoked, bot stopped", "bot_id", e.id)

			mu.Lock()
			stopped++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return stopped, errors.Join(failed...)
}
