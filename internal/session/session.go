// Package session owns one hosted bot's live provider connection. A Session
// moves between Stopped and Running, dispatches every inbound command to the
// bot's command table and runs the resolved handler in the sandbox.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/edgard/bothost/internal/commands"
	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/internal/journal"
	"github.com/edgard/bothost/internal/logger"
	"github.com/edgard/bothost/internal/provider"
	"github.com/edgard/bothost/internal/resilience"
	"github.com/edgard/bothost/internal/sandbox"
)

// State is a session's lifecycle state.
type State string

const (
	StateStopped State = "Stopped"
	StateRunning State = "Running"
)

// Config tunes a session.
type Config struct {
	// VerifyOnStart re-checks the credential before every Start.
	VerifyOnStart bool
	// StopTimeout bounds how long Stop waits for the connection and
	// in-flight handlers to drain.
	StopTimeout time.Duration
	// ConnectRetries is how many times a failed connect is retried.
	ConnectRetries int
	ConnectBackoff time.Duration
	// MaxConcurrent bounds simultaneous handler runs for this bot.
	MaxConcurrent int64
	// ReplyTimeout bounds each built-in reply.
	ReplyTimeout  time.Duration
	PingAck       string
	PingResultFmt string
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Provider provider.Provider
	Executor *sandbox.Executor
	Journal  journal.Recorder
	Logger   *slog.Logger
}

// generation is one Running period. Handlers started under it are
// cancelled and awaited when it ends.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// enter registers a handler run. It fails once the generation has ended.
func (g *generation) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.inflight.Add(1)
	return true
}

// end cancels the generation and returns a channel closed when every
// registered run has left.
func (g *generation) end() <-chan struct{} {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()

	drained := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(drained)
	}()
	return drained
}

// Session is the live side of one bot.
type Session struct {
	botID string
	token string
	table *commands.Table
	cfg   Config

	provider provider.Provider
	executor *sandbox.Executor
	journal  journal.Recorder
	logger   *slog.Logger
	sem      *semaphore.Weighted

	mu      sync.Mutex // serializes Start and Stop
	conn    provider.Conn
	gen     *generation
	running atomic.Bool
}

// New creates a stopped session for botID. table is read on every inbound
// message, so changes to it apply without a restart.
func New(botID, token string, table *commands.Table, cfg Config, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	if cfg.PingAck == "" {
		cfg.PingAck = "🏓 Pong!"
	}
	if cfg.PingResultFmt == "" {
		cfg.PingResultFmt = "Round-trip: %d ms"
	}

	return &Session{
		botID:    botID,
		token:    token,
		table:    table,
		cfg:      cfg,
		provider: deps.Provider,
		executor: deps.Executor,
		journal:  deps.Journal,
		logger:   deps.Logger.With("component", "session", "bot_id", botID),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// BotID returns the id of the bot this session serves.
func (s *Session) BotID() string {
	return s.botID
}

// State reports the current lifecycle state without waiting for an
// in-progress Start or Stop.
func (s *Session) State() State {
	if s.running.Load() {
		return StateRunning
	}
	return StateStopped
}

// Verify asks the provider whether the session's credential is still valid.
func (s *Session) Verify(ctx context.Context) error {
	_, err := s.provider.VerifyCredential(ctx, s.token)
	return err
}

// Start connects the bot. A Running session is torn down and reconnected,
// so at most one connection exists afterwards. If the credential check
// fails the previous state is kept; if connecting fails the session ends
// Stopped.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.VerifyOnStart {
		if err := s.Verify(ctx); err != nil {
			s.logger.Warn("Credential check failed, not starting", "error", err)
			if errors.Is(err, errs.ErrInvalidCredential) {
				s.journal.Record(ctx, journal.Event{BotID: s.botID, Kind: journal.KindCredentialRevoked, Detail: err.Error()})
			}
			return err
		}
	}

	if s.conn != nil {
		s.logger.Info("Restarting running session")
		s.stopLocked(ctx)
	}

	gen := &generation{}
	gen.ctx, gen.cancel = context.WithCancel(context.Background())

	var conn provider.Conn
	err := resilience.WithRetry(ctx, func(ctx context.Context) error {
		c, err := s.connect(ctx, gen)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, resilience.RetryConfig{
		MaxAttempts:     s.cfg.ConnectRetries + 1,
		InitialInterval: s.cfg.ConnectBackoff,
		Multiplier:      2,
		RandomFactor:    0.1,
		Retryable: func(err error) bool {
			return errors.Is(err, errs.ErrConnectionFault)
		},
	})
	if err != nil {
		gen.cancel()
		s.logger.Error("Failed to start session", "error", err)
		return err
	}

	s.conn, s.gen = conn, gen
	s.running.Store(true)
	s.journal.Record(ctx, journal.Event{BotID: s.botID, Kind: journal.KindStarted})
	s.logger.Info("Session running")
	return nil
}

func (s *Session) connect(ctx context.Context, gen *generation) (provider.Conn, error) {
	conn, err := s.provider.Dial(ctx, s.token, s.botID)
	if err != nil {
		return nil, asConnectionFault("dial failed", err)
	}

	conn.OnMessage(func(mctx context.Context, msg *provider.Message) {
		s.handle(mctx, gen, msg)
	})

	if err := conn.Connect(ctx); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
		defer cancel()
		if dErr := conn.Disconnect(cleanupCtx); dErr != nil {
			s.logger.Warn("Failed to clean up after connect failure", "error", dErr)
		}
		return nil, asConnectionFault("connect failed", err)
	}
	return conn, nil
}

func asConnectionFault(msg string, err error) error {
	if errs.Code(err) != errs.CodeUnknown {
		return err
	}
	return errs.ConnectionFault(msg, err)
}

// Stop disconnects the bot, cancelling in-flight handlers. Stopping a
// stopped session is a no-op.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return
	}
	s.stopLocked(ctx)
}

// stopLocked always leaves the session Stopped; drain problems are logged.
func (s *Session) stopLocked(ctx context.Context) {
	conn, gen := s.conn, s.gen
	s.conn, s.gen = nil, nil
	s.running.Store(false)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
	defer cancel()

	drained := gen.end()
	if err := conn.Disconnect(stopCtx); err != nil {
		s.logger.Warn("Connection did not disconnect cleanly", "error", err)
	}

	select {
	case <-drained:
	case <-stopCtx.Done():
		s.logger.Warn("Handlers still running after stop timeout", "timeout", s.cfg.StopTimeout)
	}

	s.journal.Record(ctx, journal.Event{BotID: s.botID, Kind: journal.KindStopped})
	s.logger.Info("Session stopped")
}

// handle runs on the provider's delivery goroutine for one message.
func (s *Session) handle(mctx context.Context, gen *generation, msg *provider.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in message handler", "panic", r, "trigger", msg.Trigger)
		}
	}()

	ctx, cancel := context.WithCancel(mctx)
	defer cancel()
	stopWatch := context.AfterFunc(gen.ctx, cancel)
	defer stopWatch()

	if !gen.enter() {
		return
	}
	defer gen.inflight.Done()

	trigger := commands.Canonical(msg.Trigger)
	h, ok := s.table.Get(trigger)
	if !ok && trigger != commands.TriggerPing {
		s.logger.Debug("Ignoring unknown trigger", "trigger", trigger)
		return
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}

	if !ok {
		defer s.sem.Release(1)
		s.ping(ctx, msg)
		return
	}

	// The slot is returned by the executor once the handler's runtime has
	// really exited, which for a runtime that ignored interruption is after
	// Execute returns.
	err := s.executor.Execute(ctx, sandbox.Invocation{
		BotID:   s.botID,
		Trigger: trigger,
		Source:  h.Source,
		Message: msg,
		Release: func() { s.sem.Release(1) },
	})
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrExecutionTimeout):
		s.journal.Record(ctx, journal.Event{BotID: s.botID, Kind: journal.KindHandlerTimeout, Trigger: trigger, Detail: err.Error()})
	case errors.Is(err, errs.ErrHandlerFault):
		s.journal.Record(ctx, journal.Event{BotID: s.botID, Kind: journal.KindHandlerFault, Trigger: trigger, Detail: err.Error()})
	default:
		s.logger.Debug("Handler did not finish", "trigger", trigger, "error", err)
	}
}

// ping replies with the ack, waits for the provider to accept it, then
// reports how long that took.
func (s *Session) ping(ctx context.Context, msg *provider.Message) {
	replyCtx, cancel := context.WithTimeout(ctx, s.cfg.ReplyTimeout)
	defer cancel()

	sent := time.Now()
	if err := msg.Reply(replyCtx, s.cfg.PingAck); err != nil {
		s.logger.Warn("Failed to send ping ack", "error", err)
		return
	}
	rtt := time.Since(sent).Milliseconds()

	if err := msg.Reply(replyCtx, fmt.Sprintf(s.cfg.PingResultFmt, rtt)); err != nil {
		s.logger.Warn("Failed to send ping result", "error", err)
	}
}
