// Package telegram implements the provider boundary on top of the
// go-telegram/bot library: long polling per hosted bot, command updates
// translated into provider.Message values, replies sent with SendMessage.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/internal/logger"
	"github.com/edgard/bothost/internal/provider"
	"github.com/edgard/bothost/internal/resilience"
)

// Config holds the settings shared by every hosted bot's connection.
type Config struct {
	// ServerURL overrides the Bot API endpoint; empty keeps the default.
	ServerURL       string
	PollTimeout     time.Duration
	RequestTimeout  time.Duration
	BreakerFailures int
}

// Provider implements provider.Provider for Telegram.
type Provider struct {
	cfg     Config
	logger  *slog.Logger
	breaker *resilience.CircuitBreaker
}

// New creates a Telegram provider.
func New(cfg Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		logger: log.With("component", "telegram_provider"),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "telegram_api",
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.RequestTimeout,
			Ignore: func(err error) bool {
				return errors.Is(err, errs.ErrInvalidCredential)
			},
		}),
	}
}

func (p *Provider) options(extra ...tgbot.Option) []tgbot.Option {
	opts := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithHTTPClient(p.cfg.PollTimeout, &http.Client{Timeout: p.cfg.PollTimeout + p.cfg.RequestTimeout}),
	}
	if p.cfg.ServerURL != "" {
		opts = append(opts, tgbot.WithServerURL(p.cfg.ServerURL))
	}
	return append(opts, extra...)
}

// VerifyCredential calls getMe with token. Rejections map to
// errs.ErrInvalidCredential, everything else to errs.ErrConnectionFault.
func (p *Provider) VerifyCredential(ctx context.Context, token string) (*provider.Identity, error) {
	if token == "" {
		return nil, errs.InvalidCredential(errors.New("empty token"))
	}

	b, err := tgbot.New(token, p.options()...)
	if err != nil {
		return nil, errs.InvalidCredential(err)
	}

	var me *models.User
	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		me, callErr = b.GetMe(ctx)
		return classify(callErr)
	})
	if err != nil {
		if errors.Is(err, errs.ErrInvalidCredential) || errors.Is(err, errs.ErrConnectionFault) {
			return nil, err
		}
		return nil, errs.ConnectionFault("getMe failed", err)
	}

	return &provider.Identity{ID: me.ID, Username: me.Username, FirstName: me.FirstName}, nil
}

// classify maps Bot API errors to host error kinds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tgbot.ErrorUnauthorized), errors.Is(err, tgbot.ErrorNotFound):
		return errs.InvalidCredential(err)
	default:
		return errs.ConnectionFault("telegram api call failed", err)
	}
}

// Dial builds a bot client for token. Polling starts on Connect.
func (p *Provider) Dial(_ context.Context, token, botID string) (provider.Conn, error) {
	c := &Conn{logger: p.logger.With("bot_id", botID)}

	b, err := tgbot.New(token, p.options(
		tgbot.WithMiddlewares(logger.Middleware(p.logger, botID)),
		tgbot.WithDefaultHandler(c.handleUpdate),
		tgbot.WithErrorsHandler(func(err error) {
			c.logger.Warn("Polling error", "error", err)
		}),
	)...)
	if err != nil {
		return nil, errs.ConnectionFault("failed to create telegram client", err)
	}
	c.bot = b
	return c, nil
}

// Conn is one bot's long-polling connection.
type Conn struct {
	bot    *tgbot.Bot
	logger *slog.Logger

	mu      sync.Mutex
	handler provider.MessageHandler
	cancel  context.CancelFunc
	done    chan struct{}
}

// OnMessage implements provider.Conn.
func (c *Conn) OnMessage(h provider.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect starts long polling. The poll loop runs until Disconnect.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errs.ConnectionFault("connect aborted", err)
	}

	// The poll loop outlives the caller's ctx; only Disconnect ends it.
	// Handler contexts derive from runCtx, so they end with it.
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	done := c.done
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Poll loop panicked", "panic", r)
			}
		}()
		c.bot.Start(runCtx)
	}()

	c.logger.Info("Telegram polling started")
	return nil
}

// Disconnect cancels the poll loop and waits for it to drain, bounded by ctx.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		c.logger.Info("Telegram polling stopped")
		return nil
	case <-ctx.Done():
		return errs.ConnectionFault("poll loop did not stop in time", ctx.Err())
	}
}

func (c *Conn) handleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	msg := toMessage(b, update)
	if msg == nil || h == nil {
		return
	}
	h(ctx, msg)
}

// toMessage converts a command update. Non-command updates yield nil.
func toMessage(b *tgbot.Bot, update *models.Update) *provider.Message {
	if update == nil || update.Message == nil {
		return nil
	}
	m := update.Message
	trigger, args, ok := provider.ParseCommand(m.Text)
	if !ok {
		return nil
	}

	msg := &provider.Message{
		ID:      m.ID,
		ChatID:  m.Chat.ID,
		Text:    m.Text,
		Trigger: trigger,
		Args:    args,
		Replier: &replier{bot: b, chatID: m.Chat.ID},
	}
	if m.From != nil {
		msg.From = provider.Sender{ID: m.From.ID, Username: m.From.Username, FirstName: m.From.FirstName}
	}
	return msg
}

type replier struct {
	bot    *tgbot.Bot
	chatID int64
}

func (r *replier) Reply(ctx context.Context, text string) error {
	if _, err := r.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: r.chatID, Text: text}); err != nil {
		return fmt.Errorf("send message to chat %d: %w", r.chatID, err)
	}
	return nil
}
