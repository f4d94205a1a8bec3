// Package providertest is an in-memory messaging provider for tests. It
// counts live connections per token so tests can assert the one-session
// invariant, and records every reply per chat.
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/edgard/bothost/internal/errs"
	"github.com/edgard/bothost/internal/provider"
)

// ErrNotConnected is returned by Deliver when no connection is live for
// the token.
var ErrNotConnected = errors.New("providertest: token has no live connection")

// Provider implements provider.Provider in memory.
type Provider struct {
	mu           sync.Mutex
	identities   map[string]*provider.Identity
	live         map[string]*Conn
	active       map[string]int
	maxActive    map[string]int
	dials        map[string]int
	connectFails int
	verifyFails  int
	replies      map[int64][]string
	held         map[string]chan struct{}
	nextID       int64
}

// New returns an empty provider that accepts no tokens.
func New() *Provider {
	return &Provider{
		identities: make(map[string]*provider.Identity),
		live:       make(map[string]*Conn),
		active:     make(map[string]int),
		maxActive:  make(map[string]int),
		dials:      make(map[string]int),
		replies:    make(map[int64][]string),
		held:       make(map[string]chan struct{}),
	}
}

// HoldReplies makes every reply with exactly text block, ignoring its
// context, until the returned func is called. It stands in for a call that
// cannot be interrupted.
func (p *Provider) HoldReplies(text string) (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.held[text] = ch
	p.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// AddToken makes token valid.
func (p *Provider) AddToken(token, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.identities[token] = &provider.Identity{ID: p.nextID, Username: username, FirstName: username}
}

// RevokeToken makes token invalid from now on.
func (p *Provider) RevokeToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.identities, token)
}

// FailConnects makes the next n Connect calls fail with a transport error.
func (p *Provider) FailConnects(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectFails = n
}

// FailVerifies makes the next n VerifyCredential calls fail as if the
// provider were unreachable.
func (p *Provider) FailVerifies(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyFails = n
}

// VerifyCredential implements provider.Provider.
func (p *Provider) VerifyCredential(ctx context.Context, token string) (*provider.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.ConnectionFault("verify credential", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifyFails > 0 {
		p.verifyFails--
		return nil, errs.ConnectionFault("verify credential", errors.New("provider unreachable"))
	}
	id, ok := p.identities[token]
	if !ok {
		return nil, errs.InvalidCredential(errors.New("unauthorized"))
	}
	cp := *id
	return &cp, nil
}

// Dial implements provider.Provider.
func (p *Provider) Dial(_ context.Context, token, _ string) (provider.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dials[token]++
	return &Conn{p: p, token: token}, nil
}

// Active returns the number of live connections for token.
func (p *Provider) Active(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active[token]
}

// MaxActive returns the highest number of simultaneous live connections
// ever observed for token.
func (p *Provider) MaxActive(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive[token]
}

// Dials returns how many connections were dialed for token.
func (p *Provider) Dials(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials[token]
}

// Replies returns the replies sent to chatID so far.
func (p *Provider) Replies(chatID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.replies[chatID]...)
}

// Deliver sends text from chatID to the live connection for token and
// waits for the handler to return. Non-command text is dropped as a real
// provider connection would.
func (p *Provider) Deliver(token string, chatID int64, text string) error {
	p.mu.Lock()
	c := p.live[token]
	p.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.deliver(chatID, text)
}

// Conn implements provider.Conn.
type Conn struct {
	p     *Provider
	token string

	mu        sync.Mutex
	handler   provider.MessageHandler
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
	msgID     int
}

// OnMessage implements provider.Conn.
func (c *Conn) OnMessage(h provider.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect implements provider.Conn.
func (c *Conn) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.ConnectionFault("connect", err)
	}

	c.p.mu.Lock()
	if c.p.connectFails > 0 {
		c.p.connectFails--
		c.p.mu.Unlock()
		return errs.ConnectionFault("connect", errors.New("connection reset"))
	}
	c.p.active[c.token]++
	if c.p.active[c.token] > c.p.maxActive[c.token] {
		c.p.maxActive[c.token] = c.p.active[c.token]
	}
	c.p.live[c.token] = c
	c.p.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return nil
}

// Disconnect implements provider.Conn.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.cancel()
	c.mu.Unlock()

	c.p.mu.Lock()
	c.p.active[c.token]--
	if c.p.live[c.token] == c {
		delete(c.p.live, c.token)
	}
	c.p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.ConnectionFault("disconnect", ctx.Err())
	}
}

func (c *Conn) deliver(chatID int64, text string) error {
	c.mu.Lock()
	if !c.connected || c.handler == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.msgID++
	id := c.msgID
	h, hctx := c.handler, c.ctx
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	trigger, args, ok := provider.ParseCommand(text)
	if !ok {
		return nil
	}
	h(hctx, &provider.Message{
		ID:      id,
		ChatID:  chatID,
		From:    provider.Sender{ID: chatID, Username: "tester"},
		Text:    text,
		Trigger: trigger,
		Args:    args,
		Replier: &replier{p: c.p, chatID: chatID},
	})
	return nil
}

type replier struct {
	p      *Provider
	chatID int64
}

func (r *replier) Reply(ctx context.Context, text string) error {
	r.p.mu.Lock()
	hold := r.p.held[text]
	r.p.mu.Unlock()
	if hold != nil {
		<-hold
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	r.p.replies[r.chatID] = append(r.p.replies[r.chatID], text)
	return nil
}
