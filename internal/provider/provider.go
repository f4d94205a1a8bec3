// Package provider defines the boundary between the bot host and the
// external messaging platform. The host depends only on these interfaces;
// internal/provider/telegram implements them with go-telegram/bot.
package provider

import (
	"context"
	"strings"
)

// Identity is what the provider reports for a valid credential.
type Identity struct {
	ID        int64
	Username  string
	FirstName string
}

// Provider verifies credentials and opens connections.
type Provider interface {
	// VerifyCredential asks the provider who token belongs to. It returns an
	// error matching errs.ErrInvalidCredential when the provider rejects the
	// token and errs.ErrConnectionFault when the provider could not be asked.
	VerifyCredential(ctx context.Context, token string) (*Identity, error)

	// Dial prepares a connection for token without receiving traffic yet.
	// botID scopes the connection's logs.
	Dial(ctx context.Context, token, botID string) (Conn, error)
}

// Conn is one live provider connection.
type Conn interface {
	// OnMessage sets the handler for inbound command messages. It must be
	// called before Connect.
	OnMessage(h MessageHandler)

	// Connect starts receiving updates. It returns once the connection is
	// established; delivery continues in the background.
	Connect(ctx context.Context) error

	// Disconnect stops receiving updates and waits, bounded by ctx, for the
	// receive loop to finish. Calling it twice is safe.
	Disconnect(ctx context.Context) error
}

// MessageHandler is invoked for every inbound command message. ctx is
// cancelled when the connection is disconnected.
type MessageHandler func(ctx context.Context, msg *Message)

// Replier sends a text reply into the chat a message came from. Reply
// returns once the provider acknowledged the send.
type Replier interface {
	Reply(ctx context.Context, text string) error
}

// Sender describes who sent a message.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
}

// Message is one inbound command message.
type Message struct {
	ID      int
	ChatID  int64
	From    Sender
	Text    string
	Trigger string // canonical "/name" form
	Args    []string

	Replier Replier
}

// Reply sends text back to the message's chat.
func (m *Message) Reply(ctx context.Context, text string) error {
	return m.Replier.Reply(ctx, text)
}

// ParseCommand splits a command message into its trigger and arguments.
// "/greet@HostBot a b" yields ("/greet", ["a", "b"], true). Text that is not
// a command yields ok=false.
func ParseCommand(text string) (trigger string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return "/" + name, fields[1:], true
}
