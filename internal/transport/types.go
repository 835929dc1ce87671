package transport

import (
	"context"
	"errors"
)

// ErrBlocked is reported by adapters when the recipient has blocked the bot
// (or their account is gone). The broadcast engine prunes such recipients.
var ErrBlocked = errors.New("recipient blocked the bot")

// ErrNotFound is reported by ResolveUsername when the username cannot be
// resolved to a platform identity.
var ErrNotFound = errors.New("user not found")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// Forward is set when the message was forwarded from another user.
	Forward *ForwardOrigin
}

// ForwardOrigin identifies the original sender of a forwarded message.
type ForwardOrigin struct {
	UserID    int64
	Username  string
	FirstName string
}

type Callback struct {
	ID        string
	ChatID    int64
	FromID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// UserRef is a resolved platform identity.
type UserRef struct {
	ID        int64
	Username  string
	FirstName string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error

	// ResolveUsername maps a public @username to a platform identity.
	// Returns ErrNotFound when the user is unknown or never messaged the bot.
	ResolveUsername(ctx context.Context, username string) (UserRef, error)
}
