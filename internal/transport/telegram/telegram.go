// Package telegram adapts the neutral transport interface to the Telegram Bot
// API via telebot.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"castbot/internal/transport"
	"castbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

var _ transport.Adapter = (*Adapter)(nil)

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool
	done    chan struct{}

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop; reported on Stop to avoid per-update log spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.forward(transport.Update{
			Kind:    transport.UpdateMessage,
			Message: messageFromTele(m),
		})
		return nil
	})

	// Forwards of media-only messages still identify a user to add.
	a.bot.Handle(tele.OnMedia, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Origin == nil {
			return nil
		}
		a.forward(transport.Update{
			Kind:    transport.UpdateMessage,
			Message: messageFromTele(m),
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.forward(transport.Update{
			Kind: transport.UpdateCallback,
			Callback: &transport.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      strings.TrimPrefix(cb.Data, "\f"),
			},
		})
		return nil
	})
}

func messageFromTele(m *tele.Message) *transport.Message {
	out := &transport.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}
	if m.Origin != nil && m.Origin.Sender != nil {
		s := m.Origin.Sender
		out.Forward = &transport.ForwardOrigin{
			UserID:    s.ID,
			Username:  s.Username,
			FirstName: s.FirstName,
		}
	}
	return out
}

func (a *Adapter) forward(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.done = make(chan struct{})

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer close(a.done)
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	done := a.done
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.LoadUint64(&a.droppedUpdates); n > 0 {
		a.log.Warn("incoming updates were dropped (consumer too slow)", logx.Any("count", n))
	}

	// telebot Stop is expected to be fast; keep shutdown snappy regardless.
	go a.bot.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		// Markup rides on the first chunk only.
		if i == 0 {
			if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok {
				sendOpt.ReplyMarkup = rm
			}
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, mapSendErr(err)
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok {
		sendOpt.ReplyMarkup = rm
	}
	if _, err := a.bot.Edit(m, chunks[0], sendOpt); err != nil {
		return mapSendErr(err)
	}

	// Text too long to fit the edited message: send the rest as new messages.
	chat := &tele.Chat{ID: ref.ChatID}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		restOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		if _, err := a.bot.Send(chat, chunk, restOpt); err != nil {
			return mapSendErr(err)
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text, ShowAlert: alert})
}

// ResolveUsername maps @username to a platform identity via getChat.
// Telegram only resolves users the bot can see, so unknown users and users
// who never opened a dialog both map to transport.ErrNotFound.
func (a *Adapter) ResolveUsername(ctx context.Context, username string) (transport.UserRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.UserRef{}, err
	}
	chat, err := a.bot.ChatByUsername("@" + strings.TrimPrefix(username, "@"))
	if err != nil {
		if isNotFoundErr(err) {
			return transport.UserRef{}, transport.ErrNotFound
		}
		return transport.UserRef{}, err
	}
	if chat.Type != tele.ChatPrivate {
		return transport.UserRef{}, transport.ErrNotFound
	}
	return transport.UserRef{
		ID:        chat.ID,
		Username:  chat.Username,
		FirstName: chat.FirstName,
	}, nil
}

// mapSendErr normalizes "recipient is gone" errors to transport.ErrBlocked so
// the broadcast engine can prune the roster.
func mapSendErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, tele.ErrBlockedByUser) || errors.Is(err, tele.ErrUserIsDeactivated) {
		return transport.ErrBlocked
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "blocked") || strings.Contains(msg, "deactivated") || strings.Contains(msg, "forbidden") {
		return transport.ErrBlocked
	}
	return err
}

func isNotFoundErr(err error) bool {
	if errors.Is(err, tele.ErrChatNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
