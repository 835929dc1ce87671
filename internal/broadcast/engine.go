// Package broadcast delivers the active message to every roster member.
//
// Delivery is strictly sequential and synchronous. The defining property of
// the engine is partial-failure isolation: one recipient's failure never
// aborts delivery to the rest. Recipients that blocked the bot are counted
// separately and deactivated in the store (self-healing roster pruning).
package broadcast

import (
	"context"
	"errors"

	"castbot/internal/store"
	"castbot/internal/transport"
	"castbot/pkg/logx"
)

// ErrNothingToSend is returned when no active message text is available.
var ErrNothingToSend = errors.New("broadcast: no message to send")

// ErrNoRecipients is returned for an empty recipient list; a zero-recipient
// broadcast is never attempted.
var ErrNoRecipients = errors.New("broadcast: no recipients")

// Sender is the injected delivery capability.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Deactivator prunes blocked recipients from the roster.
type Deactivator interface {
	DeactivateUser(ctx context.Context, id int64) error
}

// Result aggregates one broadcast run.
type Result struct {
	Sent    int
	Blocked int
}

type Engine struct {
	sender Sender
	store  Deactivator
	log    logx.Logger
}

func New(sender Sender, st Deactivator, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{sender: sender, store: st, log: log}
}

// Run sends text to each user in order. Outcomes per recipient:
//   - delivered: Sent incremented
//   - blocked/forbidden: Blocked incremented and the user deactivated
//   - any other error: logged and skipped
//
// On context cancellation the partial Result is returned with ctx.Err().
func (e *Engine) Run(ctx context.Context, text string, users []store.User) (Result, error) {
	if text == "" {
		return Result{}, ErrNothingToSend
	}
	if len(users) == 0 {
		return Result{}, ErrNoRecipients
	}

	var res Result
	e.log.Info("broadcast started", logx.Int("recipients", len(users)))
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			e.log.Warn("broadcast cancelled",
				logx.Int("sent", res.Sent), logx.Int("blocked", res.Blocked))
			return res, err
		}

		_, err := e.sender.SendText(ctx, transport.ChatTarget{ChatID: u.ID}, text, nil)
		switch {
		case err == nil:
			res.Sent++
		case errors.Is(err, transport.ErrBlocked):
			res.Blocked++
			e.log.Info("recipient blocked the bot", logx.Int64("user_id", u.ID))
			if derr := e.store.DeactivateUser(ctx, u.ID); derr != nil {
				e.log.Error("pruning blocked user failed", logx.Int64("user_id", u.ID), logx.Err(derr))
			}
		default:
			e.log.Error("delivery failed", logx.Int64("user_id", u.ID), logx.Err(err))
		}
	}
	e.log.Info("broadcast finished", logx.Int("sent", res.Sent), logx.Int("blocked", res.Blocked))
	return res, nil
}
