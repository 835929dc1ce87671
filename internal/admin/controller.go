// Package admin implements the operator conversation: a small state machine
// over menu callbacks and text input, guarded by a single admin identity
// check, delegating to the roster manager and the broadcast engine.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"castbot/internal/broadcast"
	"castbot/internal/roster"
	"castbot/internal/store"
	"castbot/internal/transport"
	"castbot/pkg/logx"
	"castbot/pkg/tgui"
)

const (
	menuPrompt   = "Choose an action:"
	deniedText   = "❌ Access denied"
	failureText  = "❌ Operation failed, try again later"
	previewWidth = 30
)

// UI is the outbound surface the controller renders through.
type UI interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
}

type Controller struct {
	adminID  int64
	store    *store.Store
	roster   *roster.Manager
	engine   *broadcast.Engine
	ui       UI
	sessions *Sessions
	log      logx.Logger
}

func New(adminID int64, st *store.Store, rm *roster.Manager, eng *broadcast.Engine, ui UI, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		adminID:  adminID,
		store:    st,
		roster:   rm,
		engine:   eng,
		ui:       ui,
		sessions: NewSessions(0),
		log:      log,
	}
}

// HandleUpdate routes one incoming update. It never returns an error to the
// dispatch loop; every failure degrades to a rendered message and the idle
// menu.
func (c *Controller) HandleUpdate(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			c.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			c.handleCallback(ctx, up.Callback)
		}
	}
}

func (c *Controller) handleMessage(ctx context.Context, m *transport.Message) {
	if strings.HasPrefix(m.Text, "/start") {
		c.handleStart(ctx, m)
		return
	}
	// Plain text only matters for the admin, and only while a flow is waiting
	// for input. Anyone else talking to the bot is ignored.
	if m.FromID != c.adminID {
		return
	}
	switch c.sessions.Get(m.FromID) {
	case StateAwaitUserInput:
		c.finishAddUser(ctx, m)
	case StateAwaitDeleteIndex:
		c.finishDeleteUser(ctx, m)
	case StateAwaitMessageText:
		c.finishSetMessage(ctx, m)
	}
}

func (c *Controller) handleStart(ctx context.Context, m *transport.Message) {
	to := transport.ChatTarget{ChatID: m.ChatID}
	if m.FromID != c.adminID {
		c.log.Info("start from non-admin", logx.Int64("from_id", m.FromID))
		c.send(ctx, to, "❌ You don't have access to this bot.", nil)
		return
	}
	c.sessions.Clear(m.FromID)
	c.send(ctx, to, "🔧 Welcome to the admin panel!", nil)
	c.send(ctx, to, menuPrompt, c.opts(mainMenu()))
}

// handleCallback applies the admin gate once for every menu action, then
// routes on the callback data.
func (c *Controller) handleCallback(ctx context.Context, cb *transport.Callback) {
	if cb.FromID != c.adminID {
		c.log.Info("callback from non-admin", logx.Int64("from_id", cb.FromID), logx.String("action", cb.Data))
		_ = c.ui.AnswerCallback(ctx, cb.ID, deniedText, true)
		return
	}

	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	switch cb.Data {
	case actMainMenu:
		c.sessions.Clear(cb.FromID)
		c.edit(ctx, ref, menuPrompt, c.opts(mainMenu()))
	case actManageUsers:
		c.edit(ctx, ref, "👥 User management:", c.opts(usersMenu()))
	case actAddUser:
		c.sessions.Set(cb.FromID, StateAwaitUserInput)
		c.edit(ctx, ref,
			"👤 Add user\n\nSend a username (with @) or forward a message from the user:",
			c.opts(backMenu()))
	case actListUsers:
		c.showUserList(ctx, ref)
	case actDeleteUser:
		c.startDeleteUser(ctx, cb.FromID, ref)
	case actExportUsers:
		c.exportUsers(ctx, ref)
	case actSetMessage:
		c.startSetMessage(ctx, cb.FromID, ref)
	case actBroadcast:
		c.startBroadcast(ctx, cb.FromID, ref)
	case actConfirmCast:
		c.confirmBroadcast(ctx, cb.FromID, ref)
	case actStats:
		c.showStats(ctx, ref)
	default:
		c.log.Debug("unknown callback action", logx.String("action", cb.Data))
	}
	_ = c.ui.AnswerCallback(ctx, cb.ID, "", false)
}

// ---- user management ----

func (c *Controller) finishAddUser(ctx context.Context, m *transport.Message) {
	to := transport.ChatTarget{ChatID: m.ChatID}

	var (
		u   store.User
		err error
	)
	switch {
	case m.Forward != nil:
		u, err = c.roster.AddFromForward(ctx, m.Forward)
	case strings.HasPrefix(strings.TrimSpace(m.Text), "@"):
		u, err = c.roster.AddByUsername(ctx, m.Text)
	default:
		err = roster.ErrBadInput
	}

	switch {
	case err == nil:
		c.send(ctx, to, fmt.Sprintf("✅ User %s (%s) added!", u.FirstName, roster.Handle(u)), nil)
	case errors.Is(err, roster.ErrBadInput):
		c.send(ctx, to, "❌ Invalid format. Send @username or forward a message", nil)
	case errors.Is(err, transport.ErrNotFound):
		c.send(ctx, to, "❌ User not found or has never messaged the bot", nil)
	default:
		c.log.Error("add user failed", logx.Err(err))
		c.send(ctx, to, failureText, nil)
	}

	// Any outcome clears the flow and re-renders the menu.
	c.sessions.Clear(m.FromID)
	c.send(ctx, to, menuPrompt, c.opts(mainMenu()))
}

func (c *Controller) showUserList(ctx context.Context, ref transport.MessageRef) {
	users, err := c.roster.List(ctx)
	if err != nil {
		c.log.Error("list users failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}
	if len(users) == 0 {
		c.edit(ctx, ref, "📋 The user list is empty", c.opts(backMenu()))
		return
	}
	text := formatUserList("📋 Users:", users) +
		fmt.Sprintf("\nTotal: %d users", len(users))
	c.edit(ctx, ref, text, c.opts(backMenu()))
}

func (c *Controller) startDeleteUser(ctx context.Context, operator int64, ref transport.MessageRef) {
	users, err := c.roster.List(ctx)
	if err != nil {
		c.log.Error("list users failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}
	if len(users) == 0 {
		c.edit(ctx, ref, "❌ No users to delete", c.opts(backMenu()))
		return
	}
	c.sessions.Set(operator, StateAwaitDeleteIndex)
	text := formatUserList("❌ Delete user\n\nReply with the number of the user to delete:", users)
	c.edit(ctx, ref, text, c.opts(backMenu()))
}

func (c *Controller) finishDeleteUser(ctx context.Context, m *transport.Message) {
	to := transport.ChatTarget{ChatID: m.ChatID}

	u, err := c.roster.DeleteByIndex(ctx, m.Text)
	switch {
	case err == nil:
		c.send(ctx, to, fmt.Sprintf("✅ User %s deleted!", u.FirstName), nil)
	case errors.Is(err, roster.ErrBadInput):
		c.send(ctx, to, "❌ Enter a user number", nil)
	case errors.Is(err, roster.ErrOutOfRange):
		c.send(ctx, to, "❌ Invalid user number", nil)
	default:
		c.log.Error("delete user failed", logx.Err(err))
		c.send(ctx, to, failureText, nil)
	}

	c.sessions.Clear(m.FromID)
	c.send(ctx, to, menuPrompt, c.opts(mainMenu()))
}

func (c *Controller) exportUsers(ctx context.Context, ref transport.MessageRef) {
	text, err := c.roster.ExportText(ctx)
	switch {
	case errors.Is(err, roster.ErrEmpty):
		c.edit(ctx, ref, "❌ No users to export", c.opts(backMenu()))
		return
	case err != nil:
		c.log.Error("export users failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}
	// The adapter splits long exports into sequential chunks; the keyboard
	// rides on the first chunk only.
	c.edit(ctx, ref, text, &transport.SendOptions{ReplyMarkup: backMenu()})
}

// ---- message + broadcast ----

func (c *Controller) startSetMessage(ctx context.Context, operator int64, ref transport.MessageRef) {
	msg, err := c.store.ActiveMessage(ctx)
	if err != nil {
		c.log.Error("read active message failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}
	c.sessions.Set(operator, StateAwaitMessageText)

	var b strings.Builder
	b.WriteString("💬 Broadcast message setup")
	if msg != nil {
		b.WriteString("\n\nCurrent message:\n")
		b.WriteString(tgui.Esc(msg.Text).String())
	}
	b.WriteString("\n\nSend the new message:")
	c.edit(ctx, ref, b.String(), c.opts(backMenu()))
}

func (c *Controller) finishSetMessage(ctx context.Context, m *transport.Message) {
	to := transport.ChatTarget{ChatID: m.ChatID}

	if strings.TrimSpace(m.Text) == "" {
		c.send(ctx, to, "❌ The message must contain text", nil)
	} else if err := c.store.SaveMessage(ctx, m.Text); err != nil {
		c.log.Error("save message failed", logx.Err(err))
		c.send(ctx, to, failureText, nil)
	} else {
		c.send(ctx, to, "✅ Message saved!", nil)
	}

	c.sessions.Clear(m.FromID)
	c.send(ctx, to, menuPrompt, c.opts(mainMenu()))
}

func (c *Controller) startBroadcast(ctx context.Context, operator int64, ref transport.MessageRef) {
	msg, err := c.store.ActiveMessage(ctx)
	if err != nil {
		c.log.Error("read active message failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}
	if msg == nil {
		c.edit(ctx, ref, "❌ Set up a broadcast message first", c.opts(backMenu()))
		return
	}
	users, err := c.roster.List(ctx)
	if err != nil {
		c.log.Error("list users failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}
	if len(users) == 0 {
		c.edit(ctx, ref, "❌ No users to broadcast to", c.opts(backMenu()))
		return
	}

	c.sessions.Set(operator, StateConfirmBroadcast)
	sep := strings.Repeat("-", previewWidth)
	text := fmt.Sprintf("📤 Broadcast preview:\n\n%s\n%s\n%s\n\nWill be sent to %d users.\n\nProceed?",
		sep, tgui.Esc(msg.Text).String(), sep, len(users))
	c.edit(ctx, ref, text, c.opts(confirmMenu()))
}

func (c *Controller) confirmBroadcast(ctx context.Context, operator int64, ref transport.MessageRef) {
	c.sessions.Clear(operator)

	msg, err := c.store.ActiveMessage(ctx)
	if err != nil || msg == nil {
		if err != nil {
			c.log.Error("read active message failed", logx.Err(err))
		}
		c.edit(ctx, ref, "❌ Set up a broadcast message first", c.opts(backMenu()))
		return
	}
	users, err := c.roster.List(ctx)
	if err != nil {
		c.log.Error("list users failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}

	c.edit(ctx, ref, "📤 Broadcasting...", nil)

	res, err := c.engine.Run(ctx, msg.Text, users)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("broadcast failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(mainMenu()))
		return
	}

	var b strings.Builder
	b.WriteString("✅ Broadcast finished!\n\n")
	fmt.Fprintf(&b, "📤 Sent: %d\n", res.Sent)
	if res.Blocked > 0 {
		fmt.Fprintf(&b, "🚫 Blocked the bot: %d", res.Blocked)
	}
	c.edit(ctx, ref, b.String(), c.opts(mainMenu()))
}

func (c *Controller) showStats(ctx context.Context, ref transport.MessageRef) {
	st, err := c.store.Stats(ctx)
	if err != nil {
		c.log.Error("stats failed", logx.Err(err))
		c.edit(ctx, ref, failureText, c.opts(backMenu()))
		return
	}
	var b strings.Builder
	b.WriteString("📊 Stats:\n\n")
	fmt.Fprintf(&b, "👥 Active users: %d\n", st.ActiveUsers)
	if st.LastMessageDate != nil {
		fmt.Fprintf(&b, "📅 Last message: %s", st.LastMessageDate.Format("02.01.2006 15:04"))
	} else {
		b.WriteString("📅 No messages yet")
	}
	c.edit(ctx, ref, b.String(), c.opts(backMenu()))
}

// ---- rendering helpers ----

func formatUserList(title string, users []store.User) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for i, u := range users {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, tgui.Esc(u.FirstName).String(), tgui.Esc(roster.Handle(u)).String())
	}
	return b.String()
}

func (c *Controller) opts(markup any) *transport.SendOptions {
	return &transport.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkup: markup}
}

func (c *Controller) send(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.ui.SendText(sctx, to, text, opt); err != nil {
		c.log.Error("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (c *Controller) edit(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) {
	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := c.ui.EditText(sctx, ref, text, opt); err != nil {
		c.log.Error("edit failed", logx.Int64("chat_id", ref.ChatID), logx.Err(err))
	}
}
