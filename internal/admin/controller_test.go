package admin

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"castbot/internal/broadcast"
	"castbot/internal/roster"
	"castbot/internal/store"
	"castbot/internal/transport"
	"castbot/pkg/logx"
)

const adminID int64 = 1000

type fakeUI struct {
	sent    []string
	edits   []string
	answers []string
	alerts  int
}

func (f *fakeUI) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.sent = append(f.sent, text)
	return transport.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeUI) EditText(_ context.Context, _ transport.MessageRef, text string, _ *transport.SendOptions) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeUI) AnswerCallback(_ context.Context, _ string, text string, alert bool) error {
	f.answers = append(f.answers, text)
	if alert {
		f.alerts++
	}
	return nil
}

type stubResolver struct{}

func (stubResolver) ResolveUsername(context.Context, string) (transport.UserRef, error) {
	return transport.UserRef{}, transport.ErrNotFound
}

type stubSender struct {
	blocked map[int64]bool
	sent    []int64
}

func (s *stubSender) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if s.blocked[to.ChatID] {
		return transport.MessageRef{}, transport.ErrBlocked
	}
	s.sent = append(s.sent, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func newTestController(t *testing.T, sender *stubSender) (*Controller, *fakeUI, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ui := &fakeUI{}
	rm := roster.New(st, stubResolver{}, logx.Nop())
	eng := broadcast.New(sender, st, logx.Nop())
	return New(adminID, st, rm, eng, ui, logx.Nop()), ui, st
}

func callbackFrom(from int64, data string) transport.Update {
	return transport.Update{
		Kind:     transport.UpdateCallback,
		Callback: &transport.Callback{ID: "cb", ChatID: from, FromID: from, MessageID: 5, Data: data},
	}
}

func textFrom(from int64, text string) transport.Update {
	return transport.Update{
		Kind:    transport.UpdateMessage,
		Message: &transport.Message{ChatID: from, FromID: from, Text: text},
	}
}

func containsText(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func TestNonAdminCallbackDenied(t *testing.T) {
	c, ui, st := newTestController(t, &stubSender{})
	ctx := context.Background()

	for _, action := range []string{actMainMenu, actAddUser, actBroadcast, actConfirmCast, actStats} {
		c.HandleUpdate(ctx, callbackFrom(777, action))
	}

	if ui.alerts != 5 {
		t.Fatalf("alerts = %d, want 5", ui.alerts)
	}
	if !containsText(ui.answers, deniedText) {
		t.Fatalf("expected uniform denial, got %v", ui.answers)
	}
	if len(ui.edits) != 0 || len(ui.sent) != 0 {
		t.Fatalf("denied actions must render nothing: edits=%v sent=%v", ui.edits, ui.sent)
	}
	if st := c.sessions.Get(777); st != StateIdle {
		t.Fatalf("denied action must not change state: %v", st)
	}
	users, _ := st.ListUsers(ctx, false)
	if len(users) != 0 {
		t.Fatalf("denied action must not mutate content")
	}
}

func TestStartBranchesOnIdentity(t *testing.T) {
	c, ui, _ := newTestController(t, &stubSender{})
	ctx := context.Background()

	c.HandleUpdate(ctx, textFrom(777, "/start"))
	if !containsText(ui.sent, "don't have access") {
		t.Fatalf("non-admin start: %v", ui.sent)
	}

	ui.sent = nil
	c.HandleUpdate(ctx, textFrom(adminID, "/start"))
	if !containsText(ui.sent, "admin panel") || !containsText(ui.sent, menuPrompt) {
		t.Fatalf("admin start: %v", ui.sent)
	}
}

func TestAddUserViaForward(t *testing.T) {
	c, ui, st := newTestController(t, &stubSender{})
	ctx := context.Background()

	c.HandleUpdate(ctx, callbackFrom(adminID, actAddUser))
	if st := c.sessions.Get(adminID); st != StateAwaitUserInput {
		t.Fatalf("state = %v, want await_user_input", st)
	}

	up := textFrom(adminID, "hi")
	up.Message.Forward = &transport.ForwardOrigin{UserID: 42, Username: "alice", FirstName: "Alice"}
	c.HandleUpdate(ctx, up)

	if !containsText(ui.sent, "Alice") || !containsText(ui.sent, "added") {
		t.Fatalf("missing confirmation: %v", ui.sent)
	}
	if st := c.sessions.Get(adminID); st != StateIdle {
		t.Fatalf("state after add = %v, want idle", st)
	}
	users, err := st.ListUsers(ctx, true)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID != 42 {
		t.Fatalf("unexpected roster: %+v", users)
	}
}

func TestAddUserBadFormatClearsToIdle(t *testing.T) {
	c, ui, st := newTestController(t, &stubSender{})
	ctx := context.Background()

	c.HandleUpdate(ctx, callbackFrom(adminID, actAddUser))
	c.HandleUpdate(ctx, textFrom(adminID, "not a username"))

	if !containsText(ui.sent, "Invalid format") {
		t.Fatalf("missing validation message: %v", ui.sent)
	}
	if !containsText(ui.sent, menuPrompt) {
		t.Fatalf("menu must be re-rendered: %v", ui.sent)
	}
	if st := c.sessions.Get(adminID); st != StateIdle {
		t.Fatalf("state = %v, want idle", st)
	}
	users, _ := st.ListUsers(ctx, false)
	if len(users) != 0 {
		t.Fatalf("bad input must not mutate")
	}
}

func TestDeleteByOutOfRangeIndex(t *testing.T) {
	c, ui, st := newTestController(t, &stubSender{})
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if err := st.UpsertUser(ctx, store.User{ID: i, FirstName: "U"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	c.HandleUpdate(ctx, callbackFrom(adminID, actDeleteUser))
	if st := c.sessions.Get(adminID); st != StateAwaitDeleteIndex {
		t.Fatalf("state = %v, want await_delete_index", st)
	}

	c.HandleUpdate(ctx, textFrom(adminID, "99"))
	if !containsText(ui.sent, "Invalid user number") {
		t.Fatalf("missing validation message: %v", ui.sent)
	}
	if st := c.sessions.Get(adminID); st != StateIdle {
		t.Fatalf("state = %v, want idle", st)
	}
	users, _ := st.ListUsers(ctx, true)
	if len(users) != 3 {
		t.Fatalf("out-of-range delete must not mutate: %d users", len(users))
	}
}

func TestBroadcastRequiresMessageAndRecipients(t *testing.T) {
	c, ui, st := newTestController(t, &stubSender{})
	ctx := context.Background()

	c.HandleUpdate(ctx, callbackFrom(adminID, actBroadcast))
	if !containsText(ui.edits, "Set up a broadcast message first") {
		t.Fatalf("missing message precondition: %v", ui.edits)
	}
	if st := c.sessions.Get(adminID); st != StateIdle {
		t.Fatalf("state = %v, want idle", st)
	}

	if err := st.SaveMessage(ctx, "hello"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	ui.edits = nil
	c.HandleUpdate(ctx, callbackFrom(adminID, actBroadcast))
	if !containsText(ui.edits, "No users to broadcast to") {
		t.Fatalf("missing roster precondition: %v", ui.edits)
	}
}

func TestBroadcastEndToEnd(t *testing.T) {
	sender := &stubSender{blocked: map[int64]bool{2: true}}
	c, ui, st := newTestController(t, sender)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := st.UpsertUser(ctx, store.User{ID: i, FirstName: "U"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	// Set the message through the conversation, not the store directly.
	c.HandleUpdate(ctx, callbackFrom(adminID, actSetMessage))
	c.HandleUpdate(ctx, textFrom(adminID, "release tonight"))
	msg, err := st.ActiveMessage(ctx)
	if err != nil || msg == nil || msg.Text != "release tonight" {
		t.Fatalf("active message = %+v, err %v", msg, err)
	}

	c.HandleUpdate(ctx, callbackFrom(adminID, actBroadcast))
	if st := c.sessions.Get(adminID); st != StateConfirmBroadcast {
		t.Fatalf("state = %v, want confirm_broadcast", st)
	}
	if !containsText(ui.edits, "Will be sent to 3 users") {
		t.Fatalf("missing preview: %v", ui.edits)
	}

	c.HandleUpdate(ctx, callbackFrom(adminID, actConfirmCast))
	if !containsText(ui.edits, "Sent: 2") || !containsText(ui.edits, "Blocked the bot: 1") {
		t.Fatalf("missing result: %v", ui.edits)
	}
	if st := c.sessions.Get(adminID); st != StateIdle {
		t.Fatalf("state = %v, want idle", st)
	}

	// The blocked recipient is pruned; the others stay active.
	users, err := st.ListUsers(ctx, true)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].ID != 1 || users[1].ID != 3 {
		t.Fatalf("unexpected roster after broadcast: %+v", users)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("delivered to %v, want 2 recipients", sender.sent)
	}
}
