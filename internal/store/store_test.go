package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"castbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db")
	for i := 0; i < 2; i++ {
		s, err := Open(Config{Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open #%d: %v", i+1, err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
}

func TestUpsertUserIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, User{ID: 42, Username: "old", FirstName: "Old"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := s.DeactivateUser(ctx, 42); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	// Re-adding overwrites fields and reactivates.
	if err := s.UpsertUser(ctx, User{ID: 42, Username: "new", FirstName: "New"}); err != nil {
		t.Fatalf("UpsertUser again: %v", err)
	}

	users, err := s.ListUsers(ctx, false)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected exactly 1 row, got %d", len(users))
	}
	u := users[0]
	if u.Username != "new" || u.FirstName != "New" || !u.Active {
		t.Fatalf("unexpected row after re-add: %+v", u)
	}
}

func TestListUsersFiltersAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"A", "B", "C"} {
		if err := s.UpsertUser(ctx, User{ID: int64(i + 1), FirstName: name}); err != nil {
			t.Fatalf("UpsertUser %s: %v", name, err)
		}
	}
	if err := s.DeactivateUser(ctx, 2); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}

	active, err := s.ListUsers(ctx, true)
	if err != nil {
		t.Fatalf("ListUsers(active): %v", err)
	}
	if len(active) != 2 || active[0].ID != 1 || active[1].ID != 3 {
		t.Fatalf("unexpected active listing: %+v", active)
	}

	all, err := s.ListUsers(ctx, false)
	if err != nil {
		t.Fatalf("ListUsers(all): %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
}

func TestDeactivateUnknownUserIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.DeactivateUser(ctx, 999); err != nil {
		t.Fatalf("DeactivateUser(unknown) = %v, want nil", err)
	}
	users, err := s.ListUsers(ctx, false)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no rows, got %d", len(users))
	}
}

func TestSaveMessageKeepsSingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		if err := s.SaveMessage(ctx, text); err != nil {
			t.Fatalf("SaveMessage(%q): %v", text, err)
		}
	}

	msg, err := s.ActiveMessage(ctx)
	if err != nil {
		t.Fatalf("ActiveMessage: %v", err)
	}
	if msg == nil || msg.Text != "third" {
		t.Fatalf("active message = %+v, want text %q", msg, "third")
	}

	var activeRows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE is_active = 1`).Scan(&activeRows); err != nil {
		t.Fatalf("count active rows: %v", err)
	}
	if activeRows != 1 {
		t.Fatalf("expected exactly 1 active row, got %d", activeRows)
	}
	var totalRows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&totalRows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if totalRows != 3 {
		t.Fatalf("old rows must be retained: got %d, want 3", totalRows)
	}
}

func TestActiveMessageWhenEmpty(t *testing.T) {
	s := openTestStore(t)

	msg, err := s.ActiveMessage(context.Background())
	if err != nil {
		t.Fatalf("ActiveMessage: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message, got %+v", msg)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.ActiveUsers != 0 || st.LastMessageDate != nil {
		t.Fatalf("unexpected empty stats: %+v", st)
	}

	if err := s.UpsertUser(ctx, User{ID: 1, FirstName: "A"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := s.UpsertUser(ctx, User{ID: 2, FirstName: "B"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := s.DeactivateUser(ctx, 2); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	before := time.Now().Add(-time.Second)
	if err := s.SaveMessage(ctx, "hello"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	st, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.ActiveUsers != 1 {
		t.Fatalf("ActiveUsers = %d, want 1", st.ActiveUsers)
	}
	if st.LastMessageDate == nil || st.LastMessageDate.Before(before) {
		t.Fatalf("unexpected LastMessageDate: %v", st.LastMessageDate)
	}
}
