// Package roster manages the set of broadcast recipients: adding users from
// forwarded messages or @username references, index-based removal, and export.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"castbot/internal/store"
	"castbot/internal/transport"
	"castbot/pkg/logx"
)

// ErrBadInput is returned for operator input that doesn't match the expected
// shape (not an @username, not a forward, not a number).
var ErrBadInput = errors.New("roster: bad input")

// ErrOutOfRange is returned when a delete index does not map to a listed user.
var ErrOutOfRange = errors.New("roster: index out of range")

// ErrEmpty is returned when an operation needs at least one active user.
var ErrEmpty = errors.New("roster: no users")

// Resolver maps a public @username to a platform identity. It is owned by the
// chat-platform integration; resolution failure surfaces as
// transport.ErrNotFound.
type Resolver interface {
	ResolveUsername(ctx context.Context, username string) (transport.UserRef, error)
}

type Manager struct {
	store    *store.Store
	resolver Resolver
	log      logx.Logger
}

func New(st *store.Store, resolver Resolver, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: st, resolver: resolver, log: log}
}

// AddFromForward registers the original sender of a forwarded message.
func (m *Manager) AddFromForward(ctx context.Context, fwd *transport.ForwardOrigin) (store.User, error) {
	if fwd == nil || fwd.UserID == 0 {
		return store.User{}, ErrBadInput
	}
	u := store.User{
		ID:        fwd.UserID,
		Username:  fwd.Username,
		FirstName: orElse(fwd.FirstName, fwd.Username),
	}
	if err := m.store.UpsertUser(ctx, u); err != nil {
		return store.User{}, err
	}
	m.log.Info("user added from forward", logx.Int64("user_id", u.ID))
	return u, nil
}

// AddByUsername resolves a raw "@username" reference and registers the user.
// Unknown usernames (or users who never messaged the bot) return
// transport.ErrNotFound without any mutation.
func (m *Manager) AddByUsername(ctx context.Context, raw string) (store.User, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "@") || len(raw) < 2 {
		return store.User{}, ErrBadInput
	}
	username := strings.TrimPrefix(raw, "@")

	ref, err := m.resolver.ResolveUsername(ctx, username)
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			m.log.Info("username not resolvable", logx.String("username", username))
			return store.User{}, err
		}
		return store.User{}, fmt.Errorf("resolve @%s: %w", username, err)
	}

	u := store.User{
		ID:        ref.ID,
		Username:  orElse(ref.Username, username),
		FirstName: orElse(ref.FirstName, username),
	}
	if err := m.store.UpsertUser(ctx, u); err != nil {
		return store.User{}, err
	}
	m.log.Info("user added by username", logx.Int64("user_id", u.ID), logx.String("username", u.Username))
	return u, nil
}

// List returns the active roster in stable insertion order. The same ordering
// backs the numbered listing shown to the operator and DeleteByIndex.
func (m *Manager) List(ctx context.Context) ([]store.User, error) {
	return m.store.ListUsers(ctx, true)
}

// DeleteByIndex removes the user at the given 1-based position of the current
// listing. Non-numeric input yields ErrBadInput, an index that doesn't map to
// a listed user ErrOutOfRange; neither mutates anything.
func (m *Manager) DeleteByIndex(ctx context.Context, raw string) (store.User, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return store.User{}, ErrBadInput
	}
	users, err := m.List(ctx)
	if err != nil {
		return store.User{}, err
	}
	if n < 1 || n > len(users) {
		return store.User{}, ErrOutOfRange
	}
	u := users[n-1]
	if err := m.store.DeactivateUser(ctx, u.ID); err != nil {
		return store.User{}, err
	}
	m.log.Info("user removed", logx.Int64("user_id", u.ID))
	return u, nil
}

// ExportText renders the full roster with ids and added dates. Returns
// ErrEmpty for an empty roster.
func (m *Manager) ExportText(ctx context.Context) (string, error) {
	users, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", ErrEmpty
	}

	var b strings.Builder
	b.WriteString("Roster export:\n\n")
	for i, u := range users {
		fmt.Fprintf(&b, "%d. %s (%s) - ID: %d\n", i+1, u.FirstName, Handle(u), u.ID)
		fmt.Fprintf(&b, "   Added: %s\n\n", u.AddedDate.Format("02.01.2006 15:04"))
	}
	fmt.Fprintf(&b, "Total users: %d", len(users))
	return b.String(), nil
}

// Handle formats a user's @username for display, with a fallback for users
// without one.
func Handle(u store.User) string {
	if u.Username == "" {
		return "no username"
	}
	return "@" + u.Username
}

func orElse(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
