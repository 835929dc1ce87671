package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"castbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema idempotently.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertUser inserts or fully replaces the row for u.ID, reactivating it and
// stamping AddedDate with now when unset.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	added := u.AddedDate
	if added.IsZero() {
		added = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users(id, username, first_name, added_date, is_active)
		 VALUES(?,?,?,?,1)`,
		u.ID, nullStr(u.Username), u.FirstName, added.Format(timeFormat),
	)
	if err != nil {
		s.log.Error("upsert user failed", logx.Int64("user_id", u.ID), logx.Err(err))
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	s.log.Debug("user upserted", logx.Int64("user_id", u.ID))
	return nil
}

// ListUsers returns users in insertion order (rowid). With activeOnly, only
// rows with is_active=1 are returned.
func (s *Store) ListUsers(ctx context.Context, activeOnly bool) ([]User, error) {
	q := `SELECT id, username, first_name, added_date, is_active FROM users`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u        User
			username sql.NullString
			added    string
			active   int
		)
		if err := rows.Scan(&u.ID, &username, &u.FirstName, &added, &active); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Username = username.String
		u.Active = active != 0
		u.AddedDate = parseTime(added)
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeactivateUser soft-deletes the user. Unknown ids are a no-op, not an error:
// deletion is idempotent.
func (s *Store) DeactivateUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		s.log.Error("deactivate user failed", logx.Int64("user_id", id), logx.Err(err))
		return fmt.Errorf("deactivate user %d: %w", id, err)
	}
	s.log.Debug("user deactivated", logx.Int64("user_id", id))
	return nil
}

// SaveMessage deactivates every prior message and inserts text as the single
// active one, in one transaction so readers never observe zero or two active
// rows.
func (s *Store) SaveMessage(ctx context.Context, text string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save message: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET is_active = 0`); err != nil {
		s.log.Error("save message failed", logx.Err(err))
		return fmt.Errorf("save message: deactivate old: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages(text, created_date, is_active) VALUES(?,?,1)`,
		text, time.Now().Format(timeFormat),
	); err != nil {
		s.log.Error("save message failed", logx.Err(err))
		return fmt.Errorf("save message: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.log.Error("save message failed", logx.Err(err))
		return fmt.Errorf("save message: commit: %w", err)
	}
	s.log.Info("broadcast message saved")
	return nil
}

// ActiveMessage returns the current broadcast content, or nil when none was
// ever saved.
func (s *Store) ActiveMessage(ctx context.Context) (*Message, error) {
	var (
		m       Message
		created string
		active  int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, created_date, is_active FROM messages
		 WHERE is_active = 1 ORDER BY created_date DESC LIMIT 1`,
	).Scan(&m.ID, &m.Text, &created, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active message: %w", err)
	}
	m.CreatedDate = parseTime(created)
	m.Active = active != 0
	return &m, nil
}

// Stats reports the active user count and the active message date.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE is_active = 1`,
	).Scan(&st.ActiveUsers); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	msg, err := s.ActiveMessage(ctx)
	if err != nil {
		return Stats{}, err
	}
	if msg != nil {
		d := msg.CreatedDate
		st.LastMessageDate = &d
	}
	return st, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Tolerate plain RFC3339 written by other tooling.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
