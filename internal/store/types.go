package store

import "time"

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is a broadcast recipient. Users are never hard-deleted; removal and
// detected blocks flip Active to false.
type User struct {
	ID        int64
	Username  string // without the leading @; may be empty
	FirstName string
	AddedDate time.Time
	Active    bool
}

// Message is outbound broadcast content. Saving a new message deactivates all
// prior rows; old rows are retained but inert.
type Message struct {
	ID          int64
	Text        string
	CreatedDate time.Time
	Active      bool
}

// Stats is a small operator-facing summary.
type Stats struct {
	ActiveUsers     int
	LastMessageDate *time.Time // nil when no message was ever saved
}
