package admin

import (
	"sync"
	"time"
)

// State is the operator's current conversation step.
type State int

const (
	StateIdle State = iota
	StateAwaitUserInput
	StateAwaitMessageText
	StateAwaitDeleteIndex
	StateConfirmBroadcast
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitUserInput:
		return "await_user_input"
	case StateAwaitMessageText:
		return "await_message_text"
	case StateAwaitDeleteIndex:
		return "await_delete_index"
	case StateConfirmBroadcast:
		return "confirm_broadcast"
	default:
		return "unknown"
	}
}

// Sessions holds per-operator conversation state in memory, keyed by operator
// id, with an idle TTL. Expiry is checked lazily on access; an expired session
// reads as StateIdle.
type Sessions struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[int64]sessionRecord

	now func() time.Time // test hook
}

type sessionRecord struct {
	state     State
	updatedAt time.Time
}

const defaultSessionTTL = 15 * time.Minute

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Sessions{ttl: ttl, m: map[int64]sessionRecord{}, now: time.Now}
}

func (s *Sessions) Get(operator int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[operator]
	if !ok {
		return StateIdle
	}
	if s.now().Sub(rec.updatedAt) > s.ttl {
		delete(s.m, operator)
		return StateIdle
	}
	return rec.state
}

func (s *Sessions) Set(operator int64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == StateIdle {
		delete(s.m, operator)
		return
	}
	s.m[operator] = sessionRecord{state: st, updatedAt: s.now()}
}

func (s *Sessions) Clear(operator int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, operator)
}
