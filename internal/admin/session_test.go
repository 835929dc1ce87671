package admin

import (
	"testing"
	"time"
)

func TestSessionsDefaultIdle(t *testing.T) {
	s := NewSessions(time.Minute)
	if st := s.Get(1); st != StateIdle {
		t.Fatalf("fresh session = %v, want idle", st)
	}
}

func TestSessionsSetGetClear(t *testing.T) {
	s := NewSessions(time.Minute)
	s.Set(1, StateAwaitUserInput)
	if st := s.Get(1); st != StateAwaitUserInput {
		t.Fatalf("state = %v, want await_user_input", st)
	}
	// Distinct operators are independent.
	if st := s.Get(2); st != StateIdle {
		t.Fatalf("other operator = %v, want idle", st)
	}
	s.Clear(1)
	if st := s.Get(1); st != StateIdle {
		t.Fatalf("after clear = %v, want idle", st)
	}
}

func TestSessionsSetIdleDropsRecord(t *testing.T) {
	s := NewSessions(time.Minute)
	s.Set(1, StateConfirmBroadcast)
	s.Set(1, StateIdle)
	if len(s.m) != 0 {
		t.Fatalf("idle state must not be stored: %v", s.m)
	}
}

func TestSessionsExpireAfterTTL(t *testing.T) {
	now := time.Now()
	s := NewSessions(10 * time.Minute)
	s.now = func() time.Time { return now }

	s.Set(1, StateAwaitDeleteIndex)
	now = now.Add(9 * time.Minute)
	if st := s.Get(1); st != StateAwaitDeleteIndex {
		t.Fatalf("before TTL = %v, want await_delete_index", st)
	}
	now = now.Add(2 * time.Minute)
	if st := s.Get(1); st != StateIdle {
		t.Fatalf("after TTL = %v, want idle", st)
	}
}
