// Package session implements the Session Store (spec §3, §4): an
// id-keyed map, not referenced directly by any Connection, matching the
// "breaks the otherwise-natural cycle" design note in spec §9.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is immutable apart from its data map and last-access stamp.
type Session struct {
	ID         string
	Created    time.Time
	LastAccess time.Time
	Idle       time.Duration
	data       map[string]string
}

func (s *Session) Get(key string) (string, bool) {
	v, ok := s.data[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.data[key] = value
}

func (s *Session) Touch(now time.Time) {
	s.LastAccess = now
}

func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastAccess) > s.Idle
}

// Store maps session id to Session. Like the rest of the loop's state it
// is not synchronized: only the single event-loop goroutine calls it
// (spec §5, "No locking").
type Store struct {
	byID        map[string]*Session
	defaultIdle time.Duration
}

func NewStore(defaultIdle time.Duration) *Store {
	return &Store{byID: make(map[string]*Session), defaultIdle: defaultIdle}
}

// Lookup returns the session for id if it is live, without creating one.
func (s *Store) Lookup(id string, now time.Time) (*Session, bool) {
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	if sess.Expired(now) {
		delete(s.byID, id)
		return nil, false
	}
	return sess, true
}

// GetOrCreate resolves the `session` cookie value to a live Session,
// minting a fresh one (with a new random id) when id is empty, unknown,
// or expired (spec §3: "if absent or referring to an unknown ID, a fresh
// session is created").
func (s *Store) GetOrCreate(id string, now time.Time) *Session {
	if id != "" {
		if sess, ok := s.Lookup(id, now); ok {
			sess.Touch(now)
			return sess
		}
	}

	sess := &Session{
		ID:         uuid.NewString(),
		Created:    now,
		LastAccess: now,
		Idle:       s.defaultIdle,
		data:       make(map[string]string),
	}
	s.byID[sess.ID] = sess
	return sess
}

// GC evicts every session idle past its timeout (spec §4.6, "Garbage
// pass") and returns how many were removed.
func (s *Store) GC(now time.Time) int {
	n := 0
	for id, sess := range s.byID {
		if sess.Expired(now) {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int { return len(s.byID) }
