// Package memory keeps per-chat conversation history for the lifetime
// of the process. One Session per Telegram chat; turns are append-only.
package memory

import "sync"

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is a single message within a session's history.
type Turn struct {
	Role Role
	Text string
}

// Store maps a chat id to its Session, creating sessions lazily.
// Safe for concurrent use across chats.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	maxTurns int
}

// NewStore returns a Store whose sessions keep at most maxTurns turns,
// dropping the oldest exchanges first. maxTurns <= 0 means unbounded.
func NewStore(maxTurns int) *Store {
	return &Store{
		sessions: make(map[int64]*Session),
		maxTurns: maxTurns,
	}
}

// Get returns the session for key, creating it on first use.
func (s *Store) Get(key int64) *Session {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess
	}
	sess = &Session{key: key, maxTurns: s.maxTurns}
	s.sessions[key] = sess
	return sess
}

// Len reports how many sessions exist.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Session is one chat's ordered history. Turns are appended in
// chronological order and never mutated afterwards.
type Session struct {
	key      int64
	maxTurns int

	mu    sync.Mutex
	turns []Turn
}

// Key returns the chat id this session belongs to.
func (s *Session) Key() int64 { return s.key }

// AppendExchange records one completed exchange. Both turns land under
// a single lock so concurrent exchanges never interleave mid-pair.
func (s *Session) AppendExchange(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns,
		Turn{Role: RoleHuman, Text: user},
		Turn{Role: RoleAssistant, Text: assistant},
	)
	if s.maxTurns > 0 && len(s.turns) > s.maxTurns {
		drop := len(s.turns) - s.maxTurns
		if drop%2 != 0 {
			drop++ // keep exchanges whole
		}
		s.turns = append([]Turn(nil), s.turns[drop:]...)
	}
}

// History returns a copy of the session's turns, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns recorded.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Reset drops all history, e.g. for the /reset command.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
}
