package checkout

import "sync"

// Store owns every checkout session for the life of the process. Sessions
// are never physically deleted. All access goes through the lock so parallel
// request handling cannot lose updates in a get/set gap.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Put registers a new session keyed by id.
func (s *Store) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
}

// Get returns a copy of the session, so readers cannot mutate stored state.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return session.Clone(), true
}

// Mutate runs fn against a draft copy of the session under the write lock.
// The draft replaces the stored session only when fn succeeds, so a rejected
// mutation leaves the session exactly as it was.
func (s *Store) Mutate(id string, fn func(*Session) error) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	draft := current.Clone()
	if err := fn(draft); err != nil {
		return nil, true, err
	}
	s.sessions[id] = draft
	return draft.Clone(), true, nil
}

// Len reports the number of registered sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
