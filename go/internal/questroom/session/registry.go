package session

import (
	"errors"
	"sync"
)

// ErrAlreadyJoined is returned when a room already has a live session.
var ErrAlreadyJoined = errors.New("room already joined")

// Registry tracks the live sessions of one process, keyed by room id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s. The session is dropped from the registry once it leaves.
func (r *Registry) Add(s *Session) error {
	roomID := s.Identity().RoomID

	r.mu.Lock()
	if _, ok := r.sessions[roomID]; ok {
		r.mu.Unlock()
		return ErrAlreadyJoined
	}
	r.sessions[roomID] = s
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.mu.Lock()
		if r.sessions[roomID] == s {
			delete(r.sessions, roomID)
		}
		r.mu.Unlock()
	}()
	return nil
}

func (r *Registry) Get(roomID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// Leave leaves and forgets the session for roomID.
func (r *Registry) Leave(roomID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[roomID]
	delete(r.sessions, roomID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Leave()
	return true
}

// LeaveAll leaves every session.
func (r *Registry) LeaveAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Leave()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
