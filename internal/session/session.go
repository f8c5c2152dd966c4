// Package session holds the signed-in principal and the holiday it is looking at.
package session

import (
	"sync"

	"github.com/diagnosis/wanderlust/internal/domain"
)

type Session struct {
	mu        sync.RWMutex
	principal *domain.Principal
	active    string
}

func New() *Session { return &Session{} }

// Principal returns a copy of the current principal, or nil when signed out.
func (s *Session) Principal() *domain.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return nil
	}
	p := *s.principal
	return &p
}

func (s *Session) SignedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.principal != nil
}

func (s *Session) SetPrincipal(p domain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil || s.principal.ID != p.ID {
		s.active = ""
	}
	s.principal = &p
}

// Clear signs the session out and forgets the active holiday.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = nil
	s.active = ""
}

func (s *Session) ActiveHoliday() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) SetActiveHoliday(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
}
