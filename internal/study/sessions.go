// Package study keeps each user's planned study sessions and gates the
// friend-facing schedule view on the social graph.
package study

import (
	"errors"
	"sync"
	"time"

	"github.com/mohamedahmed66972007/students2026-v6/internal/identity"
	"github.com/mohamedahmed66972007/students2026-v6/internal/social"
)

var (
	ErrNotFound  = errors.New("no such user")
	ErrForbidden = errors.New("schedule is visible to friends only")
)

// Session is one planned study block. Date and clock fields stay as the
// client sent them; parsing happens at the edges that need wall time.
type Session struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Topic     string `json:"topic,omitempty"`
	Date      string `json:"date"`      // 2006-01-02
	StartTime string `json:"startTime"` // 15:04
	EndTime   string `json:"endTime,omitempty"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes,omitempty"`
}

// StartAt resolves the session's start to wall time in loc.
func (s Session) StartAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", s.Date+" "+s.StartTime, loc)
}

// EndAt resolves the session's end to wall time in loc.
func (s Session) EndAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", s.Date+" "+s.EndTime, loc)
}

// Store owns the per-user session lists. Writes replace a user's whole
// list; the client is the source of truth for its own schedule.
type Store struct {
	directory *identity.Directory
	graph     *social.Graph

	mu       sync.RWMutex
	sessions map[string][]Session // by owner UID
}

func NewStore(directory *identity.Directory, graph *social.Graph) *Store {
	return &Store{
		directory: directory,
		graph:     graph,
		sessions:  make(map[string][]Session),
	}
}

// ReplaceAll swaps the owner's full session list.
func (s *Store) ReplaceAll(ownerUID string, sessions []Session) error {
	if _, ok := s.directory.ByUID(ownerUID); !ok {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[ownerUID] = append([]Session(nil), sessions...)
	return nil
}

// Get returns the owner's sessions. A known user with no sessions yet
// gets an empty list, not an error.
func (s *Store) Get(ownerUID string) ([]Session, error) {
	if _, ok := s.directory.ByUID(ownerUID); !ok {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Session(nil), s.sessions[ownerUID]...), nil
}

// GetForFriend returns the owner's sessions to a viewer, but only when
// the two are friends. Non-friends get ErrForbidden regardless of
// whether the owner exists, so the endpoint does not leak directory
// membership.
func (s *Store) GetForFriend(viewerUID, ownerUID string) ([]Session, error) {
	if !s.graph.IsFriend(viewerUID, ownerUID) {
		return nil, ErrForbidden
	}
	return s.Get(ownerUID)
}

// All snapshots every user's sessions, for the reminder sweep.
func (s *Store) All() map[string][]Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Session, len(s.sessions))
	for uid, list := range s.sessions {
		out[uid] = append([]Session(nil), list...)
	}
	return out
}
