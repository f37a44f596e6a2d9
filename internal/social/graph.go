package social

import (
	"errors"
	"sync"

	"github.com/mohamedahmed66972007/students2026-v6/internal/identity"
)

var (
	ErrNotFound = errors.New("no such user or request")
	// ErrConflict covers self-requests, already-friends and duplicate
	// pending requests.
	ErrConflict = errors.New("friend request conflict")
)

// Summary is the resolved shape returned by list operations.
type Summary struct {
	UID       string `json:"uid"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Graph owns friendship edges and pending incoming requests, keyed by UID.
// A single mutex spans every mutation so acceptance updates both sides
// atomically and concurrent requests against one target cannot interleave.
type Graph struct {
	directory *identity.Directory

	mu      sync.Mutex
	friends map[string]map[string]struct{}
	pending map[string][]string // incoming requester UIDs, oldest first
}

func NewGraph(directory *identity.Directory) *Graph {
	return &Graph{
		directory: directory,
		friends:   make(map[string]map[string]struct{}),
		pending:   make(map[string][]string),
	}
}

// SendRequest records a pending request from requester on target.
func (g *Graph) SendRequest(requesterUID, targetUID string) error {
	if _, ok := g.directory.ByUID(requesterUID); !ok {
		return ErrNotFound
	}
	if _, ok := g.directory.ByUID(targetUID); !ok {
		return ErrNotFound
	}
	if requesterUID == targetUID {
		return ErrConflict
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.isFriendLocked(requesterUID, targetUID) {
		return ErrConflict
	}
	for _, uid := range g.pending[targetUID] {
		if uid == requesterUID {
			return ErrConflict
		}
	}
	g.pending[targetUID] = append(g.pending[targetUID], requesterUID)
	return nil
}

// Accept consumes a pending request and creates the symmetric friendship.
// Both sides are updated under one lock scope; there is no state in which
// only one edge exists.
func (g *Graph) Accept(ownerUID, requesterUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.removePendingLocked(ownerUID, requesterUID) {
		return ErrNotFound
	}
	g.addEdgeLocked(ownerUID, requesterUID)
	g.addEdgeLocked(requesterUID, ownerUID)
	return nil
}

// Reject drops a pending request without creating a friendship.
func (g *Graph) Reject(ownerUID, requesterUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.removePendingLocked(ownerUID, requesterUID) {
		return ErrNotFound
	}
	return nil
}

func (g *Graph) IsFriend(aUID, bUID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isFriendLocked(aUID, bUID)
}

// ListFriends resolves the owner's friend edges, skipping UIDs that no
// longer resolve to a directory record.
func (g *Graph) ListFriends(ownerUID string) []Summary {
	g.mu.Lock()
	uids := make([]string, 0, len(g.friends[ownerUID]))
	for uid := range g.friends[ownerUID] {
		uids = append(uids, uid)
	}
	g.mu.Unlock()
	return g.resolve(uids)
}

// ListPending resolves the owner's pending incoming requests in arrival
// order.
func (g *Graph) ListPending(ownerUID string) []Summary {
	g.mu.Lock()
	uids := append([]string(nil), g.pending[ownerUID]...)
	g.mu.Unlock()
	return g.resolve(uids)
}

func (g *Graph) resolve(uids []string) []Summary {
	out := make([]Summary, 0, len(uids))
	for _, uid := range uids {
		record, ok := g.directory.ByUID(uid)
		if !ok {
			continue
		}
		out = append(out, Summary{
			UID:       record.UID,
			FirstName: record.FirstName,
			LastName:  record.LastName,
			Username:  record.Username,
		})
	}
	return out
}

func (g *Graph) isFriendLocked(aUID, bUID string) bool {
	_, ok := g.friends[aUID][bUID]
	return ok
}

func (g *Graph) addEdgeLocked(fromUID, toUID string) {
	set, ok := g.friends[fromUID]
	if !ok {
		set = make(map[string]struct{})
		g.friends[fromUID] = set
	}
	set[toUID] = struct{}{}
}

func (g *Graph) removePendingLocked(ownerUID, requesterUID string) bool {
	queue := g.pending[ownerUID]
	for i, uid := range queue {
		if uid == requesterUID {
			g.pending[ownerUID] = append(queue[:i], queue[i+1:]...)
			return true
		}
	}
	return false
}
