package social

import (
	"errors"
	"testing"

	"github.com/mohamedahmed66972007/students2026-v6/internal/identity"
	"github.com/mohamedahmed66972007/students2026-v6/internal/telegram"
)

func newTestGraph(t *testing.T) (*Graph, identity.UserRecord, identity.UserRecord) {
	t.Helper()
	dir := identity.NewDirectory("MO2025_PROGRAMER")
	a := dir.Resolve(telegram.WebAppUser{ID: 1, FirstName: "Aya", Username: "aya"})
	b := dir.Resolve(telegram.WebAppUser{ID: 2, FirstName: "Badr", Username: "badr"})
	return NewGraph(dir), a, b
}

func TestRequestAcceptCreatesSymmetricFriendship(t *testing.T) {
	graph, a, b := newTestGraph(t)

	if err := graph.SendRequest(a.UID, b.UID); err != nil {
		t.Fatalf("send request: %v", err)
	}
	pending := graph.ListPending(b.UID)
	if len(pending) != 1 || pending[0].UID != a.UID {
		t.Fatalf("expected one pending request from %s, got %+v", a.UID, pending)
	}

	if err := graph.Accept(b.UID, a.UID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !graph.IsFriend(a.UID, b.UID) || !graph.IsFriend(b.UID, a.UID) {
		t.Fatalf("friendship is not symmetric")
	}
	if len(graph.ListPending(b.UID)) != 0 {
		t.Fatalf("pending set should be empty after accept")
	}

	friendsOfA := graph.ListFriends(a.UID)
	if len(friendsOfA) != 1 || friendsOfA[0].UID != b.UID {
		t.Fatalf("expected %s in a's friends, got %+v", b.UID, friendsOfA)
	}
}

func TestRequestRejectLeavesNoState(t *testing.T) {
	graph, a, b := newTestGraph(t)

	if err := graph.SendRequest(a.UID, b.UID); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := graph.Reject(b.UID, a.UID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if graph.IsFriend(a.UID, b.UID) {
		t.Fatalf("reject must not create friendship")
	}
	if len(graph.ListPending(b.UID)) != 0 {
		t.Fatalf("pending set should be empty after reject")
	}

	// After rejection the pair is back to square one.
	if err := graph.SendRequest(a.UID, b.UID); err != nil {
		t.Fatalf("re-request after reject: %v", err)
	}
}

func TestDuplicateRequestConflicts(t *testing.T) {
	graph, a, b := newTestGraph(t)

	if err := graph.SendRequest(a.UID, b.UID); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := graph.SendRequest(a.UID, b.UID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate, got %v", err)
	}
	if len(graph.ListPending(b.UID)) != 1 {
		t.Fatalf("duplicate request must not grow the pending set")
	}
}

func TestSelfRequestConflicts(t *testing.T) {
	graph, a, _ := newTestGraph(t)
	if err := graph.SendRequest(a.UID, a.UID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on self request, got %v", err)
	}
}

func TestRequestToFriendConflicts(t *testing.T) {
	graph, a, b := newTestGraph(t)

	if err := graph.SendRequest(a.UID, b.UID); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if err := graph.Accept(b.UID, a.UID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := graph.SendRequest(a.UID, b.UID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when already friends, got %v", err)
	}
	// The counterpart never sits in both the friend set and the pending set.
	if len(graph.ListPending(b.UID)) != 0 {
		t.Fatalf("pending set must stay empty for an existing friend")
	}
}

func TestUnknownUIDsFail(t *testing.T) {
	graph, a, _ := newTestGraph(t)

	if err := graph.SendRequest(a.UID, "FFFFFFFFFFFFFFFF"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown target, got %v", err)
	}
	if err := graph.SendRequest("FFFFFFFFFFFFFFFF", a.UID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown requester, got %v", err)
	}
	if err := graph.Accept(a.UID, "FFFFFFFFFFFFFFFF"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound accepting a missing request, got %v", err)
	}
	if err := graph.Reject(a.UID, "FFFFFFFFFFFFFFFF"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound rejecting a missing request, got %v", err)
	}
}

func TestPendingOrderIsArrivalOrder(t *testing.T) {
	dir := identity.NewDirectory("MO2025_PROGRAMER")
	target := dir.Resolve(telegram.WebAppUser{ID: 10, FirstName: "T"})
	first := dir.Resolve(telegram.WebAppUser{ID: 11, FirstName: "F1"})
	second := dir.Resolve(telegram.WebAppUser{ID: 12, FirstName: "F2"})
	graph := NewGraph(dir)

	if err := graph.SendRequest(first.UID, target.UID); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := graph.SendRequest(second.UID, target.UID); err != nil {
		t.Fatalf("second request: %v", err)
	}
	pending := graph.ListPending(target.UID)
	if len(pending) != 2 || pending[0].UID != first.UID || pending[1].UID != second.UID {
		t.Fatalf("expected arrival order, got %+v", pending)
	}
}
