package memory

import (
	"errors"
	"testing"

	"watchparty/model"
)

func TestUserRegistry(t *testing.T) {
	ms := NewMemStore()

	if _, err := ms.User("u1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("User: expected ErrUserNotFound, got %v", err)
	}

	ms.PutUser(&model.User{ID: "u1", Name: "alice", Active: true})
	user, err := ms.User("u1")
	if err != nil {
		t.Fatalf("User: unexpected error: %v", err)
	}
	if user.Name != "alice" {
		t.Fatalf("User: name mismatch: %q", user.Name)
	}

	ms.PutUser(&model.User{ID: "u2", Name: "bob"})
	roster := ms.Users([]string{"u1", "u2", "missing"})
	if len(roster) != 2 {
		t.Fatalf("Users: roster size mismatch: %d", len(roster))
	}
	if roster["u1"] == nil || roster["u2"] == nil {
		t.Fatalf("Users: roster missing entries: %+v", roster)
	}
}

func TestSessionRegistry(t *testing.T) {
	ms := NewMemStore()

	if _, err := ms.Session("deadbeefdeadbeef"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Session: expected ErrSessionNotFound, got %v", err)
	}
	if ms.HasSession("deadbeefdeadbeef") {
		t.Fatalf("HasSession: reported a session that does not exist")
	}

	ms.PutSession(&model.Session{ID: "deadbeefdeadbeef"})
	if !ms.HasSession("deadbeefdeadbeef") {
		t.Fatalf("HasSession: stored session not found")
	}

	ms.PutUser(&model.User{ID: "u1"})
	users, sessions := ms.Counts()
	if users != 1 || sessions != 1 {
		t.Fatalf("Counts: want (1,1) got (%d,%d)", users, sessions)
	}

	ms.DeleteSession("deadbeefdeadbeef")
	if ms.HasSession("deadbeefdeadbeef") {
		t.Fatalf("DeleteSession: session still present")
	}
}
