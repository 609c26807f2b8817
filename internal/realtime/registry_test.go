package realtime

import (
	"testing"
	"time"
)

var baseTime = time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)

// TestRegistryAddAndMembers tests membership and join-time ordering.
func TestRegistryAddAndMembers(t *testing.T) {
	r := NewRegistry()
	r.Add("2026-01-12_M1", Session{ID: "s2", UserID: "u2", JoinedAt: baseTime.Add(time.Second)})
	r.Add("2026-01-12_M1", Session{ID: "s1", UserID: "u1", JoinedAt: baseTime})

	members := r.MembersOf("2026-01-12_M1")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].ID != "s1" || members[1].ID != "s2" {
		t.Errorf("expected join-time ordering, got %v then %v", members[0].ID, members[1].ID)
	}
}

// TestRegistryImplicitLeave tests that joining a second sheet leaves the first.
func TestRegistryImplicitLeave(t *testing.T) {
	r := NewRegistry()
	r.Add("sheet-a", Session{ID: "s1", UserID: "u1", JoinedAt: baseTime})

	previous := r.Add("sheet-b", Session{ID: "s1", UserID: "u1", JoinedAt: baseTime.Add(time.Second)})
	if previous != "sheet-a" {
		t.Fatalf("expected previous sheet-a, got %q", previous)
	}
	if len(r.MembersOf("sheet-a")) != 0 {
		t.Error("expected s1 removed from sheet-a")
	}
	if got, ok := r.SheetOf("s1"); !ok || got != "sheet-b" {
		t.Errorf("expected s1 in sheet-b, got %q ok=%v", got, ok)
	}
}

// TestRegistryRejoinSameSheet tests that rejoining the same sheet is not a move.
func TestRegistryRejoinSameSheet(t *testing.T) {
	r := NewRegistry()
	r.Add("sheet-a", Session{ID: "s1", JoinedAt: baseTime})
	if previous := r.Add("sheet-a", Session{ID: "s1", JoinedAt: baseTime.Add(time.Minute)}); previous != "" {
		t.Errorf("expected no previous sheet, got %q", previous)
	}
	if len(r.MembersOf("sheet-a")) != 1 {
		t.Error("expected a single membership after rejoin")
	}
}

// TestRegistryRemoveSession tests disconnect cleanup.
func TestRegistryRemoveSession(t *testing.T) {
	r := NewRegistry()
	r.Add("sheet-a", Session{ID: "s1", JoinedAt: baseTime})

	sheetID, ok := r.RemoveSession("s1")
	if !ok || sheetID != "sheet-a" {
		t.Fatalf("expected (sheet-a, true), got (%q, %v)", sheetID, ok)
	}
	if _, ok := r.SheetOf("s1"); ok {
		t.Error("expected session gone after removal")
	}
	if _, ok := r.RemoveSession("s1"); ok {
		t.Error("expected second removal to report not-found")
	}
}

// TestRegistryRemove tests that Remove reports whether it deleted.
func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Add("sheet-a", Session{ID: "s1", JoinedAt: baseTime})

	if r.Remove("sheet-b", "s1") {
		t.Error("expected no removal from a sheet the session never joined")
	}
	if !r.Remove("sheet-a", "s1") {
		t.Fatal("expected removal to report success")
	}
	if r.Remove("sheet-a", "s1") {
		t.Error("expected repeated removal to report not-found")
	}
}

// TestRegistryMembersSnapshot tests that MembersOf returns a copy.
func TestRegistryMembersSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Add("sheet-a", Session{ID: "s1", JoinedAt: baseTime})

	snapshot := r.MembersOf("sheet-a")
	r.Remove("sheet-a", "s1")
	if len(snapshot) != 1 {
		t.Error("expected snapshot to be unaffected by later removal")
	}
}
