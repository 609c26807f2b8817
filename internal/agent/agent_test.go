package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"permappel/internal/application/projections"
	"permappel/internal/domain/sheet"
	"permappel/internal/realtime"
)

var eventTime = time.Date(2026, 1, 12, 8, 30, 0, 0, time.UTC)

func testAgent() *Agent {
	a := New(Config{BaseURL: "http://localhost:3000"})
	a.sheetID = "2026-01-12_M1"
	a.snapshot = projections.SheetSnapshot{
		SheetID: "2026-01-12_M1",
		Students: []projections.StudentEntry{
			{StudentID: "e1", LastName: "Benali", Status: sheet.StatusNotCalled},
			{StudentID: "e2", LastName: "Martin", Status: sheet.StatusNotCalled},
		},
	}
	a.byID = map[string]int{"e1": 0, "e2": 1}
	a.recomputeStats()
	return a
}

func deliver(t *testing.T, a *Agent, msgType string, payload any) {
	t.Helper()
	env, err := realtime.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatalf("failed to build %s: %v", msgType, err)
	}
	a.handleMessage(env)
}

// TestApplyStatusUpdate tests folding a confirmed change into the replica.
func TestApplyStatusUpdate(t *testing.T) {
	a := testAgent()
	deliver(t, a, realtime.MsgStatusUpdated, realtime.StatusUpdatedPayload{
		SheetID:    "2026-01-12_M1",
		StudentID:  "e1",
		Status:     sheet.StatusPresent,
		ModifiedBy: "user-marie",
		Timestamp:  eventTime,
	})

	snap := a.Snapshot()
	if snap.Students[0].Status != sheet.StatusPresent || snap.Students[0].ModifiedBy != "user-marie" {
		t.Errorf("unexpected entry: %+v", snap.Students[0])
	}
	if snap.Stats.Present != 1 || snap.Stats.NotCalled != 1 {
		t.Errorf("expected stats recomputed, got %+v", snap.Stats)
	}
}

// TestApplyStatusUpdate_LastWriteWins tests that a stale event arriving
// late never overwrites a newer one.
func TestApplyStatusUpdate_LastWriteWins(t *testing.T) {
	a := testAgent()
	deliver(t, a, realtime.MsgStatusUpdated, realtime.StatusUpdatedPayload{
		SheetID: "2026-01-12_M1", StudentID: "e1", Status: sheet.StatusAbsent, Timestamp: eventTime,
	})
	deliver(t, a, realtime.MsgStatusUpdated, realtime.StatusUpdatedPayload{
		SheetID: "2026-01-12_M1", StudentID: "e1", Status: sheet.StatusPresent, Timestamp: eventTime.Add(-time.Minute),
	})

	if got := a.Snapshot().Students[0].Status; got != sheet.StatusAbsent {
		t.Errorf("expected stale event dropped, got %s", got)
	}

	// Equal timestamps: the most recent arrival wins.
	deliver(t, a, realtime.MsgStatusUpdated, realtime.StatusUpdatedPayload{
		SheetID: "2026-01-12_M1", StudentID: "e1", Status: sheet.StatusExcused, Timestamp: eventTime,
	})
	if got := a.Snapshot().Students[0].Status; got != sheet.StatusExcused {
		t.Errorf("expected equal-timestamp event applied, got %s", got)
	}
}

// TestApplyStatusUpdate_IgnoresOtherSheets tests topic scoping.
func TestApplyStatusUpdate_IgnoresOtherSheets(t *testing.T) {
	a := testAgent()
	deliver(t, a, realtime.MsgStatusUpdated, realtime.StatusUpdatedPayload{
		SheetID: "2026-01-12_S2", StudentID: "e1", Status: sheet.StatusPresent, Timestamp: eventTime,
	})
	if got := a.Snapshot().Students[0].Status; got != sheet.StatusNotCalled {
		t.Errorf("expected other sheet's event ignored, got %s", got)
	}
}

// TestUsersUpdated_ReplacesWholesale tests membership replacement.
func TestUsersUpdated_ReplacesWholesale(t *testing.T) {
	a := testAgent()
	a.members = []realtime.MemberInfo{{UserID: "user-old", UserName: "old"}}

	deliver(t, a, realtime.MsgUsersUpdated, realtime.UsersUpdatedPayload{Users: []realtime.MemberInfo{
		{UserID: "user-marie", UserName: "marie"},
		{UserID: "user-paul", UserName: "paul"},
	}})

	members := a.Members()
	if len(members) != 2 || members[0].UserID != "user-marie" {
		t.Errorf("expected wholesale replacement, got %+v", members)
	}
}

// TestSetOffline_ClearsMembers tests that presence never survives a
// disconnect.
func TestSetOffline_ClearsMembers(t *testing.T) {
	a := testAgent()
	a.online = true
	a.members = []realtime.MemberInfo{{UserID: "user-marie"}}

	notified := false
	a.OnChange = func() { notified = true }
	a.setOffline()

	if a.Online() {
		t.Error("expected agent offline")
	}
	if len(a.Members()) != 0 {
		t.Error("expected members cleared on disconnect")
	}
	if !notified {
		t.Error("expected change notification")
	}
}

// TestSetStatus_NotConnected tests that edits fail fast without a channel.
func TestSetStatus_NotConnected(t *testing.T) {
	a := testAgent()
	if err := a.SetStatus("e1", sheet.StatusPresent); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	// Non-optimistic: the replica is untouched.
	if got := a.Snapshot().Students[0].Status; got != sheet.StatusNotCalled {
		t.Errorf("expected replica untouched, got %s", got)
	}
}

// TestRefreshSnapshot tests the reconcile fetch, including the bearer header.
func TestRefreshSnapshot(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/attendance/2026-01-12_M1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(projections.SheetSnapshot{
			SheetID: "2026-01-12_M1",
			Students: []projections.StudentEntry{
				{StudentID: "e1", Status: sheet.StatusPresent},
			},
		})
	}))
	defer server.Close()

	a := New(Config{BaseURL: server.URL})
	a.token = "token-123"
	a.sheetID = "2026-01-12_M1"

	if err := a.refreshSnapshot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer token-123" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	snap := a.Snapshot()
	if len(snap.Students) != 1 || snap.Students[0].Status != sheet.StatusPresent {
		t.Errorf("unexpected replica: %+v", snap)
	}
	if a.byID["e1"] != 0 {
		t.Error("expected index rebuilt")
	}
}

// TestWebsocketURL tests scheme derivation.
func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("http://localhost:3000")
	if err != nil || got != "ws://localhost:3000/ws" {
		t.Errorf("expected ws url, got %q err=%v", got, err)
	}
	got, err = websocketURL("https://permappel.example.org/")
	if err != nil || got != "wss://permappel.example.org/ws" {
		t.Errorf("expected wss url, got %q err=%v", got, err)
	}
	if _, err := websocketURL("ftp://nope"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
