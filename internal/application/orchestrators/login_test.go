package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"permappel/internal/adapters/storage/timeslot"
	"permappel/internal/domain/account"
)

// mockAccountStore implements LoginAccountStore and SeedAccountStore.
type mockAccountStore struct {
	accounts map[string]account.Account // by username
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: make(map[string]account.Account)}
}

func (m *mockAccountStore) GetByUsername(_ context.Context, username string) (account.Account, error) {
	a, ok := m.accounts[username]
	if !ok {
		return account.Account{}, sql.ErrNoRows
	}
	return a, nil
}

func (m *mockAccountStore) Save(_ context.Context, a account.Account) error {
	m.accounts[a.Username] = a
	return nil
}

func testToken(account.Account) (string, error) { return "token-123", nil }

func seedTestAccount(t *testing.T, store *mockAccountStore, password string) {
	t.Helper()
	a := account.Account{ID: "acct-1", Username: "mdupont", FirstName: "Marie", LastName: "Dupont", Role: account.RoleTeacher}
	if err := a.SetPassword(password); err != nil {
		t.Fatalf("failed to set password: %v", err)
	}
	if err := store.Save(context.Background(), a); err != nil {
		t.Fatalf("failed to save account: %v", err)
	}
}

// TestExecuteLogin_Success tests the happy path.
func TestExecuteLogin_Success(t *testing.T) {
	store := newMockAccountStore()
	seedTestAccount(t, store, "surveillance1")

	result, err := ExecuteLogin(context.Background(), LoginInput{Username: "mdupont", Password: "surveillance1"},
		LoginDeps{AccountStore: store, IssueToken: testToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Token != "token-123" {
		t.Errorf("expected token-123, got %s", result.Token)
	}
	if result.Account.Username != "mdupont" {
		t.Errorf("unexpected account: %+v", result.Account)
	}
}

// TestExecuteLogin_WrongPassword tests the rejection path and the
// failure counter.
func TestExecuteLogin_WrongPassword(t *testing.T) {
	store := newMockAccountStore()
	seedTestAccount(t, store, "surveillance1")

	_, err := ExecuteLogin(context.Background(), LoginInput{Username: "mdupont", Password: "nope nope"},
		LoginDeps{AccountStore: store, IssueToken: testToken})
	if !errors.Is(err, account.ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if store.accounts["mdupont"].FailedLogins != 1 {
		t.Errorf("expected failure counter 1, got %d", store.accounts["mdupont"].FailedLogins)
	}
}

// TestExecuteLogin_UnknownUser tests that unknown usernames are
// indistinguishable from wrong passwords.
func TestExecuteLogin_UnknownUser(t *testing.T) {
	store := newMockAccountStore()
	_, err := ExecuteLogin(context.Background(), LoginInput{Username: "ghost", Password: "whatever1"},
		LoginDeps{AccountStore: store, IssueToken: testToken})
	if !errors.Is(err, account.ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
}

// TestExecuteLogin_Lockout tests that repeated failures lock the
// account even for the correct password.
func TestExecuteLogin_Lockout(t *testing.T) {
	store := newMockAccountStore()
	seedTestAccount(t, store, "surveillance1")

	deps := LoginDeps{AccountStore: store, IssueToken: testToken}
	for i := 0; i < 5; i++ {
		ExecuteLogin(context.Background(), LoginInput{Username: "mdupont", Password: "bad password"}, deps)
	}

	_, err := ExecuteLogin(context.Background(), LoginInput{Username: "mdupont", Password: "surveillance1"}, deps)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

// TestExecuteLogin_SuccessResetsCounter tests counter reset after a
// successful login.
func TestExecuteLogin_SuccessResetsCounter(t *testing.T) {
	store := newMockAccountStore()
	seedTestAccount(t, store, "surveillance1")

	deps := LoginDeps{AccountStore: store, IssueToken: testToken}
	ExecuteLogin(context.Background(), LoginInput{Username: "mdupont", Password: "bad password"}, deps)

	if _, err := ExecuteLogin(context.Background(), LoginInput{Username: "mdupont", Password: "surveillance1"}, deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.accounts["mdupont"].FailedLogins != 0 {
		t.Errorf("expected failure counter reset, got %d", store.accounts["mdupont"].FailedLogins)
	}
}

// TestExecuteSeedAdmin_Idempotent tests that seeding twice keeps one account.
func TestExecuteSeedAdmin_Idempotent(t *testing.T) {
	store := newMockAccountStore()
	deps := SeedDeps{AccountStore: store, GenerateID: fixedID, Now: fixedNow}

	if err := ExecuteSeedAdmin(context.Background(), "admin", "changeme-admin", deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := store.accounts["admin"]

	if err := ExecuteSeedAdmin(context.Background(), "admin", "different-pass", deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.accounts["admin"].PasswordHash != first.PasswordHash {
		t.Error("expected second seed to leave the account untouched")
	}
	if first.Role != account.RoleAdmin {
		t.Errorf("expected admin role, got %s", first.Role)
	}
}

// TestExecuteSeedTimeslots tests default slot creation and idempotence.
func TestExecuteSeedTimeslots(t *testing.T) {
	slots := &mockTimeslotStore{slots: map[string]timeslot.Timeslot{}}
	deps := SeedDeps{TimeslotStore: slots, GenerateID: fixedID, Now: fixedNow}

	if err := ExecuteSeedTimeslots(context.Background(), deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots.slots) != len(defaultTimeslots) {
		t.Fatalf("expected %d timeslots, got %d", len(defaultTimeslots), len(slots.slots))
	}

	// A renamed slot survives a re-seed.
	renamed := slots.slots["M1"]
	renamed.Name = "Première heure"
	slots.slots["M1"] = renamed
	if err := ExecuteSeedTimeslots(context.Background(), deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots.slots["M1"].Name != "Première heure" {
		t.Error("expected re-seed to keep the stored name")
	}
}
