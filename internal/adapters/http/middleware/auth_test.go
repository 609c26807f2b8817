package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainAccount "permappel/internal/domain/account"
	"permappel/internal/realtime"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testAccount() domainAccount.Account {
	return domainAccount.Account{
		ID:        "acct-1",
		Username:  "mdupont",
		FirstName: "Marie",
		LastName:  "Dupont",
		Role:      domainAccount.RoleTeacher,
	}
}

// TestTokenRoundTrip tests that an issued token verifies back to the
// same identity.
func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager(testKey, time.Hour)
	token, err := tm.Issue(testAccount())
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	user, err := tm.VerifyToken(token)
	if err != nil {
		t.Fatalf("failed to verify token: %v", err)
	}
	want := realtime.UserInfo{ID: "acct-1", Username: "mdupont", FirstName: "Marie", LastName: "Dupont", Role: domainAccount.RoleTeacher}
	if user != want {
		t.Errorf("expected %+v, got %+v", want, user)
	}
}

// TestVerifyToken_WrongKey tests signature validation.
func TestVerifyToken_WrongKey(t *testing.T) {
	token, err := NewTokenManager(testKey, time.Hour).Issue(testAccount())
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	other := NewTokenManager([]byte("another-key-another-key-another!"), time.Hour)
	if _, err := other.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

// TestVerifyToken_Expired tests expiry enforcement.
func TestVerifyToken_Expired(t *testing.T) {
	tm := NewTokenManager(testKey, time.Hour)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := tm.Issue(testAccount())
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	tm.now = time.Now
	if _, err := tm.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

// TestVerifyToken_Garbage tests rejection of non-token input.
func TestVerifyToken_Garbage(t *testing.T) {
	tm := NewTokenManager(testKey, time.Hour)
	for _, token := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := tm.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken for %q, got %v", token, err)
		}
	}
}

// TestAuthMiddleware tests bearer extraction into the request context.
func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager(testKey, time.Hour)
	token, _ := tm.Issue(testAccount())

	var seen realtime.UserInfo
	var ok bool
	handler := Auth(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = GetUserFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !ok || seen.ID != "acct-1" {
		t.Errorf("expected user in context, got ok=%v user=%+v", ok, seen)
	}

	// No header: handler still runs, context stays empty.
	ok = false
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	if ok {
		t.Error("expected no user without Authorization header")
	}
}

// TestRequireAuth tests the 401 gate.
func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/attendance", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/attendance", nil)
	req = req.WithContext(ContextWithUser(req.Context(), realtime.UserInfo{ID: "acct-1"}))
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// TestRequireRole tests the 403 gate.
func TestRequireRole(t *testing.T) {
	handler := RequireRole(domainAccount.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	req = req.WithContext(ContextWithUser(req.Context(), realtime.UserInfo{ID: "acct-1", Role: domainAccount.RoleTeacher}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
