package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	domainAccount "permappel/internal/domain/account"
	"permappel/internal/realtime"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const userContextKey contextKey = "user"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoToken      = errors.New("missing bearer token")
)

// tokenClaims is the JWT payload issued at login. The identity fields
// ride inside the token so the websocket hub can authenticate a channel
// without a database round trip.
type tokenClaims struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies the HMAC-signed bearer tokens used
// by both the REST API and the websocket channel.
type TokenManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenManager creates a TokenManager. A zero ttl defaults to 24 hours.
func NewTokenManager(key []byte, ttl time.Duration) *TokenManager {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{key: key, ttl: ttl, now: time.Now}
}

// Issue signs a token for the account.
// POST: Token carries the account id as subject plus display identity claims
func (tm *TokenManager) Issue(a domainAccount.Account) (string, error) {
	now := tm.now()
	claims := tokenClaims{
		Username:  a.Username,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Role:      a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.key)
}

// VerifyToken parses and validates a token and returns the identity
// bound to it. Satisfies the hub's TokenVerifier interface.
func (tm *TokenManager) VerifyToken(token string) (realtime.UserInfo, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return tm.key, nil
	})
	if err != nil || !parsed.Valid {
		return realtime.UserInfo{}, ErrInvalidToken
	}
	return realtime.UserInfo{
		ID:        claims.Subject,
		Username:  claims.Username,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		Role:      claims.Role,
	}, nil
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrNoToken
	}
	return parts[1], nil
}

// Auth returns middleware that resolves the bearer token and sets the
// user in context. It does NOT block unauthenticated requests; use
// RequireAuth or RequireRole for that.
func Auth(tokens *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, err := bearerToken(r); err == nil {
				if user, err := tokens.VerifyToken(token); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), userContextKey, user))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns middleware that rejects unauthenticated requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole returns middleware that blocks users without one of the
// specified roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUserFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !roleSet[user.Role] {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) (realtime.UserInfo, bool) {
	user, ok := ctx.Value(userContextKey).(realtime.UserInfo)
	return user, ok
}

// IsAdmin checks if the current user is an admin.
func IsAdmin(ctx context.Context) bool {
	user, ok := GetUserFromContext(ctx)
	return ok && user.Role == domainAccount.RoleAdmin
}

// ContextWithUser returns a context with the given user set.
// Intended for use in tests.
func ContextWithUser(ctx context.Context, user realtime.UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
