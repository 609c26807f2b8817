package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"permappel/internal/domain/account"
)

// ErrAccountLocked means too many consecutive failed logins; the
// account is temporarily unusable even with the right password.
var ErrAccountLocked = errors.New("account temporarily locked, try again later")

// LoginInput carries one login attempt.
type LoginInput struct {
	Username string
	Password string
}

// LoginResult reports the authenticated account and its bearer token.
type LoginResult struct {
	Account account.Account
	Token   string
}

// LoginAccountStore defines the account store interface needed for login.
type LoginAccountStore interface {
	GetByUsername(ctx context.Context, username string) (account.Account, error)
	Save(ctx context.Context, entity account.Account) error
}

// LoginDeps holds dependencies for Login. IssueToken signs a bearer
// token for the account; it is injectable so tests need no signing key.
type LoginDeps struct {
	AccountStore LoginAccountStore
	IssueToken   func(a account.Account) (string, error)
}

// ExecuteLogin authenticates a username/password pair and issues a
// token. Unknown usernames and wrong passwords both map to
// account.ErrWrongPassword so the response does not reveal which one it
// was.
// POST: On success the failed-login counter is reset; on a wrong
// password it is incremented, locking the account after repeated failures
func ExecuteLogin(ctx context.Context, input LoginInput, deps LoginDeps) (LoginResult, error) {
	a, err := deps.AccountStore.GetByUsername(ctx, input.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LoginResult{}, account.ErrWrongPassword
		}
		return LoginResult{}, fmt.Errorf("failed to load account: %w", err)
	}

	if a.IsLocked() {
		slog.Warn("login_locked", "username", input.Username)
		return LoginResult{}, ErrAccountLocked
	}

	if err := a.CheckPassword(input.Password); err != nil {
		a.RecordFailedLogin()
		if saveErr := deps.AccountStore.Save(ctx, a); saveErr != nil {
			slog.Error("login_failure_not_recorded", "username", input.Username, "error", saveErr)
		}
		slog.Info("login_rejected", "username", input.Username, "failed_logins", a.FailedLogins)
		return LoginResult{}, err
	}

	if a.FailedLogins > 0 {
		a.ResetFailedLogins()
		if err := deps.AccountStore.Save(ctx, a); err != nil {
			return LoginResult{}, fmt.Errorf("failed to reset login counter: %w", err)
		}
	}

	token, err := deps.IssueToken(a)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("login_succeeded", "username", input.Username, "role", a.Role)

	return LoginResult{Account: a, Token: token}, nil
}
