package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"permappel/internal/adapters/storage/timeslot"
	"permappel/internal/domain/account"
)

// defaultTimeslots are the recurring roll-call slots of the school day.
var defaultTimeslots = []timeslot.Timeslot{
	{ID: "M1", Name: "8h00 - 9h00"},
	{ID: "M2", Name: "9h00 - 10h00"},
	{ID: "M3", Name: "10h15 - 11h15"},
	{ID: "M4", Name: "11h15 - 12h15"},
	{ID: "S1", Name: "13h30 - 14h30"},
	{ID: "S2", Name: "14h30 - 15h30"},
	{ID: "S3", Name: "15h45 - 16h45"},
	{ID: "S4", Name: "16h45 - 17h45"},
}

// SeedAccountStore defines the account store interface needed for seeding.
type SeedAccountStore interface {
	GetByUsername(ctx context.Context, username string) (account.Account, error)
	Save(ctx context.Context, entity account.Account) error
}

// SeedDeps holds dependencies for the bootstrap seeders.
type SeedDeps struct {
	AccountStore  SeedAccountStore
	TimeslotStore timeslot.Store
	GenerateID    func() string
	Now           func() time.Time
}

// ExecuteSeedAdmin creates the initial admin account if no account with
// that username exists yet. Idempotent across restarts.
// PRE: password satisfies the account password policy
func ExecuteSeedAdmin(ctx context.Context, username, password string, deps SeedDeps) error {
	_, err := deps.AccountStore.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for admin account: %w", err)
	}

	a := account.Account{
		ID:        deps.GenerateID(),
		Username:  username,
		FirstName: "Admin",
		Role:      account.RoleAdmin,
		CreatedAt: deps.Now(),
	}
	if err := a.SetPassword(password); err != nil {
		return fmt.Errorf("failed to set admin password: %w", err)
	}
	if err := deps.AccountStore.Save(ctx, a); err != nil {
		return fmt.Errorf("failed to save admin account: %w", err)
	}

	slog.Info("admin_seeded", "username", username)
	return nil
}

// ExecuteSeedTimeslots ensures every default timeslot exists. Existing
// rows keep their stored names.
func ExecuteSeedTimeslots(ctx context.Context, deps SeedDeps) error {
	for _, ts := range defaultTimeslots {
		if _, err := deps.TimeslotStore.GetByID(ctx, ts.ID); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check timeslot %s: %w", ts.ID, err)
		}
		if err := deps.TimeslotStore.Save(ctx, ts); err != nil {
			return fmt.Errorf("failed to seed timeslot %s: %w", ts.ID, err)
		}
	}
	slog.Info("timeslots_seeded", "count", len(defaultTimeslots))
	return nil
}
