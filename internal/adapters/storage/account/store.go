package account

import (
	"context"

	domain "permappel/internal/domain/account"
)

// Store defines the interface for account persistence.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Account, error)
	GetByUsername(ctx context.Context, username string) (domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
	Save(ctx context.Context, entity domain.Account) error
}
