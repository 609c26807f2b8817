package student

import (
	"context"

	domain "permappel/internal/domain/student"
)

// Store defines the interface for student persistence.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Student, error)
	List(ctx context.Context) ([]domain.Student, error)
	Save(ctx context.Context, entity domain.Student) error
}
