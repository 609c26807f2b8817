package sheet

import (
	"context"
	"time"

	domain "permappel/internal/domain/sheet"
)

// Store defines the interface for attendance sheet persistence.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Sheet, error)
	GetByDateAndTimeslot(ctx context.Context, date, timeslotID string) (domain.Sheet, error)
	List(ctx context.Context) ([]domain.Sheet, error)
	Save(ctx context.Context, entity domain.Sheet) error
	UpdateFilters(ctx context.Context, id string, classes, groups []string) error

	ListRecords(ctx context.Context, sheetID string) ([]domain.PresenceRecord, error)
	SaveRecord(ctx context.Context, record domain.PresenceRecord) error
	UpdateRecordStatus(ctx context.Context, sheetID, studentID string, status domain.Status, notes, modifiedBy string, modifiedAt time.Time) error
}
