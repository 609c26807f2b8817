package projections

import (
	"context"

	"permappel/internal/adapters/storage/timeslot"
	domainSheet "permappel/internal/domain/sheet"
	domainStudent "permappel/internal/domain/student"
)

// SheetStore interface for sheet queries.
type SheetStore interface {
	GetByDateAndTimeslot(ctx context.Context, date, timeslotID string) (domainSheet.Sheet, error)
	List(ctx context.Context) ([]domainSheet.Sheet, error)
	ListRecords(ctx context.Context, sheetID string) ([]domainSheet.PresenceRecord, error)
}

// StudentStore interface for student queries.
type StudentStore interface {
	List(ctx context.Context) ([]domainStudent.Student, error)
}

// TimeslotStore interface for timeslot queries.
type TimeslotStore interface {
	GetByID(ctx context.Context, id string) (timeslot.Timeslot, error)
	List(ctx context.Context) ([]timeslot.Timeslot, error)
}
