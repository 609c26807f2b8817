package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"permappel/internal/adapters/storage/timeslot"
	"permappel/internal/domain/sheet"
	"permappel/internal/domain/student"
)

// ErrSheetExists means a sheet already covers the requested (date, timeslot).
var ErrSheetExists = errors.New("a sheet already exists for this date and timeslot")

// CreateSheetInput carries input for the create-sheet orchestrator.
type CreateSheetInput struct {
	Date       string // YYYY-MM-DD
	TimeslotID string
	Classes    []string
	Groups     []string
	CreatedBy  string
}

// CreateSheetResult reports the created sheet and how many presence
// records were seeded.
type CreateSheetResult struct {
	Sheet       sheet.Sheet
	RecordCount int
}

// CreateSheetStore defines the sheet store interface needed to create a sheet.
type CreateSheetStore interface {
	GetByDateAndTimeslot(ctx context.Context, date, timeslotID string) (sheet.Sheet, error)
	Save(ctx context.Context, entity sheet.Sheet) error
	SaveRecord(ctx context.Context, record sheet.PresenceRecord) error
}

// StudentListStore defines the student store interface needed for seeding.
type StudentListStore interface {
	List(ctx context.Context) ([]student.Student, error)
}

// TimeslotLookupStore defines the timeslot store interface needed for validation.
type TimeslotLookupStore interface {
	GetByID(ctx context.Context, id string) (timeslot.Timeslot, error)
}

// CreateSheetDeps holds dependencies for CreateSheet.
type CreateSheetDeps struct {
	SheetStore    CreateSheetStore
	StudentStore  StudentListStore
	TimeslotStore TimeslotLookupStore
	GenerateID    func() string
	Now           func() time.Time
}

// ExecuteCreateSheet creates one attendance sheet and seeds a NotCalled
// presence record for every student matching the class/group filter.
// PRE: Date is YYYY-MM-DD, TimeslotID references an existing timeslot
// POST: Sheet persisted with one record per covered student, all NON_APPELE
// INVARIANT: at most one sheet per (date, timeslot); a duplicate returns ErrSheetExists
func ExecuteCreateSheet(ctx context.Context, input CreateSheetInput, deps CreateSheetDeps) (CreateSheetResult, error) {
	s := sheet.Sheet{
		ID:         deps.GenerateID(),
		Date:       input.Date,
		TimeslotID: input.TimeslotID,
		Classes:    input.Classes,
		Groups:     input.Groups,
		CreatedBy:  input.CreatedBy,
		CreatedAt:  deps.Now(),
	}
	if err := s.Validate(); err != nil {
		return CreateSheetResult{}, err
	}

	if _, err := deps.TimeslotStore.GetByID(ctx, input.TimeslotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CreateSheetResult{}, ErrNotFound
		}
		return CreateSheetResult{}, fmt.Errorf("failed to look up timeslot: %w", err)
	}

	if _, err := deps.SheetStore.GetByDateAndTimeslot(ctx, input.Date, input.TimeslotID); err == nil {
		return CreateSheetResult{}, ErrSheetExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return CreateSheetResult{}, fmt.Errorf("failed to check for existing sheet: %w", err)
	}

	if err := deps.SheetStore.Save(ctx, s); err != nil {
		return CreateSheetResult{}, fmt.Errorf("failed to save sheet: %w", err)
	}

	count, err := seedRecords(ctx, deps.SheetStore, deps.StudentStore, s, nil, deps.GenerateID)
	if err != nil {
		return CreateSheetResult{}, err
	}

	slog.Info("sheet_created", "sheet_id", s.PublicID(), "created_by", input.CreatedBy, "records", count)

	return CreateSheetResult{Sheet: s, RecordCount: count}, nil
}

// seedRecords creates a NON_APPELE record for every covered student not
// already present in skip.
func seedRecords(ctx context.Context, sheets CreateSheetStore, students StudentListStore, s sheet.Sheet, skip map[string]bool, generateID func() string) (int, error) {
	all, err := students.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list students: %w", err)
	}

	count := 0
	for _, st := range all {
		if skip[st.ID] || !s.Covers(st.ClassName, st.Groups) {
			continue
		}
		record := sheet.PresenceRecord{
			ID:        generateID(),
			SheetID:   s.ID,
			StudentID: st.ID,
			Status:    sheet.StatusNotCalled,
		}
		if err := sheets.SaveRecord(ctx, record); err != nil {
			return count, fmt.Errorf("failed to seed record for student %s: %w", st.ID, err)
		}
		count++
	}
	return count, nil
}
