package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"permappel/internal/adapters/storage"
	"permappel/internal/domain/sheet"
)

// Orchestrator errors
var (
	// ErrWriteConflict means the store stayed busy after every retry.
	// The change was not applied and must not be broadcast.
	ErrWriteConflict = errors.New("write conflict: store busy after retries")

	// ErrNotFound means the sheet or the student's record does not exist.
	ErrNotFound = errors.New("sheet or presence record not found")
)

// RetryPolicy bounds how the coordinator rides out transient store
// contention. Backoff maps a retry number (1-based) to the delay slept
// before that retry.
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(retry int) time.Duration
}

// DefaultRetryPolicy retries three times, sleeping 100ms, 200ms then
// 300ms, so a conflict surfaces after roughly 600ms at worst.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff: func(retry int) time.Duration {
			return time.Duration(retry) * 100 * time.Millisecond
		},
	}
}

// UpdateStatusInput carries one status mutation request.
type UpdateStatusInput struct {
	SheetID    string // public id, "<date>_<timeslot>"
	StudentID  string
	Status     sheet.Status
	Notes      string
	ModifierID string
}

// UpdateStatusResult reports the durably applied mutation.
type UpdateStatusResult struct {
	SheetID    string
	StudentID  string
	Status     sheet.Status
	ModifiedAt time.Time
}

// UpdateRecordStore defines the sheet store interface needed to apply a
// status change.
type UpdateRecordStore interface {
	GetByDateAndTimeslot(ctx context.Context, date, timeslotID string) (sheet.Sheet, error)
	UpdateRecordStatus(ctx context.Context, sheetID, studentID string, status sheet.Status, notes, modifiedBy string, modifiedAt time.Time) error
}

// UpdateStatusDeps holds dependencies for UpdateStatus.
type UpdateStatusDeps struct {
	SheetStore UpdateRecordStore
	Retry      RetryPolicy
	Now        func() time.Time
	Sleep      func(d time.Duration) // nil means time.Sleep
}

// ExecuteUpdateStatus applies one status mutation durably, tolerating
// contention from the store's single-writer constraint. It never touches
// the channel layer; broadcasting a successful change is the caller's
// responsibility, so persistence and fan-out stay independently
// testable.
// PRE: input.Status is a valid status value
// POST: Returns the applied mutation, ErrNotFound, ErrWriteConflict, or a fatal store error
// INVARIANT: applying the same (sheet, student, status) twice overwrites identically
func ExecuteUpdateStatus(ctx context.Context, input UpdateStatusInput, deps UpdateStatusDeps) (UpdateStatusResult, error) {
	if !input.Status.IsValid() {
		return UpdateStatusResult{}, sheet.ErrInvalidStatus
	}
	date, timeslotID, err := sheet.SplitPublicID(input.SheetID)
	if err != nil {
		return UpdateStatusResult{}, err
	}
	if deps.Sleep == nil {
		deps.Sleep = time.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s, err := deps.SheetStore.GetByDateAndTimeslot(ctx, date, timeslotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UpdateStatusResult{}, ErrNotFound
		}
		return UpdateStatusResult{}, fmt.Errorf("failed to load sheet: %w", err)
	}

	modifiedAt := deps.Now()
	for retry := 0; ; retry++ {
		err = deps.SheetStore.UpdateRecordStatus(ctx, s.ID, input.StudentID, input.Status, input.Notes, input.ModifierID, modifiedAt)
		if err == nil {
			break
		}
		if errors.Is(err, sql.ErrNoRows) {
			return UpdateStatusResult{}, ErrNotFound
		}
		if !storage.IsBusy(err) {
			return UpdateStatusResult{}, fmt.Errorf("failed to update status: %w", err)
		}
		if retry >= deps.Retry.MaxRetries {
			slog.Warn("status_update_conflict", "sheet_id", input.SheetID, "student_id", input.StudentID, "retries", retry)
			return UpdateStatusResult{}, ErrWriteConflict
		}
		deps.Sleep(deps.Retry.Backoff(retry + 1))
	}

	slog.Info("status_updated", "sheet_id", input.SheetID, "student_id", input.StudentID, "status", string(input.Status), "modified_by", input.ModifierID)

	return UpdateStatusResult{
		SheetID:    input.SheetID,
		StudentID:  input.StudentID,
		Status:     input.Status,
		ModifiedAt: modifiedAt,
	}, nil
}
