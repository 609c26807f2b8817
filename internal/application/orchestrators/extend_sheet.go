package orchestrators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"permappel/internal/domain/sheet"
)

// ExtendSheetInput adds classes and/or groups to an existing sheet's filter.
type ExtendSheetInput struct {
	SheetID string // public id
	Classes []string
	Groups  []string
}

// ExtendSheetResult reports the updated sheet and how many presence
// records were added for newly covered students.
type ExtendSheetResult struct {
	Sheet        sheet.Sheet
	AddedRecords int
}

// ExtendSheetStore defines the sheet store interface needed to extend a sheet.
type ExtendSheetStore interface {
	CreateSheetStore
	UpdateFilters(ctx context.Context, id string, classes, groups []string) error
	ListRecords(ctx context.Context, sheetID string) ([]sheet.PresenceRecord, error)
}

// ExtendSheetDeps holds dependencies for ExtendSheet.
type ExtendSheetDeps struct {
	SheetStore   ExtendSheetStore
	StudentStore StudentListStore
	GenerateID   func() string
	Now          func() time.Time
}

// ExecuteExtendSheet widens a sheet's class/group filter and seeds
// records for students the wider filter now covers. Existing records are
// left untouched.
// PRE: SheetID references an existing sheet
// POST: Filter lists merged (no duplicates); one NON_APPELE record per newly covered student
func ExecuteExtendSheet(ctx context.Context, input ExtendSheetInput, deps ExtendSheetDeps) (ExtendSheetResult, error) {
	date, timeslotID, err := sheet.SplitPublicID(input.SheetID)
	if err != nil {
		return ExtendSheetResult{}, err
	}

	s, err := deps.SheetStore.GetByDateAndTimeslot(ctx, date, timeslotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExtendSheetResult{}, ErrNotFound
		}
		return ExtendSheetResult{}, fmt.Errorf("failed to load sheet: %w", err)
	}

	s.Classes = mergeDistinct(s.Classes, input.Classes)
	s.Groups = mergeDistinct(s.Groups, input.Groups)
	if err := deps.SheetStore.UpdateFilters(ctx, s.ID, s.Classes, s.Groups); err != nil {
		return ExtendSheetResult{}, fmt.Errorf("failed to update sheet filters: %w", err)
	}

	existing, err := deps.SheetStore.ListRecords(ctx, s.ID)
	if err != nil {
		return ExtendSheetResult{}, fmt.Errorf("failed to list records: %w", err)
	}
	skip := make(map[string]bool, len(existing))
	for _, r := range existing {
		skip[r.StudentID] = true
	}

	added, err := seedRecords(ctx, deps.SheetStore, deps.StudentStore, s, skip, deps.GenerateID)
	if err != nil {
		return ExtendSheetResult{}, err
	}

	slog.Info("sheet_extended", "sheet_id", input.SheetID, "added_records", added)

	return ExtendSheetResult{Sheet: s, AddedRecords: added}, nil
}

func mergeDistinct(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	merged := make([]string, 0, len(base)+len(extra))
	for _, v := range base {
		if v != "" && !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	for _, v := range extra {
		if v != "" && !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	return merged
}
