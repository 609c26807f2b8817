package projections

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"permappel/internal/domain/sheet"
)

// ErrSheetNotFound means no sheet exists for the requested id.
var ErrSheetNotFound = errors.New("sheet not found")

// StudentEntry is one student's row in a sheet snapshot.
type StudentEntry struct {
	StudentID  string       `json:"studentId"`
	FirstName  string       `json:"firstName"`
	LastName   string       `json:"lastName"`
	ClassName  string       `json:"className"`
	Groups     []string     `json:"groups"`
	Status     sheet.Status `json:"status"`
	Notes      string       `json:"notes,omitempty"`
	ModifiedBy string       `json:"modifiedBy,omitempty"`
	ModifiedAt time.Time    `json:"modifiedAt,omitempty"`
}

// SheetSnapshot is the full authoritative state of one sheet, as served
// to clients over HTTP. It is what a client reconciles against.
type SheetSnapshot struct {
	SheetID      string         `json:"sheetId"`
	Date         string         `json:"date"`
	TimeslotID   string         `json:"timeslotId"`
	TimeslotName string         `json:"timeslotName"`
	Classes      []string       `json:"classes"`
	Groups       []string       `json:"groups"`
	Students     []StudentEntry `json:"students"`
	Stats        sheet.Stats    `json:"stats"`
}

// GetSheetQuery carries query parameters.
type GetSheetQuery struct {
	SheetID string // public id, "<date>_<timeslot>"
}

// GetSheetDeps holds dependencies for GetSheet.
type GetSheetDeps struct {
	SheetStore    SheetStore
	StudentStore  StudentStore
	TimeslotStore TimeslotStore // optional: nil skips the timeslot name
}

// QueryGetSheet builds the snapshot of one sheet: every covered student
// joined with their presence record, plus per-status tallies.
// POST: Students are ordered by class then last name; every record has
// a matching student entry
func QueryGetSheet(ctx context.Context, query GetSheetQuery, deps GetSheetDeps) (SheetSnapshot, error) {
	date, timeslotID, err := sheet.SplitPublicID(query.SheetID)
	if err != nil {
		return SheetSnapshot{}, err
	}

	s, err := deps.SheetStore.GetByDateAndTimeslot(ctx, date, timeslotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SheetSnapshot{}, ErrSheetNotFound
		}
		return SheetSnapshot{}, fmt.Errorf("failed to load sheet: %w", err)
	}

	records, err := deps.SheetStore.ListRecords(ctx, s.ID)
	if err != nil {
		return SheetSnapshot{}, fmt.Errorf("failed to list records: %w", err)
	}

	students, err := deps.StudentStore.List(ctx)
	if err != nil {
		return SheetSnapshot{}, fmt.Errorf("failed to list students: %w", err)
	}
	byID := make(map[string]int, len(students))
	for i, st := range students {
		byID[st.ID] = i
	}

	snapshot := SheetSnapshot{
		SheetID:      s.PublicID(),
		Date:         s.Date,
		TimeslotID:   s.TimeslotID,
		TimeslotName: s.TimeslotName,
		Classes:      s.Classes,
		Groups:       s.Groups,
		Students:     make([]StudentEntry, 0, len(records)),
	}
	if snapshot.TimeslotName == "" && deps.TimeslotStore != nil {
		if ts, err := deps.TimeslotStore.GetByID(ctx, s.TimeslotID); err == nil {
			snapshot.TimeslotName = ts.Name
		}
	}

	for _, r := range records {
		entry := StudentEntry{
			StudentID:  r.StudentID,
			Status:     r.Status,
			Notes:      r.Notes,
			ModifiedBy: r.ModifiedBy,
			ModifiedAt: r.ModifiedAt,
		}
		if i, ok := byID[r.StudentID]; ok {
			entry.FirstName = students[i].FirstName
			entry.LastName = students[i].LastName
			entry.ClassName = students[i].ClassName
			entry.Groups = students[i].Groups
		}
		snapshot.Students = append(snapshot.Students, entry)
		snapshot.Stats.Add(r.Status)
	}

	sort.Slice(snapshot.Students, func(i, j int) bool {
		a, b := snapshot.Students[i], snapshot.Students[j]
		if a.ClassName != b.ClassName {
			return a.ClassName < b.ClassName
		}
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		return a.FirstName < b.FirstName
	})

	return snapshot, nil
}
