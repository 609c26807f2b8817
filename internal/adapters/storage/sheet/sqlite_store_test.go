package sheet

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"permappel/internal/adapters/storage"
	studentStore "permappel/internal/adapters/storage/student"
	timeslotStore "permappel/internal/adapters/storage/timeslot"
	domain "permappel/internal/domain/sheet"
	studentDomain "permappel/internal/domain/student"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	// A single connection keeps the in-memory database alive and the
	// foreign_keys pragma in effect.
	db.SetMaxOpenConns(1)
	if err := storage.InitDB(db); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var createdAt = time.Date(2026, 1, 12, 7, 55, 0, 0, time.UTC)

func seedReferences(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	if err := timeslotStore.NewSQLiteStore(db).Save(ctx, timeslotStore.Timeslot{ID: "M1", Name: "8h00 - 9h00"}); err != nil {
		t.Fatalf("failed to seed timeslot: %v", err)
	}
	students := studentStore.NewSQLiteStore(db)
	for _, st := range []studentDomain.Student{
		{ID: "e1", FirstName: "Lina", LastName: "Benali", ClassName: "3A"},
		{ID: "e2", FirstName: "Hugo", LastName: "Martin", ClassName: "3A"},
	} {
		if err := students.Save(ctx, st); err != nil {
			t.Fatalf("failed to seed student: %v", err)
		}
	}
}

func seedSheet(t *testing.T, store *SQLiteStore) domain.Sheet {
	t.Helper()
	s := domain.Sheet{
		ID:         "sheet-1",
		Date:       "2026-01-12",
		TimeslotID: "M1",
		Classes:    []string{"3A"},
		Groups:     []string{"latin"},
		CreatedBy:  "teacher-1",
		CreatedAt:  createdAt,
	}
	if err := store.Save(context.Background(), s); err != nil {
		t.Fatalf("failed to save sheet: %v", err)
	}
	return s
}

// TestSaveAndGet tests the sheet round trip including the JSON filter columns.
func TestSaveAndGet(t *testing.T) {
	db := setupDB(t)
	seedReferences(t, db)
	store := NewSQLiteStore(db)
	seedSheet(t, store)

	got, err := store.GetByDateAndTimeslot(context.Background(), "2026-01-12", "M1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "sheet-1" || got.CreatedBy != "teacher-1" {
		t.Errorf("unexpected sheet: %+v", got)
	}
	if len(got.Classes) != 1 || got.Classes[0] != "3A" {
		t.Errorf("expected classes [3A], got %v", got.Classes)
	}
	if len(got.Groups) != 1 || got.Groups[0] != "latin" {
		t.Errorf("expected groups [latin], got %v", got.Groups)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("expected created_at %v, got %v", createdAt, got.CreatedAt)
	}
}

// TestGetMissing tests that a missing sheet wraps sql.ErrNoRows.
func TestGetMissing(t *testing.T) {
	db := setupDB(t)
	store := NewSQLiteStore(db)

	if _, err := store.GetByDateAndTimeslot(context.Background(), "2026-01-12", "M1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected wrapped sql.ErrNoRows, got %v", err)
	}
	if _, err := store.GetByID(context.Background(), "nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected wrapped sql.ErrNoRows, got %v", err)
	}
}

// TestDuplicateSlotRejected tests the UNIQUE(date, timeslot_id) constraint.
func TestDuplicateSlotRejected(t *testing.T) {
	db := setupDB(t)
	seedReferences(t, db)
	store := NewSQLiteStore(db)
	seedSheet(t, store)

	dup := domain.Sheet{ID: "sheet-2", Date: "2026-01-12", TimeslotID: "M1", CreatedBy: "teacher-2", CreatedAt: createdAt}
	if err := store.Save(context.Background(), dup); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

// TestSaveRecordUpsert tests that re-saving a (sheet, student) pair
// updates in place.
func TestSaveRecordUpsert(t *testing.T) {
	db := setupDB(t)
	seedReferences(t, db)
	store := NewSQLiteStore(db)
	seedSheet(t, store)
	ctx := context.Background()

	if err := store.SaveRecord(ctx, domain.PresenceRecord{ID: "r1", SheetID: "sheet-1", StudentID: "e1", Status: domain.StatusNotCalled}); err != nil {
		t.Fatalf("failed to save record: %v", err)
	}
	if err := store.SaveRecord(ctx, domain.PresenceRecord{ID: "r1b", SheetID: "sheet-1", StudentID: "e1", Status: domain.StatusPresent, ModifiedBy: "teacher-1", ModifiedAt: createdAt}); err != nil {
		t.Fatalf("failed to upsert record: %v", err)
	}

	records, err := store.ListRecords(ctx, "sheet-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after upsert, got %d", len(records))
	}
	if records[0].Status != domain.StatusPresent || records[0].ModifiedBy != "teacher-1" {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

// TestUpdateRecordStatus tests the status mutation path.
func TestUpdateRecordStatus(t *testing.T) {
	db := setupDB(t)
	seedReferences(t, db)
	store := NewSQLiteStore(db)
	seedSheet(t, store)
	ctx := context.Background()

	for _, studentID := range []string{"e1", "e2"} {
		if err := store.SaveRecord(ctx, domain.PresenceRecord{ID: "r-" + studentID, SheetID: "sheet-1", StudentID: studentID, Status: domain.StatusNotCalled}); err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}
	}

	modifiedAt := createdAt.Add(35 * time.Minute)
	if err := store.UpdateRecordStatus(ctx, "sheet-1", "e1", domain.StatusAbsent, "seen leaving", "teacher-1", modifiedAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := store.ListRecords(ctx, "sheet-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records[0].StudentID != "e1" || records[0].Status != domain.StatusAbsent || records[0].Notes != "seen leaving" {
		t.Errorf("unexpected record: %+v", records[0])
	}
	if !records[0].ModifiedAt.Equal(modifiedAt) {
		t.Errorf("expected modified_at %v, got %v", modifiedAt, records[0].ModifiedAt)
	}
	if records[1].Status != domain.StatusNotCalled {
		t.Errorf("expected e2 untouched, got %+v", records[1])
	}
}

// TestUpdateRecordStatus_Missing tests the no-rows mapping.
func TestUpdateRecordStatus_Missing(t *testing.T) {
	db := setupDB(t)
	seedReferences(t, db)
	store := NewSQLiteStore(db)
	seedSheet(t, store)

	err := store.UpdateRecordStatus(context.Background(), "sheet-1", "ghost", domain.StatusPresent, "", "teacher-1", createdAt)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected wrapped sql.ErrNoRows, got %v", err)
	}
}

// TestUpdateFilters tests filter replacement.
func TestUpdateFilters(t *testing.T) {
	db := setupDB(t)
	seedReferences(t, db)
	store := NewSQLiteStore(db)
	seedSheet(t, store)
	ctx := context.Background()

	if err := store.UpdateFilters(ctx, "sheet-1", []string{"3A", "4B"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := store.GetByID(ctx, "sheet-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Classes) != 2 || got.Classes[1] != "4B" {
		t.Errorf("expected classes [3A 4B], got %v", got.Classes)
	}
	if len(got.Groups) != 0 {
		t.Errorf("expected empty groups, got %v", got.Groups)
	}
}

// TestListOrder tests newest-first listing.
func TestListOrder(t *testing.T) {
	db := setupDB(t)
	seedReferences(t, db)
	store := NewSQLiteStore(db)
	ctx := context.Background()

	for i, date := range []string{"2026-01-12", "2026-01-14", "2026-01-13"} {
		s := domain.Sheet{ID: "sheet-" + date, Date: date, TimeslotID: "M1", CreatedBy: "teacher-1", CreatedAt: createdAt.Add(time.Duration(i) * time.Hour)}
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("failed to save sheet: %v", err)
		}
	}

	sheets, err := store.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sheets) != 3 || sheets[0].Date != "2026-01-14" || sheets[2].Date != "2026-01-12" {
		t.Errorf("unexpected order: %+v", sheets)
	}
}
