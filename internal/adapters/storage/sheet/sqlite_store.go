package sheet

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"permappel/internal/adapters/storage"
	domain "permappel/internal/domain/sheet"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new sheet Store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sheetColumns = "id, date, timeslot_id, classes_json, groups_json, created_by, created_at"

func scanSheet(scan func(dest ...any) error) (domain.Sheet, error) {
	var entity domain.Sheet
	var classesJSON, groupsJSON, createdAt string
	err := scan(
		&entity.ID,
		&entity.Date,
		&entity.TimeslotID,
		&classesJSON,
		&groupsJSON,
		&entity.CreatedBy,
		&createdAt,
	)
	if err != nil {
		return domain.Sheet{}, err
	}
	if err := json.Unmarshal([]byte(classesJSON), &entity.Classes); err != nil {
		return domain.Sheet{}, fmt.Errorf("failed to parse classes_json: %w", err)
	}
	if err := json.Unmarshal([]byte(groupsJSON), &entity.Groups); err != nil {
		return domain.Sheet{}, fmt.Errorf("failed to parse groups_json: %w", err)
	}
	entity.CreatedAt, err = storage.ParseStoredTime(createdAt)
	if err != nil {
		return domain.Sheet{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return entity, nil
}

// GetByID retrieves a Sheet by its row id.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Sheet, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sheetColumns+" FROM attendance_sheet WHERE id = ?", id)
	entity, err := scanSheet(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Sheet{}, fmt.Errorf("sheet not found: %w", err)
	}
	return entity, err
}

// GetByDateAndTimeslot retrieves the unique Sheet for a (date, timeslot) pair.
// PRE: date is YYYY-MM-DD, timeslotID is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByDateAndTimeslot(ctx context.Context, date, timeslotID string) (domain.Sheet, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sheetColumns+" FROM attendance_sheet WHERE date = ? AND timeslot_id = ?",
		date, timeslotID)
	entity, err := scanSheet(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Sheet{}, fmt.Errorf("sheet not found: %w", err)
	}
	return entity, err
}

// List retrieves all sheets ordered by date descending.
// PRE: none
// POST: Returns all sheets, newest first
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Sheet, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sheetColumns+" FROM attendance_sheet ORDER BY date DESC, timeslot_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Sheet
	for rows.Next() {
		entity, err := scanSheet(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	return results, rows.Err()
}

// Save persists a Sheet to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
// INVARIANT: the UNIQUE(date, timeslot_id) constraint rejects a second sheet for the same slot
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Sheet) error {
	classesJSON, err := json.Marshal(entity.Classes)
	if err != nil {
		return err
	}
	groupsJSON, err := json.Marshal(entity.Groups)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attendance_sheet (id, date, timeslot_id, classes_json, groups_json, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			classes_json=excluded.classes_json,
			groups_json=excluded.groups_json`,
		entity.ID,
		entity.Date,
		entity.TimeslotID,
		string(classesJSON),
		string(groupsJSON),
		entity.CreatedBy,
		entity.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// UpdateFilters replaces a sheet's class and group filter lists.
// PRE: id is non-empty
// POST: classes_json and groups_json are replaced
func (s *SQLiteStore) UpdateFilters(ctx context.Context, id string, classes, groups []string) error {
	classesJSON, err := json.Marshal(classes)
	if err != nil {
		return err
	}
	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE attendance_sheet SET classes_json = ?, groups_json = ? WHERE id = ?",
		string(classesJSON), string(groupsJSON), id)
	return err
}

// ListRecords retrieves all presence records of a sheet.
// PRE: sheetID is non-empty
// POST: Returns the sheet's records ordered by student id
func (s *SQLiteStore) ListRecords(ctx context.Context, sheetID string) ([]domain.PresenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sheet_id, student_id, status, notes, modified_by, modified_at
		 FROM presence_record WHERE sheet_id = ? ORDER BY student_id`, sheetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.PresenceRecord
	for rows.Next() {
		var entity domain.PresenceRecord
		var status string
		var modifiedBy, modifiedAt sql.NullString
		if err := rows.Scan(
			&entity.ID,
			&entity.SheetID,
			&entity.StudentID,
			&status,
			&entity.Notes,
			&modifiedBy,
			&modifiedAt,
		); err != nil {
			return nil, err
		}
		entity.Status = domain.Status(status)
		if modifiedBy.Valid {
			entity.ModifiedBy = modifiedBy.String
		}
		if modifiedAt.Valid {
			entity.ModifiedAt, err = storage.ParseStoredTime(modifiedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse modified_at: %w", err)
			}
		}
		results = append(results, entity)
	}
	return results, rows.Err()
}

// SaveRecord persists a PresenceRecord (insert or update).
// PRE: record has been validated
// POST: Record is persisted; re-inserting the same (sheet, student) pair updates in place
func (s *SQLiteStore) SaveRecord(ctx context.Context, record domain.PresenceRecord) error {
	var modifiedBy, modifiedAt any
	if record.ModifiedBy != "" {
		modifiedBy = record.ModifiedBy
	}
	if !record.ModifiedAt.IsZero() {
		modifiedAt = record.ModifiedAt.Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence_record (id, sheet_id, student_id, status, notes, modified_by, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sheet_id, student_id) DO UPDATE SET
			status=excluded.status,
			notes=excluded.notes,
			modified_by=excluded.modified_by,
			modified_at=excluded.modified_at`,
		record.ID,
		record.SheetID,
		record.StudentID,
		string(record.Status),
		record.Notes,
		modifiedBy,
		modifiedAt,
	)
	return err
}

// UpdateRecordStatus applies one status mutation inside an immediate
// transaction, so a concurrent writer surfaces SQLITE_BUSY instead of
// interleaving.
// PRE: status is a valid domain.Status
// POST: Record updated, or an error wrapping sql.ErrNoRows if the record does not exist
func (s *SQLiteStore) UpdateRecordStatus(ctx context.Context, sheetID, studentID string, status domain.Status, notes, modifiedBy string, modifiedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE presence_record
		 SET status = ?, notes = ?, modified_by = ?, modified_at = ?
		 WHERE sheet_id = ? AND student_id = ?`,
		string(status), notes, modifiedBy, modifiedAt.Format(time.RFC3339Nano),
		sheetID, studentID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("presence record not found: %w", sql.ErrNoRows)
	}
	return tx.Commit()
}
