package student

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"permappel/internal/adapters/storage"
	domain "permappel/internal/domain/student"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new student Store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Student by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Student, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, first_name, last_name, class_name, groups_json FROM student WHERE id = ?", id)

	var entity domain.Student
	var groupsJSON string
	err := row.Scan(&entity.ID, &entity.FirstName, &entity.LastName, &entity.ClassName, &groupsJSON)
	if err == sql.ErrNoRows {
		return domain.Student{}, fmt.Errorf("student not found: %w", err)
	}
	if err != nil {
		return domain.Student{}, err
	}
	if err := json.Unmarshal([]byte(groupsJSON), &entity.Groups); err != nil {
		return domain.Student{}, fmt.Errorf("failed to parse groups_json: %w", err)
	}
	return entity, nil
}

// List retrieves all students ordered by last name.
// PRE: none
// POST: Returns all students
func (s *SQLiteStore) List(ctx context.Context) ([]domain.Student, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, first_name, last_name, class_name, groups_json FROM student ORDER BY last_name, first_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Student
	for rows.Next() {
		var entity domain.Student
		var groupsJSON string
		if err := rows.Scan(&entity.ID, &entity.FirstName, &entity.LastName, &entity.ClassName, &groupsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(groupsJSON), &entity.Groups); err != nil {
			return nil, fmt.Errorf("failed to parse groups_json: %w", err)
		}
		results = append(results, entity)
	}
	return results, rows.Err()
}

// Save persists a Student to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, entity domain.Student) error {
	groupsJSON, err := json.Marshal(entity.Groups)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO student (id, first_name, last_name, class_name, groups_json)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			first_name=excluded.first_name,
			last_name=excluded.last_name,
			class_name=excluded.class_name,
			groups_json=excluded.groups_json`,
		entity.ID, entity.FirstName, entity.LastName, entity.ClassName, string(groupsJSON))
	return err
}
