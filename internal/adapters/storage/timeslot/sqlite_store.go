package timeslot

import (
	"context"
	"database/sql"
	"fmt"

	"permappel/internal/adapters/storage"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new timeslot Store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves a Timeslot by its ID.
// PRE: id is non-empty
// POST: Returns the entity or an error wrapping sql.ErrNoRows if not found
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (Timeslot, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, name FROM timeslot WHERE id = ?", id)
	var entity Timeslot
	err := row.Scan(&entity.ID, &entity.Name)
	if err == sql.ErrNoRows {
		return Timeslot{}, fmt.Errorf("timeslot not found: %w", err)
	}
	return entity, err
}

// List retrieves all timeslots ordered by id.
// PRE: none
// POST: Returns all timeslots
func (s *SQLiteStore) List(ctx context.Context) ([]Timeslot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM timeslot ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Timeslot
	for rows.Next() {
		var entity Timeslot
		if err := rows.Scan(&entity.ID, &entity.Name); err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	return results, rows.Err()
}

// Save persists a Timeslot to the database.
// PRE: entity has a non-empty ID and name
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, entity Timeslot) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO timeslot (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name=excluded.name",
		entity.ID, entity.Name)
	return err
}
