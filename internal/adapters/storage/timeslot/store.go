package timeslot

import "context"

// Timeslot is one recurring roll-call slot of the school day (e.g. M1).
type Timeslot struct {
	ID   string
	Name string
}

// Store defines the interface for timeslot persistence.
type Store interface {
	GetByID(ctx context.Context, id string) (Timeslot, error)
	List(ctx context.Context) ([]Timeslot, error)
	Save(ctx context.Context, entity Timeslot) error
}
