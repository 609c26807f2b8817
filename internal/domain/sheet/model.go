package sheet

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the roll-call state of one student on one sheet.
// The wire values match what clients and the database store.
type Status string

const (
	StatusNotCalled      Status = "NON_APPELE"
	StatusPresent        Status = "Présent"
	StatusAbsent         Status = "Absent"
	StatusPresentOffsite Status = "Présent_CDI"
	StatusExcused        Status = "Absence_prévue"
)

// ValidStatuses contains every accepted status value.
var ValidStatuses = []Status{
	StatusNotCalled,
	StatusPresent,
	StatusAbsent,
	StatusPresentOffsite,
	StatusExcused,
}

// Domain errors
var (
	ErrInvalidStatus   = errors.New("status must be one of: NON_APPELE, Présent, Absent, Présent_CDI, Absence_prévue")
	ErrEmptyDate       = errors.New("sheet date cannot be empty")
	ErrInvalidDate     = errors.New("sheet date must be in YYYY-MM-DD format")
	ErrEmptyTimeslot   = errors.New("sheet must reference a timeslot")
	ErrBadPublicID     = errors.New("sheet id must be '<date>_<timeslot>'")
	ErrRecordNoSheet   = errors.New("presence record must belong to a sheet")
	ErrRecordNoStudent = errors.New("presence record must belong to a student")
)

// IsValid reports whether s is one of the accepted status values.
func (s Status) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Sheet is one roll-call instance for a given date and timeslot,
// covering a set of classes and groups.
type Sheet struct {
	ID           string // storage row id
	Date         string // YYYY-MM-DD
	TimeslotID   string
	TimeslotName string
	Classes      []string
	Groups       []string
	CreatedBy    string
	CreatedAt    time.Time
}

// Validate checks if the Sheet has valid data.
// PRE: Sheet struct is populated
// POST: Returns nil if valid, error otherwise
// INVARIANT: at most one sheet exists per (Date, TimeslotID); enforced by the store
func (s *Sheet) Validate() error {
	if strings.TrimSpace(s.Date) == "" {
		return ErrEmptyDate
	}
	if _, err := time.Parse("2006-01-02", s.Date); err != nil {
		return ErrInvalidDate
	}
	if strings.TrimSpace(s.TimeslotID) == "" {
		return ErrEmptyTimeslot
	}
	return nil
}

// PublicID returns the client-facing sheet identifier, "<date>_<timeslot>".
func (s *Sheet) PublicID() string {
	return fmt.Sprintf("%s_%s", s.Date, s.TimeslotID)
}

// SplitPublicID parses a client-facing sheet id into its date and timeslot parts.
// PRE: id is of the form "<YYYY-MM-DD>_<timeslot>"
// POST: Returns the two parts or ErrBadPublicID
func SplitPublicID(id string) (date, timeslotID string, err error) {
	parts := strings.SplitN(id, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrBadPublicID
	}
	return parts[0], parts[1], nil
}

// Covers reports whether a student in the given class with the given
// group memberships falls under this sheet's filter.
func (s *Sheet) Covers(className string, groups []string) bool {
	for _, c := range s.Classes {
		if c == className {
			return true
		}
	}
	for _, g := range s.Groups {
		for _, sg := range groups {
			if g == sg {
				return true
			}
		}
	}
	return false
}

// PresenceRecord is one student's current roll-call status within a sheet.
type PresenceRecord struct {
	ID         string
	SheetID    string // storage row id of the owning sheet
	StudentID  string
	Status     Status
	Notes      string
	ModifiedBy string
	ModifiedAt time.Time
}

// Validate checks if the PresenceRecord has valid data.
// PRE: PresenceRecord struct is populated
// POST: Returns nil if valid, error otherwise
// INVARIANT: exactly one record exists per (SheetID, StudentID); enforced by the store
func (r *PresenceRecord) Validate() error {
	if r.SheetID == "" {
		return ErrRecordNoSheet
	}
	if r.StudentID == "" {
		return ErrRecordNoStudent
	}
	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// Stats tallies a sheet's records per status.
type Stats struct {
	Present        int `json:"present"`
	Absent         int `json:"absent"`
	PresentOffsite int `json:"presentOffsite"`
	Excused        int `json:"excused"`
	NotCalled      int `json:"notCalled"`
	Total          int `json:"total"`
}

// Add counts one record's status into the tally.
func (st *Stats) Add(s Status) {
	switch s {
	case StatusPresent:
		st.Present++
	case StatusAbsent:
		st.Absent++
	case StatusPresentOffsite:
		st.PresentOffsite++
	case StatusExcused:
		st.Excused++
	default:
		st.NotCalled++
	}
	st.Total++
}
