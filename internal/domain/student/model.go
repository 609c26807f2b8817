package student

import (
	"errors"
	"strings"
)

// Domain errors
var (
	ErrEmptyFirstName = errors.New("student first name cannot be empty")
	ErrEmptyLastName  = errors.New("student last name cannot be empty")
	ErrEmptyClass     = errors.New("student must belong to a class")
)

// Student holds state for the Student concept.
type Student struct {
	ID        string
	FirstName string
	LastName  string
	ClassName string
	Groups    []string
}

// Validate checks if the Student has valid data.
// PRE: Student struct is populated
// POST: Returns nil if valid, error otherwise
func (s *Student) Validate() error {
	if strings.TrimSpace(s.FirstName) == "" {
		return ErrEmptyFirstName
	}
	if strings.TrimSpace(s.LastName) == "" {
		return ErrEmptyLastName
	}
	if strings.TrimSpace(s.ClassName) == "" {
		return ErrEmptyClass
	}
	return nil
}

// FullName returns the student's display name.
func (s *Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// InGroup reports whether the student belongs to the named group.
func (s *Student) InGroup(name string) bool {
	for _, g := range s.Groups {
		if g == name {
			return true
		}
	}
	return false
}
