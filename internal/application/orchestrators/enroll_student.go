package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"permappel/internal/domain/student"
)

// EnrollStudentInput carries one roster entry.
type EnrollStudentInput struct {
	FirstName string
	LastName  string
	ClassName string
	Groups    []string
}

// StudentSaveStore defines the student store interface needed for enrollment.
type StudentSaveStore interface {
	Save(ctx context.Context, entity student.Student) error
}

// EnrollStudentDeps holds dependencies for EnrollStudent.
type EnrollStudentDeps struct {
	StudentStore StudentSaveStore
	GenerateID   func() string
}

// ExecuteEnrollStudent adds one student to the roster. Existing sheets are
// not reseeded; the student appears on sheets created afterwards.
// PRE: FirstName, LastName and ClassName are non-empty
// POST: Student persisted and returned with its generated id
func ExecuteEnrollStudent(ctx context.Context, input EnrollStudentInput, deps EnrollStudentDeps) (student.Student, error) {
	st := student.Student{
		ID:        deps.GenerateID(),
		FirstName: input.FirstName,
		LastName:  input.LastName,
		ClassName: input.ClassName,
		Groups:    input.Groups,
	}
	if err := st.Validate(); err != nil {
		return student.Student{}, err
	}

	if err := deps.StudentStore.Save(ctx, st); err != nil {
		return student.Student{}, fmt.Errorf("failed to save student: %w", err)
	}

	slog.Info("student_enrolled", "student_id", st.ID, "class", st.ClassName)

	return st, nil
}

// ImportStudentsResult reports how a bulk import went.
type ImportStudentsResult struct {
	Imported int
	Skipped  int
}

// ExecuteImportStudents enrolls a batch of roster entries, skipping rows
// that fail validation instead of aborting the whole import. A store
// failure still aborts: partial writes are reported as-is.
// POST: every valid row persisted; Skipped counts the invalid ones
func ExecuteImportStudents(ctx context.Context, inputs []EnrollStudentInput, deps EnrollStudentDeps) (ImportStudentsResult, error) {
	var result ImportStudentsResult
	for _, input := range inputs {
		_, err := ExecuteEnrollStudent(ctx, input, deps)
		switch {
		case err == nil:
			result.Imported++
		case errors.Is(err, student.ErrEmptyFirstName),
			errors.Is(err, student.ErrEmptyLastName),
			errors.Is(err, student.ErrEmptyClass):
			result.Skipped++
		default:
			return result, err
		}
	}

	slog.Info("students_imported", "imported", result.Imported, "skipped", result.Skipped)

	return result, nil
}
