package projections

import (
	"context"
	"fmt"
	"sort"
)

// RosterEntry is the wire shape of one roster row.
type RosterEntry struct {
	StudentID string   `json:"studentId"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	ClassName string   `json:"className"`
	Groups    []string `json:"groups"`
}

// ListStudentsQuery narrows the roster by class or group; empty fields
// match everything.
type ListStudentsQuery struct {
	ClassName string
	Group     string
}

// ListStudentsDeps holds dependencies for ListStudents.
type ListStudentsDeps struct {
	StudentStore StudentStore
}

// QueryListStudents returns the roster ordered by last then first name.
func QueryListStudents(ctx context.Context, query ListStudentsQuery, deps ListStudentsDeps) ([]RosterEntry, error) {
	students, err := deps.StudentStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}

	entries := make([]RosterEntry, 0, len(students))
	for _, st := range students {
		if query.ClassName != "" && st.ClassName != query.ClassName {
			continue
		}
		if query.Group != "" && !st.InGroup(query.Group) {
			continue
		}
		entries = append(entries, RosterEntry{
			StudentID: st.ID,
			FirstName: st.FirstName,
			LastName:  st.LastName,
			ClassName: st.ClassName,
			Groups:    st.Groups,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastName != entries[j].LastName {
			return entries[i].LastName < entries[j].LastName
		}
		return entries[i].FirstName < entries[j].FirstName
	})
	return entries, nil
}
