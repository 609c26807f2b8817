package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"permappel/internal/adapters/http/middleware"
	"permappel/internal/application/orchestrators"
	"permappel/internal/application/projections"
	accountDomain "permappel/internal/domain/account"
	sheetDomain "permappel/internal/domain/sheet"
	studentDomain "permappel/internal/domain/student"
	"permappel/internal/realtime"
)

// timeNow is a variable for testability.
var timeNow = time.Now

// generateID creates a new UUID string.
func generateID() string {
	return uuid.New().String()
}

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeJSON serializes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/login", handleLogin)
	mux.Handle("/api/auth/me", middleware.RequireAuth(http.HandlerFunc(handleMe)))
	mux.Handle("/api/attendance", middleware.RequireAuth(http.HandlerFunc(handleAttendance)))
	mux.Handle("/api/attendance/", middleware.RequireAuth(http.HandlerFunc(handleAttendanceItem)))
	mux.Handle("/api/students", middleware.RequireAuth(http.HandlerFunc(handleStudents)))
	mux.Handle("/api/students/import", middleware.RequireAuth(http.HandlerFunc(handleImportStudents)))
	mux.Handle("/api/timeslots", middleware.RequireAuth(http.HandlerFunc(handleTimeslots)))
	mux.HandleFunc("/api/server-info", handleServerInfo)
	mux.HandleFunc("/ws", handleWS)
}

// handleLogin exchanges a username/password pair for a bearer token.
func handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := orchestrators.ExecuteLogin(r.Context(), orchestrators.LoginInput{
		Username: req.Username,
		Password: req.Password,
	}, orchestrators.LoginDeps{
		AccountStore: stores.AccountStore,
		IssueToken:   tokens.Issue,
	})
	if err != nil {
		switch {
		case errors.Is(err, accountDomain.ErrWrongPassword):
			http.Error(w, "incorrect username or password", http.StatusUnauthorized)
		case errors.Is(err, orchestrators.ErrAccountLocked):
			http.Error(w, "account temporarily locked", http.StatusForbidden)
		default:
			internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": realtime.UserInfo{
			ID:        result.Account.ID,
			Username:  result.Account.Username,
			FirstName: result.Account.FirstName,
			LastName:  result.Account.LastName,
			Role:      result.Account.Role,
		},
	})
}

// handleMe returns the identity bound to the presented token.
func handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user, _ := middleware.GetUserFromContext(r.Context())
	writeJSON(w, http.StatusOK, user)
}

// handleAttendance handles both GET (list) and POST (create) for /api/attendance
func handleAttendance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		summaries, err := projections.QueryListSheets(ctx, projections.ListSheetsQuery{
			Date: r.URL.Query().Get("date"),
		}, projections.ListSheetsDeps{
			SheetStore:    stores.SheetStore,
			TimeslotStore: stores.TimeslotStore,
		})
		if err != nil {
			internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)

	case http.MethodPost:
		var req struct {
			Date       string   `json:"date"`
			TimeslotID string   `json:"timeslotId"`
			Classes    []string `json:"classes"`
			Groups     []string `json:"groups"`
		}
		if err := strictDecode(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		user, _ := middleware.GetUserFromContext(ctx)

		result, err := orchestrators.ExecuteCreateSheet(ctx, orchestrators.CreateSheetInput{
			Date:       req.Date,
			TimeslotID: req.TimeslotID,
			Classes:    req.Classes,
			Groups:     req.Groups,
			CreatedBy:  user.ID,
		}, orchestrators.CreateSheetDeps{
			SheetStore:    stores.SheetStore,
			StudentStore:  stores.StudentStore,
			TimeslotStore: stores.TimeslotStore,
			GenerateID:    generateID,
			Now:           timeNow,
		})
		if err != nil {
			switch {
			case errors.Is(err, orchestrators.ErrSheetExists):
				http.Error(w, "a sheet already exists for this date and timeslot", http.StatusConflict)
			case errors.Is(err, orchestrators.ErrNotFound):
				http.Error(w, "unknown timeslot", http.StatusBadRequest)
			case errors.Is(err, sheetDomain.ErrEmptyDate),
				errors.Is(err, sheetDomain.ErrInvalidDate),
				errors.Is(err, sheetDomain.ErrEmptyTimeslot):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				internalError(w, err)
			}
			return
		}

		snapshot, err := projections.QueryGetSheet(ctx, projections.GetSheetQuery{SheetID: result.Sheet.PublicID()}, snapshotDeps())
		if err != nil {
			internalError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAttendanceItem routes /api/attendance/{sheetId}[/...] requests.
func handleAttendanceItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/attendance/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		handleGetSheet(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "student" && r.Method == http.MethodPut:
		handleUpdateStatus(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "groups" && r.Method == http.MethodPost:
		handleExtendSheet(w, r, parts[0], "groups")
	case len(parts) == 2 && parts[1] == "classes" && r.Method == http.MethodPost:
		handleExtendSheet(w, r, parts[0], "classes")
	default:
		http.NotFound(w, r)
	}
}

func snapshotDeps() projections.GetSheetDeps {
	return projections.GetSheetDeps{
		SheetStore:    stores.SheetStore,
		StudentStore:  stores.StudentStore,
		TimeslotStore: stores.TimeslotStore,
	}
}

func handleGetSheet(w http.ResponseWriter, r *http.Request, sheetID string) {
	snapshot, err := projections.QueryGetSheet(r.Context(), projections.GetSheetQuery{SheetID: sheetID}, snapshotDeps())
	if err != nil {
		switch {
		case errors.Is(err, projections.ErrSheetNotFound):
			http.Error(w, "sheet not found", http.StatusNotFound)
		case errors.Is(err, sheetDomain.ErrBadPublicID):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			internalError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleUpdateStatus applies one status change over REST, then pushes
// the confirmed change to every channel joined to the sheet.
func handleUpdateStatus(w http.ResponseWriter, r *http.Request, sheetID, studentID string) {
	var req struct {
		Status sheetDomain.Status `json:"status"`
		Notes  string             `json:"notes"`
	}
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	user, _ := middleware.GetUserFromContext(r.Context())

	result, err := orchestrators.ExecuteUpdateStatus(r.Context(), orchestrators.UpdateStatusInput{
		SheetID:    sheetID,
		StudentID:  studentID,
		Status:     req.Status,
		Notes:      req.Notes,
		ModifierID: user.ID,
	}, orchestrators.UpdateStatusDeps{
		SheetStore: stores.SheetStore,
		Retry:      orchestrators.DefaultRetryPolicy(),
		Now:        timeNow,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrators.ErrWriteConflict):
			http.Error(w, "write conflict, please retry", http.StatusConflict)
		case errors.Is(err, orchestrators.ErrNotFound):
			http.Error(w, "sheet or student not found", http.StatusNotFound)
		case errors.Is(err, sheetDomain.ErrInvalidStatus),
			errors.Is(err, sheetDomain.ErrBadPublicID):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			internalError(w, err)
		}
		return
	}

	hub.BroadcastStatusChanged(result.SheetID, result.StudentID, result.Status, user.ID, result.ModifiedAt)

	writeJSON(w, http.StatusOK, realtime.StatusUpdatedPayload{
		SheetID:    result.SheetID,
		StudentID:  result.StudentID,
		Status:     result.Status,
		ModifiedBy: user.ID,
		Timestamp:  result.ModifiedAt,
	})
}

// handleExtendSheet widens a sheet's class or group filter.
func handleExtendSheet(w http.ResponseWriter, r *http.Request, sheetID, kind string) {
	var req struct {
		Classes []string `json:"classes"`
		Groups  []string `json:"groups"`
	}
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	input := orchestrators.ExtendSheetInput{SheetID: sheetID}
	if kind == "groups" {
		input.Groups = req.Groups
	} else {
		input.Classes = req.Classes
	}

	_, err := orchestrators.ExecuteExtendSheet(r.Context(), input, orchestrators.ExtendSheetDeps{
		SheetStore:   stores.SheetStore,
		StudentStore: stores.StudentStore,
		GenerateID:   generateID,
		Now:          timeNow,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrators.ErrNotFound):
			http.Error(w, "sheet not found", http.StatusNotFound)
		case errors.Is(err, sheetDomain.ErrBadPublicID):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			internalError(w, err)
		}
		return
	}

	snapshot, err := projections.QueryGetSheet(r.Context(), projections.GetSheetQuery{SheetID: sheetID}, snapshotDeps())
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleStudents handles both GET (list) and POST (enroll) for /api/students
func handleStudents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		entries, err := projections.QueryListStudents(ctx, projections.ListStudentsQuery{
			ClassName: r.URL.Query().Get("class"),
			Group:     r.URL.Query().Get("group"),
		}, projections.ListStudentsDeps{StudentStore: stores.StudentStore})
		if err != nil {
			internalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)

	case http.MethodPost:
		var req struct {
			FirstName string   `json:"firstName"`
			LastName  string   `json:"lastName"`
			ClassName string   `json:"className"`
			Groups    []string `json:"groups"`
		}
		if err := strictDecode(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		st, err := orchestrators.ExecuteEnrollStudent(ctx, orchestrators.EnrollStudentInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			ClassName: req.ClassName,
			Groups:    req.Groups,
		}, orchestrators.EnrollStudentDeps{
			StudentStore: stores.StudentStore,
			GenerateID:   generateID,
		})
		if err != nil {
			switch {
			case errors.Is(err, studentDomain.ErrEmptyFirstName),
				errors.Is(err, studentDomain.ErrEmptyLastName),
				errors.Is(err, studentDomain.ErrEmptyClass):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				internalError(w, err)
			}
			return
		}

		writeJSON(w, http.StatusCreated, projections.RosterEntry{
			StudentID: st.ID,
			FirstName: st.FirstName,
			LastName:  st.LastName,
			ClassName: st.ClassName,
			Groups:    st.Groups,
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleImportStudents enrolls a batch of roster rows in one request.
func handleImportStudents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Students []struct {
			FirstName string   `json:"firstName"`
			LastName  string   `json:"lastName"`
			ClassName string   `json:"className"`
			Groups    []string `json:"groups"`
		} `json:"students"`
	}
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inputs := make([]orchestrators.EnrollStudentInput, 0, len(req.Students))
	for _, row := range req.Students {
		inputs = append(inputs, orchestrators.EnrollStudentInput{
			FirstName: row.FirstName,
			LastName:  row.LastName,
			ClassName: row.ClassName,
			Groups:    row.Groups,
		})
	}

	result, err := orchestrators.ExecuteImportStudents(r.Context(), inputs, orchestrators.EnrollStudentDeps{
		StudentStore: stores.StudentStore,
		GenerateID:   generateID,
	})
	if err != nil {
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"imported": result.Imported,
		"skipped":  result.Skipped,
	})
}

// handleTimeslots lists the recurring roll-call slots.
func handleTimeslots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slots, err := stores.TimeslotStore.List(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// handleServerInfo reports liveness and the number of open channels.
func handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": hub.ConnectedCount(),
		"time":        timeNow().UTC(),
	})
}

// handleWS hands the request to the websocket hub.
func handleWS(w http.ResponseWriter, r *http.Request) {
	hub.ServeWS(w, r)
}
