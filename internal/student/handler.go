package student

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const maxJSONBodyBytes = 1 << 20

// Store lets tests swap the Postgres repository for a fake.
type Store interface {
	List(ctx context.Context) ([]Student, error)
	Create(ctx context.Context, input StudentInput) (Student, error)
	Update(ctx context.Context, id string, input StudentInput) (Student, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list students")
		return
	}

	writeJSON(w, http.StatusOK, students)
}

func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	s, err := h.store.Create(r.Context(), input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create student")
		return
	}

	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	s, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update student")
		return
	}

	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid student id")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "student not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete student")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInput(w http.ResponseWriter, r *http.Request) (StudentInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input StudentInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return StudentInput{}, false
	}

	input.FullName = strings.TrimSpace(input.FullName)
	input.Classroom = strings.TrimSpace(input.Classroom)
	input.GuardianName = strings.TrimSpace(input.GuardianName)
	input.SupportNotes = strings.TrimSpace(input.SupportNotes)

	if input.FullName == "" || utf8.RuneCountInString(input.FullName) > 120 {
		writeError(w, http.StatusBadRequest, "full_name is required and must be at most 120 characters")
		return StudentInput{}, false
	}
	if input.Classroom == "" || utf8.RuneCountInString(input.Classroom) > 60 {
		writeError(w, http.StatusBadRequest, "classroom is required and must be at most 60 characters")
		return StudentInput{}, false
	}
	if utf8.RuneCountInString(input.SupportNotes) > 2000 {
		writeError(w, http.StatusBadRequest, "support_notes must be at most 2000 characters")
		return StudentInput{}, false
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
