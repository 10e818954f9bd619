package student

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	students map[string]Student
}

func newMemStore() *memStore {
	return &memStore{students: make(map[string]Student)}
}

func (m *memStore) List(context.Context) ([]Student, error) {
	out := make([]Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) Create(_ context.Context, input StudentInput) (Student, error) {
	s := Student{
		ID:           uuid.NewString(),
		FullName:     input.FullName,
		Classroom:    input.Classroom,
		GuardianName: input.GuardianName,
		SupportNotes: input.SupportNotes,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.students[s.ID] = s
	return s, nil
}

func (m *memStore) Update(_ context.Context, id string, input StudentInput) (Student, error) {
	s, ok := m.students[id]
	if !ok {
		return Student{}, sql.ErrNoRows
	}
	s.FullName = input.FullName
	s.Classroom = input.Classroom
	s.GuardianName = input.GuardianName
	s.SupportNotes = input.SupportNotes
	s.UpdatedAt = time.Now().UTC()
	m.students[id] = s
	return s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	if _, ok := m.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.students, id)
	return nil
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateAndListStudents(t *testing.T) {
	store := newMemStore()
	handler := NewHandler(store)

	res := httptest.NewRecorder()
	handler.CreateStudent(res, postJSON("/students", `{"full_name":"Min-jun Seo","classroom":"Sunflower","guardian_name":"Ha-eun Seo","support_notes":"prefers visual schedules"}`))
	require.Equal(t, http.StatusCreated, res.Code)

	var created Student
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	res = httptest.NewRecorder()
	handler.ListStudents(res, httptest.NewRequest(http.MethodGet, "/students", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var listed []Student
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, "Min-jun Seo", listed[0].FullName)
}

func TestCreateStudentValidation(t *testing.T) {
	handler := NewHandler(newMemStore())

	cases := []string{
		`{"full_name":"","classroom":"Sunflower"}`,
		`{"full_name":"Min-jun Seo","classroom":""}`,
		`not json`,
	}

	for _, body := range cases {
		res := httptest.NewRecorder()
		handler.CreateStudent(res, postJSON("/students", body))
		require.Equal(t, http.StatusBadRequest, res.Code, body)
	}
}

func TestUpdateStudentRequiresValidID(t *testing.T) {
	handler := NewHandler(newMemStore())

	req := httptest.NewRequest(http.MethodPut, "/students/not-a-uuid", strings.NewReader("{}"))
	req.SetPathValue("id", "not-a-uuid")
	res := httptest.NewRecorder()
	handler.UpdateStudent(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)

	req = httptest.NewRequest(http.MethodPut, "/students/"+uuid.NewString(), strings.NewReader(`{"full_name":"Min-jun Seo","classroom":"Sunflower"}`))
	req.SetPathValue("id", uuid.NewString())
	res = httptest.NewRecorder()
	handler.UpdateStudent(res, req)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestDeleteStudent(t *testing.T) {
	store := newMemStore()
	handler := NewHandler(store)

	created, err := store.Create(context.Background(), StudentInput{FullName: "Min-jun Seo", Classroom: "Sunflower"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/students/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	res := httptest.NewRecorder()
	handler.DeleteStudent(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Empty(t, store.students)
}
