package student

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Student struct {
	ID           string    `json:"id"`
	FullName     string    `json:"full_name"`
	Classroom    string    `json:"classroom"`
	GuardianName string    `json:"guardian_name"`
	SupportNotes string    `json:"support_notes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type StudentInput struct {
	FullName     string `json:"full_name"`
	Classroom    string `json:"classroom"`
	GuardianName string `json:"guardian_name"`
	SupportNotes string `json:"support_notes"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, full_name, classroom, guardian_name, support_notes, created_at, updated_at
		FROM students
		ORDER BY full_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query students: %w", err)
	}
	defer rows.Close()

	students := make([]Student, 0)
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.FullName, &s.Classroom, &s.GuardianName, &s.SupportNotes, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}

	return students, nil
}

func (r *Repository) Create(ctx context.Context, input StudentInput) (Student, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Student{}, fmt.Errorf("generate student id: %w", err)
	}

	now := time.Now().UTC()
	s := Student{
		ID:           id.String(),
		FullName:     input.FullName,
		Classroom:    input.Classroom,
		GuardianName: input.GuardianName,
		SupportNotes: input.SupportNotes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO students (id, full_name, classroom, guardian_name, support_notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, s.ID, s.FullName, s.Classroom, s.GuardianName, s.SupportNotes, now)
	if err != nil {
		return Student{}, fmt.Errorf("insert student: %w", err)
	}

	return s, nil
}

func (r *Repository) Update(ctx context.Context, id string, input StudentInput) (Student, error) {
	var s Student

	err := r.db.QueryRowContext(ctx, `
		UPDATE students
		SET full_name = $2, classroom = $3, guardian_name = $4, support_notes = $5, updated_at = $6
		WHERE id = $1
		RETURNING id, full_name, classroom, guardian_name, support_notes, created_at, updated_at
	`, id, input.FullName, input.Classroom, input.GuardianName, input.SupportNotes, time.Now().UTC()).
		Scan(&s.ID, &s.FullName, &s.Classroom, &s.GuardianName, &s.SupportNotes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, err
		}
		return Student{}, fmt.Errorf("update student: %w", err)
	}

	return s, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
