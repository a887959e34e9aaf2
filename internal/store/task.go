package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rfletcher/taskdeck/internal/model"
)

var (
	// ErrNotFound is returned by Delete when no task with the id exists.
	ErrNotFound = errors.New("task not found")
	// ErrForbidden is returned by Delete when the task exists but belongs to
	// another owner. Reads and updates deliberately do not make this
	// distinction and report foreign rows as absent.
	ErrForbidden = errors.New("task belongs to another owner")
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskCols = `id, owner_id, title, description, completed, completed_at, due_date, priority, tags, recurring_task_id, created_at, updated_at`

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var completedAt sql.NullTime
	var dueDate sql.NullTime
	var recurringID sql.NullInt64
	var tags string

	err := scanner.Scan(
		&t.ID, &t.OwnerID, &t.Title, &t.Description, &t.Completed,
		&completedAt, &dueDate, &t.Priority, &tags, &recurringID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if recurringID.Valid {
		t.RecurringTaskID = &recurringID.Int64
	}
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &t, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *TaskStore) Create(ownerID int64, title, description string, dueDate *time.Time, priority model.Priority, tags []string, recurringTaskID *int64) (*model.Task, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}
	var rID sql.NullInt64
	if recurringTaskID != nil {
		rID = sql.NullInt64{Int64: *recurringTaskID, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO tasks (owner_id, title, description, due_date, priority, tags, recurring_task_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ownerID, title, description, nullTime(dueDate), priority, encoded, rID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id, ownerID)
}

// GetByID returns the task only when it belongs to ownerID. A task owned by
// someone else is indistinguishable from one that does not exist.
func (s *TaskStore) GetByID(id, ownerID int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) List(ownerID int64) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE owner_id = ? ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *TaskStore) Update(id, ownerID int64, title, description string, dueDate *time.Time, priority model.Priority, tags []string) (*model.Task, error) {
	encoded, err := encodeTags(tags)
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(
		`UPDATE tasks SET title = ?, description = ?, due_date = ?, priority = ?, tags = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		title, description, nullTime(dueDate), priority, encoded, time.Now().UTC(), id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetByID(id, ownerID)
}

// Complete marks the task completed and stamps completed_at. Completing an
// already-completed task refreshes the stamp rather than failing.
func (s *TaskStore) Complete(id, ownerID int64) (*model.Task, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`UPDATE tasks SET completed = 1, completed_at = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		now, now, id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetByID(id, ownerID)
}

// Delete removes the task. Unlike reads, it distinguishes a missing task
// (ErrNotFound) from one owned by someone else (ErrForbidden).
func (s *TaskStore) Delete(id, ownerID int64) error {
	var owner int64
	err := s.db.QueryRow(`SELECT owner_id FROM tasks WHERE id = ?`, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task owner: %w", err)
	}
	if owner != ownerID {
		return ErrForbidden
	}

	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
