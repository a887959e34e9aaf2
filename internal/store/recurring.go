package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rfletcher/taskdeck/internal/model"
)

type RecurringTaskStore struct {
	db *sql.DB
}

func NewRecurringTaskStore(db *sql.DB) *RecurringTaskStore {
	return &RecurringTaskStore{db: db}
}

const recurringCols = `id, owner_id, title, description, frequency, start_date, end_date, next_occurrence, created_at, updated_at`

func scanRecurring(scanner interface{ Scan(...any) error }) (*model.RecurringTask, error) {
	var rt model.RecurringTask
	var endDate sql.NullTime

	err := scanner.Scan(
		&rt.ID, &rt.OwnerID, &rt.Title, &rt.Description, &rt.Frequency,
		&rt.StartDate, &endDate, &rt.NextOccurrence, &rt.CreatedAt, &rt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endDate.Valid {
		rt.EndDate = &endDate.Time
	}
	return &rt, nil
}

// CreateWithFirstOccurrence inserts the template and materializes its first
// occurrence in one transaction. The cursor starts at start_date, which is
// also the first occurrence's due date.
func (s *RecurringTaskStore) CreateWithFirstOccurrence(ownerID int64, title, description string, frequency model.Frequency, startDate time.Time, endDate *time.Time) (*model.RecurringTask, *model.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	startDate = startDate.UTC()
	result, err := tx.Exec(
		`INSERT INTO recurring_tasks (owner_id, title, description, frequency, start_date, end_date, next_occurrence) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ownerID, title, description, frequency, startDate, nullTime(endDate), startDate,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert template: %w", err)
	}
	templateID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("last insert id: %w", err)
	}

	result, err = tx.Exec(
		`INSERT INTO tasks (owner_id, title, description, due_date, recurring_task_id) VALUES (?, ?, ?, ?, ?)`,
		ownerID, title, description, startDate, templateID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert first occurrence: %w", err)
	}
	taskID, err := result.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}

	template, err := s.GetByID(templateID)
	if err != nil {
		return nil, nil, err
	}
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, nil, fmt.Errorf("get first occurrence: %w", err)
	}
	return template, task, nil
}

func (s *RecurringTaskStore) GetByID(id int64) (*model.RecurringTask, error) {
	row := s.db.QueryRow(`SELECT `+recurringCols+` FROM recurring_tasks WHERE id = ?`, id)
	rt, err := scanRecurring(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return rt, nil
}

// GetByIDForOwner is the owner-scoped lookup used by the HTTP surface.
func (s *RecurringTaskStore) GetByIDForOwner(id, ownerID int64) (*model.RecurringTask, error) {
	row := s.db.QueryRow(`SELECT `+recurringCols+` FROM recurring_tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	rt, err := scanRecurring(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return rt, nil
}

func (s *RecurringTaskStore) List(ownerID int64) ([]model.RecurringTask, error) {
	rows, err := s.db.Query(
		`SELECT `+recurringCols+` FROM recurring_tasks WHERE owner_id = ? ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []model.RecurringTask
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, *rt)
	}
	return templates, rows.Err()
}

// CreateOccurrenceAndAdvance inserts the next occurrence and moves the
// template cursor to dueDate in one transaction, so a persistence failure
// leaves neither an orphaned occurrence nor a dangling cursor advance.
func (s *RecurringTaskStore) CreateOccurrenceAndAdvance(template *model.RecurringTask, dueDate time.Time) (*model.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	dueDate = dueDate.UTC()
	result, err := tx.Exec(
		`INSERT INTO tasks (owner_id, title, description, due_date, recurring_task_id) VALUES (?, ?, ?, ?, ?)`,
		template.OwnerID, template.Title, template.Description, dueDate, template.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert occurrence: %w", err)
	}
	taskID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE recurring_tasks SET next_occurrence = ?, updated_at = ? WHERE id = ?`,
		dueDate, time.Now().UTC(), template.ID,
	); err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("get occurrence: %w", err)
	}
	return task, nil
}

// Delete removes the template. Historical occurrences keep their rows; the
// foreign key nulls their recurring_task_id.
func (s *RecurringTaskStore) Delete(id, ownerID int64) error {
	result, err := s.db.Exec(`DELETE FROM recurring_tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
