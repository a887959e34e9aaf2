package recurrence

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rfletcher/taskdeck/internal/model"
	"github.com/rfletcher/taskdeck/internal/store"
)

// ErrTemplateNotFound is returned when the engine is asked to advance a
// template that does not exist (for example, deleted after the completion
// event was published).
var ErrTemplateNotFound = errors.New("recurring task template not found")

// Result is the outcome of one engine run. EndOfSeries marks the normal
// "nothing to generate" case: the template's end date has passed and Task is
// nil. It is not an error.
type Result struct {
	Task        *model.Task
	EndOfSeries bool
}

// Engine creates the next occurrence of a recurring series in response to a
// completion. It owns no goroutines; the consumer drives it.
type Engine struct {
	templates *store.RecurringTaskStore
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(templates *store.RecurringTaskStore, logger *slog.Logger) *Engine {
	return &Engine{
		templates: templates,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateNextOccurrence loads the template, checks the series gate, computes
// the next due date from the cursor, and persists the new occurrence together
// with the cursor advance in one transaction.
//
// There is no guard against the same completion being processed twice: a
// replayed event advances the cursor again and creates a second occurrence.
// The bus is at-least-once, so duplicates are possible under redelivery.
func (e *Engine) CreateNextOccurrence(templateID int64) (Result, error) {
	template, err := e.templates.GetByID(templateID)
	if err != nil {
		return Result{}, err
	}
	if template == nil {
		return Result{}, ErrTemplateNotFound
	}

	if !ShouldContinue(template.EndDate, e.now()) {
		e.logger.Info("series ended, no occurrence generated",
			"template_id", template.ID,
			"end_date", template.EndDate)
		return Result{EndOfSeries: true}, nil
	}

	nextDate, err := Next(template.NextOccurrence, template.Frequency)
	if err != nil {
		return Result{}, err
	}

	task, err := e.templates.CreateOccurrenceAndAdvance(template, nextDate)
	if err != nil {
		return Result{}, err
	}

	e.logger.Info("generated next occurrence",
		"template_id", template.ID,
		"task_id", task.ID,
		"due_date", nextDate)
	return Result{Task: task}, nil
}
