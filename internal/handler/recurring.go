package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rfletcher/taskdeck/internal/auth"
	"github.com/rfletcher/taskdeck/internal/events"
	"github.com/rfletcher/taskdeck/internal/model"
	"github.com/rfletcher/taskdeck/internal/store"
)

type RecurringTaskHandler struct {
	templates *store.RecurringTaskStore
	publisher *events.Publisher
	logger    *slog.Logger
}

func NewRecurringTaskHandler(templates *store.RecurringTaskStore, publisher *events.Publisher, logger *slog.Logger) *RecurringTaskHandler {
	return &RecurringTaskHandler{templates: templates, publisher: publisher, logger: logger}
}

type recurringTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Frequency   model.Frequency `json:"frequency"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     *time.Time      `json:"end_date"`
}

func (req *recurringTaskRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return "title is required"
	}
	if !req.Frequency.Valid() {
		return "frequency must be daily, weekly, or monthly"
	}
	if req.StartDate.IsZero() {
		return "start_date is required"
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return "end_date must be after start_date"
	}
	return ""
}

// Create inserts the template and materializes its first occurrence.
func (h *RecurringTaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req recurringTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	template, first, err := h.templates.CreateWithFirstOccurrence(
		auth.UserID(r.Context()), req.Title, req.Description, req.Frequency, req.StartDate, req.EndDate,
	)
	if err != nil {
		h.logger.Error("create recurring task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create recurring task"})
		return
	}

	if h.publisher != nil {
		h.publisher.Enqueue(events.NewEnvelope(events.TypeCreated, first))
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"recurring_task":   template,
		"first_occurrence": first,
	})
}

func (h *RecurringTaskHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list recurring tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list recurring tasks"})
		return
	}
	if templates == nil {
		templates = []model.RecurringTask{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (h *RecurringTaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	template, err := h.templates.GetByIDForOwner(id, auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get recurring task", "template_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get recurring task"})
		return
	}
	if template == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "recurring task not found"})
		return
	}
	writeJSON(w, http.StatusOK, template)
}

// Delete removes the template only; generated occurrences stay.
func (h *RecurringTaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if err := h.templates.Delete(id, auth.UserID(r.Context())); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "recurring task not found"})
			return
		}
		h.logger.Error("delete recurring task", "template_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete recurring task"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
