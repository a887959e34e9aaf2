package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rfletcher/taskdeck/internal/auth"
	"github.com/rfletcher/taskdeck/internal/events"
	"github.com/rfletcher/taskdeck/internal/model"
	"github.com/rfletcher/taskdeck/internal/store"
)

type TaskHandler struct {
	tasks     *store.TaskStore
	publisher *events.Publisher
	logger    *slog.Logger
}

func NewTaskHandler(tasks *store.TaskStore, publisher *events.Publisher, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, publisher: publisher, logger: logger}
}

// publish hands the event to the publisher's queue. The store transaction has
// already committed; enqueueing is non-blocking, and the single publish
// goroutine keeps one owner's events in call order all the way to the bus.
func (h *TaskHandler) publish(evt events.Envelope) {
	if h.publisher == nil {
		return
	}
	h.publisher.Enqueue(evt)
}

type taskRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	DueDate     *time.Time     `json:"due_date"`
	Priority    model.Priority `json:"priority"`
	Tags        []string       `json:"tags"`
}

func (req *taskRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return "title is required"
	}
	if req.Priority == "" {
		req.Priority = model.PriorityMedium
	}
	if !req.Priority.Valid() {
		return "priority must be low, medium, or high"
	}
	if err := model.ValidateTags(req.Tags); err != nil {
		return err.Error()
	}
	return ""
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	task, err := h.tasks.Create(auth.UserID(r.Context()), req.Title, req.Description, req.DueDate, req.Priority, req.Tags, nil)
	if err != nil {
		h.logger.Error("create task", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create task"})
		return
	}

	h.publish(events.NewEnvelope(events.TypeCreated, task))
	writeJSON(w, http.StatusCreated, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.tasks.List(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list tasks"})
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	task, err := h.tasks.GetByID(id, auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get task", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	ownerID := auth.UserID(r.Context())

	existing, err := h.tasks.GetByID(id, ownerID)
	if err != nil {
		h.logger.Error("get task", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if msg := req.validate(); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	task, err := h.tasks.Update(id, ownerID, req.Title, req.Description, req.DueDate, req.Priority, req.Tags)
	if err != nil {
		h.logger.Error("update task", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update task"})
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	evt := events.NewEnvelope(events.TypeUpdated, task)
	evt.Before, evt.After, evt.Changes = diffTask(existing, task)
	h.publish(evt)

	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	task, err := h.tasks.Complete(id, auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("complete task", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to complete task"})
		return
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	h.publish(events.NewEnvelope(events.TypeCompleted, task))
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	ownerID := auth.UserID(r.Context())

	existing, err := h.tasks.GetByID(id, ownerID)
	if err != nil {
		h.logger.Error("get task", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get task"})
		return
	}

	if err := h.tasks.Delete(id, ownerID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		case errors.Is(err, store.ErrForbidden):
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "task belongs to another user"})
		default:
			h.logger.Error("delete task", "task_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete task"})
		}
		return
	}

	if existing != nil {
		h.publish(events.NewEnvelope(events.TypeDeleted, existing))
	}
	w.WriteHeader(http.StatusNoContent)
}

func diffTask(before, after *model.Task) (map[string]any, map[string]any, []string) {
	beforeFields := map[string]any{
		"title":       before.Title,
		"description": before.Description,
		"due_date":    before.DueDate,
		"priority":    before.Priority,
		"tags":        before.Tags,
	}
	afterFields := map[string]any{
		"title":       after.Title,
		"description": after.Description,
		"due_date":    after.DueDate,
		"priority":    after.Priority,
		"tags":        after.Tags,
	}

	var changes []string
	if before.Title != after.Title {
		changes = append(changes, "title")
	}
	if before.Description != after.Description {
		changes = append(changes, "description")
	}
	if !equalTimePtr(before.DueDate, after.DueDate) {
		changes = append(changes, "due_date")
	}
	if before.Priority != after.Priority {
		changes = append(changes, "priority")
	}
	if !equalTags(before.Tags, after.Tags) {
		changes = append(changes, "tags")
	}
	return beforeFields, afterFields, changes
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
