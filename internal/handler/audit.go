package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rfletcher/taskdeck/internal/auth"
	"github.com/rfletcher/taskdeck/internal/model"
	"github.com/rfletcher/taskdeck/internal/store"
)

type AuditHandler struct {
	audit  *store.AuditStore
	logger *slog.Logger
}

func NewAuditHandler(audit *store.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// List returns the caller's recorded events, newest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := h.audit.ListByOwner(auth.UserID(r.Context()), limit)
	if err != nil {
		h.logger.Error("list audit entries", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list audit entries"})
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
