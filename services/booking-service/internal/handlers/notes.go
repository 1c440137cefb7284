package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
)

type callerNoteRequest struct {
	CustomerName  string `json:"customer_name" validate:"max=200"`
	CustomerPhone string `json:"customer_phone" validate:"max=32"`
	Notes         string `json:"notes" validate:"required,max=4000"`
}

// SaveCallerNote records notes taken during a call.
func (h *BusinessHandler) SaveCallerNote(w http.ResponseWriter, r *http.Request) {
	var req callerNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	note := model.CallerNote{
		BusinessID:    businessIDFromHeader(r),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Notes:         strings.TrimSpace(req.Notes),
	}
	if note.Notes == "" {
		writeError(w, h.logger, r, apperr.Validation("notes must not be blank"))
		return
	}
	if err := h.store.AddCallerNote(r.Context(), &note); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": note.ID})
}

func (h *BusinessHandler) ListCallerNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			http.Error(w, "limit must be between 1 and 200", http.StatusBadRequest)
			return
		}
		limit = n
	}
	notes, err := h.store.ListCallerNotes(r.Context(), businessIDFromHeader(r), strings.TrimSpace(q.Get("customer_phone")), limit)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	items := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, map[string]any{
			"id":             n.ID,
			"customer_name":  n.CustomerName,
			"customer_phone": n.CustomerPhone,
			"notes":          n.Notes,
			"created_at":     n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": items})
}
