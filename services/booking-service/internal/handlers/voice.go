package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/tools"
)

// HeaderToolSecret carries the shared secret configured on the voice platform.
const HeaderToolSecret = "X-Tool-Secret"

type BusinessFinder interface {
	FindBusinessByPhone(ctx context.Context, phone string) (model.Business, error)
}

type ToolDispatcher interface {
	Dispatch(ctx context.Context, call tools.Call) (any, error)
}

type VoiceHandler struct {
	businesses BusinessFinder
	dispatcher ToolDispatcher
	secret     string
	logger     *slog.Logger
}

// NewVoiceHandler builds the tool-call webhook. An empty secret disables the
// shared-secret check.
func NewVoiceHandler(businesses BusinessFinder, dispatcher ToolDispatcher, secret string, logger *slog.Logger) *VoiceHandler {
	return &VoiceHandler{businesses: businesses, dispatcher: dispatcher, secret: secret, logger: logger}
}

type toolCallRequest struct {
	Type        string          `json:"type" validate:"required"`
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments"`
	PhoneNumber string          `json:"phone_number"`
	ToolCallID  string          `json:"tool_call_id" validate:"max=200"`
}

func (h *VoiceHandler) ToolCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret != "" {
		got := r.Header.Get(HeaderToolSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var req toolCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if req.Type != "tool.call" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		http.Error(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	business, err := h.businesses.FindBusinessByPhone(r.Context(), phone)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	args := req.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := h.dispatcher.Dispatch(r.Context(), tools.Call{
		Tool:       tools.Name(strings.TrimSpace(req.Tool)),
		Arguments:  args,
		BusinessID: business.ID,
		CallID:     strings.TrimSpace(req.ToolCallID),
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "tool call failed", "tool", req.Tool, "business_id", business.ID, "err", err)
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool": req.Tool, "result": result})
}
