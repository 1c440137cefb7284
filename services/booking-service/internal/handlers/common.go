package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
)

var validate = newValidator()

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func businessIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(auth.HeaderBusinessID))
}

// ByMethod routes one path to a handler per HTTP method.
func ByMethod(routes map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h, ok := routes[r.Method]; ok {
			h(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// decodeBody reads a JSON body into dst and runs struct validation.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Validation("invalid json body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperr.Validation("%s is invalid (%s)", fe.Field(), fe.Tag())
		}
		return apperr.Validation("invalid request")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	http.Error(w, apperr.Message(err), status)
}

type appointmentJSON struct {
	AppointmentID   string `json:"appointment_id"`
	ResourceID      string `json:"resource_id,omitempty"`
	ServiceID       string `json:"service_id,omitempty"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	RescheduledFrom string `json:"rescheduled_from,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toAppointmentJSON(a model.Appointment) appointmentJSON {
	out := appointmentJSON{
		AppointmentID:   a.ID,
		ResourceID:      a.ResourceID,
		ServiceID:       a.ServiceID,
		CustomerName:    a.CustomerName,
		CustomerPhone:   a.CustomerPhone,
		StartTime:       a.StartTime.Format(time.RFC3339),
		EndTime:         a.EndTime.Format(time.RFC3339),
		Status:          string(a.Status),
		CancelReason:    a.CancelReason,
		RescheduledFrom: a.RescheduledFrom,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		out.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	if a.CompletedAt != nil {
		out.CompletedAt = a.CompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}
