package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
)

type SlotFinder interface {
	Slots(ctx context.Context, q availability.Query) (availability.Result, error)
}

type Appointments interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Cancel(ctx context.Context, target booking.Target, reason string) (booking.CancelResult, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (booking.RescheduleResult, error)
	Complete(ctx context.Context, target booking.Target) (booking.CompleteResult, error)
	Details(ctx context.Context, businessID, phone, name string) (model.Appointment, error)
	Get(ctx context.Context, businessID, id string) (model.Appointment, error)
	List(ctx context.Context, businessID string, f model.AppointmentFilter) ([]model.Appointment, error)
}

type BookingHandler struct {
	slots  SlotFinder
	appts  Appointments
	logger *slog.Logger
}

func NewBookingHandler(slots SlotFinder, appts Appointments, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{slots: slots, appts: appts, logger: logger}
}

type slotItem struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// maxQueryMinutes bounds minute parameters to one day before they become a
// Duration, so huge values cannot overflow into a tiny step.
const maxQueryMinutes = 24 * 60

func optionalMinutes(r *http.Request, key string, lo int) (*time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.Validation("%s must be a whole number of minutes", key)
	}
	if n < lo || n > maxQueryMinutes {
		return nil, apperr.Validation("%s must be between %d and %d", key, lo, maxQueryMinutes)
	}
	d := time.Duration(n) * time.Minute
	return &d, nil
}

// Slots lists the bookable start times for a service on one business-local date.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	query := availability.Query{
		BusinessID: businessIDFromHeader(r),
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		ResourceID: strings.TrimSpace(q.Get("resource_id")),
		Date:       strings.TrimSpace(q.Get("date")),
	}
	if query.ServiceID == "" || query.Date == "" {
		http.Error(w, "service_id and date are required", http.StatusBadRequest)
		return
	}
	var err error
	if query.Step, err = optionalMinutes(r, "slot_step_minutes", 1); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if query.Buffer, err = optionalMinutes(r, "buffer_minutes", 0); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.slots.Slots(r.Context(), query)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	items := make([]slotItem, 0, len(res.Slots))
	for _, s := range res.Slots {
		items = append(items, slotItem{
			Start:     s.Start.Format("15:04"),
			End:       s.End.Format("15:04"),
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":            res.Date,
		"service_id":      res.ServiceID,
		"timezone":        res.Location.String(),
		"available_slots": items,
	})
}

// HeaderIdempotencyKey lets a client retry a booking without creating a
// second appointment.
const HeaderIdempotencyKey = "Idempotency-Key"

type bookRequest struct {
	CustomerName    string `json:"customer_name" validate:"required,max=200"`
	CustomerPhone   string `json:"customer_phone" validate:"max=32"`
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=720"`
	ResourceID      string `json:"resource_id"`
	ServiceID       string `json:"service_id"`
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	appt, err := h.appts.Book(r.Context(), booking.BookRequest{
		BusinessID:      businessIDFromHeader(r),
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		ResourceID:      strings.TrimSpace(req.ResourceID),
		ServiceID:       strings.TrimSpace(req.ServiceID),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":         "booked",
		"appointment_id": appt.ID,
		"start_time":     appt.StartTime.Format(time.RFC3339),
		"end_time":       appt.EndTime.Format(time.RFC3339),
	})
}

type targetRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required_without=CustomerPhone"`
	CustomerPhone string `json:"customer_phone"`
}

func (t targetRequest) target(businessID string) booking.Target {
	return booking.Target{BusinessID: businessID, AppointmentID: t.AppointmentID, CustomerPhone: t.CustomerPhone}
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		targetRequest
		Reason string `json:"reason" validate:"max=500"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.appts.Cancel(r.Context(), req.target(businessIDFromHeader(r)), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	msg := "appointment cancelled"
	if res.AlreadyCancelled {
		msg = "appointment was already cancelled"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     msg,
		"appointment": toAppointmentJSON(res.Appointment),
	})
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		targetRequest
		NewStartTime    string `json:"new_start_time" validate:"required"`
		DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=720"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.appts.Reschedule(r.Context(), booking.RescheduleRequest{
		Target:          req.target(businessIDFromHeader(r)),
		NewStartTime:    req.NewStartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":                 true,
		"message":                 "appointment rescheduled",
		"previous_appointment_id": res.Previous.ID,
		"appointment":             toAppointmentJSON(res.Appointment),
	})
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.appts.Complete(r.Context(), req.target(businessIDFromHeader(r)))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	msg := "appointment completed"
	if res.AlreadyCompleted {
		msg = "appointment was already completed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     msg,
		"appointment": toAppointmentJSON(res.Appointment),
	})
}

// List returns the business's appointments, newest first.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := model.AppointmentFilter{Limit: 50}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		filter.Status = model.AppointmentStatus(raw)
		switch filter.Status {
		case model.StatusScheduled, model.StatusCancelled, model.StatusCompleted:
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid "+key, http.StatusBadRequest)
			return
		}
		*dst = t
	}

	appts, err := h.appts.List(r.Context(), businessIDFromHeader(r), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	items := make([]appointmentJSON, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

// Details looks an appointment up by id, or by the caller's phone number.
func (h *BookingHandler) Details(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := businessIDFromHeader(r)
	var (
		appt model.Appointment
		err  error
	)
	switch id, phone := strings.TrimSpace(q.Get("appointment_id")), strings.TrimSpace(q.Get("customer_phone")); {
	case id != "":
		appt, err = h.appts.Get(r.Context(), businessID, id)
	case phone != "":
		appt, err = h.appts.Details(r.Context(), businessID, phone, strings.TrimSpace(q.Get("customer_name")))
	default:
		http.Error(w, "appointment_id or customer_phone is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentJSON(appt))
}
