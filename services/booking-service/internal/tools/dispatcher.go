// Package tools exposes availability and booking operations to voice agents as
// a fixed set of named tools with JSON arguments and JSON-shaped results.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
)

type Name string

const (
	CheckAvailability     Name = "checkAvailability"
	BookAppointment       Name = "bookAppointment"
	CancelAppointment     Name = "cancelAppointment"
	RescheduleAppointment Name = "rescheduleAppointment"
	GetAppointmentDetails Name = "getAppointmentDetails"
	SaveCallerNotes       Name = "saveCallerNotes"
)

func (n Name) Valid() bool {
	switch n {
	case CheckAvailability, BookAppointment, CancelAppointment, RescheduleAppointment, GetAppointmentDetails, SaveCallerNotes:
		return true
	}
	return false
}

// Call is one tool invocation. CallID is the platform's id for the call and
// is reused when the platform retries it.
type Call struct {
	Tool       Name
	Arguments  json.RawMessage
	BusinessID string
	CallID     string
}

type SlotFinder interface {
	Slots(ctx context.Context, q availability.Query) (availability.Result, error)
}

type Appointments interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Cancel(ctx context.Context, target booking.Target, reason string) (booking.CancelResult, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (booking.RescheduleResult, error)
	Details(ctx context.Context, businessID, phone, name string) (model.Appointment, error)
}

type NoteSaver interface {
	AddCallerNote(ctx context.Context, note *model.CallerNote) error
}

type Dispatcher struct {
	slots    SlotFinder
	appts    Appointments
	notes    NoteSaver
	validate *validator.Validate
}

func NewDispatcher(slots SlotFinder, appts Appointments, notes NoteSaver) *Dispatcher {
	return &Dispatcher{slots: slots, appts: appts, notes: notes, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Dispatch runs one tool call. Outcomes a caller can act on (slot taken,
// nothing found) come back as results; malformed input and infrastructure
// failures come back as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (any, error) {
	switch call.Tool {
	case CheckAvailability:
		var args availabilityArgs
		if err := d.decode(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.checkAvailability(ctx, call.BusinessID, args)
	case BookAppointment:
		var args bookArgs
		if err := d.decode(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.book(ctx, call, args)
	case CancelAppointment:
		var args cancelArgs
		if err := d.decode(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.cancel(ctx, call.BusinessID, args)
	case RescheduleAppointment:
		var args rescheduleArgs
		if err := d.decode(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.reschedule(ctx, call.BusinessID, args)
	case GetAppointmentDetails:
		var args detailsArgs
		if err := d.decode(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.details(ctx, call.BusinessID, args)
	case SaveCallerNotes:
		var args notesArgs
		if err := d.decode(call.Arguments, &args); err != nil {
			return nil, err
		}
		return d.saveNotes(ctx, call.BusinessID, args)
	default:
		return nil, apperr.Validation("unknown tool %q", call.Tool)
	}
}

func (d *Dispatcher) decode(raw json.RawMessage, dst any) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, dst); err != nil {
			return apperr.Validation("invalid tool arguments: %v", err)
		}
	}
	if err := d.validate.Struct(dst); err != nil {
		return apperr.Validation("invalid tool arguments: %v", err)
	}
	return nil
}

type availabilityArgs struct {
	Date            string `json:"date" validate:"required"`
	ServiceID       string `json:"service_id" validate:"required"`
	ResourceID      string `json:"resource_id"`
	SlotStepMinutes *int   `json:"slot_step_minutes" validate:"omitempty,min=1,max=240"`
	BufferMinutes   *int   `json:"buffer_minutes" validate:"omitempty,min=0,max=60"`
}

type AvailabilityResult struct {
	Date           string   `json:"date"`
	Timezone       string   `json:"timezone"`
	AvailableTimes []string `json:"available_times"`
	Count          int      `json:"count"`
}

func (d *Dispatcher) checkAvailability(ctx context.Context, businessID string, args availabilityArgs) (AvailabilityResult, error) {
	q := availability.Query{
		BusinessID: businessID,
		ServiceID:  args.ServiceID,
		ResourceID: args.ResourceID,
		Date:       args.Date,
	}
	if args.SlotStepMinutes != nil {
		step := time.Duration(*args.SlotStepMinutes) * time.Minute
		q.Step = &step
	}
	if args.BufferMinutes != nil {
		buffer := time.Duration(*args.BufferMinutes) * time.Minute
		q.Buffer = &buffer
	}
	res, err := d.slots.Slots(ctx, q)
	if err != nil {
		return AvailabilityResult{}, err
	}
	times := make([]string, 0, len(res.Slots))
	for _, s := range res.Slots {
		times = append(times, s.Start.Format("15:04"))
	}
	return AvailabilityResult{
		Date:           res.Date,
		Timezone:       res.Location.String(),
		AvailableTimes: times,
		Count:          len(times),
	}, nil
}

type bookArgs struct {
	CustomerName    string `json:"customer_name" validate:"required"`
	CustomerPhone   string `json:"customer_phone"`
	StartTime       string `json:"start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=720"`
	ServiceID       string `json:"service_id"`
	ResourceID      string `json:"resource_id"`
	IdempotencyKey  string `json:"idempotency_key" validate:"max=200"`
}

type BookResult struct {
	Status        string `json:"status"`
	AppointmentID string `json:"appointment_id,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
	Message       string `json:"message,omitempty"`
}

// bookKey picks the idempotency key for a booking call. An explicit argument
// wins; otherwise a retried platform call id maps to the same booking.
func bookKey(call Call, args bookArgs) string {
	if args.IdempotencyKey != "" {
		return "arg:" + args.IdempotencyKey
	}
	if call.CallID != "" {
		return "call:" + call.CallID
	}
	return ""
}

func (d *Dispatcher) book(ctx context.Context, call Call, args bookArgs) (BookResult, error) {
	appt, err := d.appts.Book(ctx, booking.BookRequest{
		BusinessID:      call.BusinessID,
		CustomerName:    args.CustomerName,
		CustomerPhone:   args.CustomerPhone,
		StartTime:       args.StartTime,
		DurationMinutes: args.DurationMinutes,
		ServiceID:       args.ServiceID,
		ResourceID:      args.ResourceID,
		IdempotencyKey:  bookKey(call, args),
	})
	if errors.Is(err, apperr.ErrConflict) {
		return BookResult{Status: "conflict", Message: "That time is no longer available."}, nil
	}
	if err != nil {
		return BookResult{}, err
	}
	return BookResult{
		Status:        "booked",
		AppointmentID: appt.ID,
		StartTime:     appt.StartTime.Format(time.RFC3339),
		EndTime:       appt.EndTime.Format(time.RFC3339),
	}, nil
}

type cancelArgs struct {
	AppointmentID string `json:"appointment_id" validate:"required_without=CustomerPhone"`
	CustomerPhone string `json:"customer_phone" validate:"required_without=AppointmentID"`
	Reason        string `json:"reason"`
}

type ChangeResult struct {
	Success               bool   `json:"success"`
	Status                string `json:"status,omitempty"`
	Message               string `json:"message"`
	AppointmentID         string `json:"appointment_id,omitempty"`
	PreviousAppointmentID string `json:"previous_appointment_id,omitempty"`
	StartTime             string `json:"start_time,omitempty"`
	EndTime               string `json:"end_time,omitempty"`
}

func (d *Dispatcher) cancel(ctx context.Context, businessID string, args cancelArgs) (ChangeResult, error) {
	res, err := d.appts.Cancel(ctx, booking.Target{
		BusinessID:    businessID,
		AppointmentID: args.AppointmentID,
		CustomerPhone: args.CustomerPhone,
	}, args.Reason)
	if outcome, ok := softFailure(err, "No matching appointment was found."); ok {
		return outcome, nil
	}
	if err != nil {
		return ChangeResult{}, err
	}
	msg := "Appointment cancelled."
	if res.AlreadyCancelled {
		msg = "Appointment was already cancelled."
	}
	return ChangeResult{
		Success:       true,
		Status:        string(res.Appointment.Status),
		Message:       msg,
		AppointmentID: res.Appointment.ID,
		StartTime:     res.Appointment.StartTime.Format(time.RFC3339),
		EndTime:       res.Appointment.EndTime.Format(time.RFC3339),
	}, nil
}

type rescheduleArgs struct {
	AppointmentID   string `json:"appointment_id" validate:"required_without=CustomerPhone"`
	CustomerPhone   string `json:"customer_phone" validate:"required_without=AppointmentID"`
	NewStartTime    string `json:"new_start_time" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=720"`
}

func (d *Dispatcher) reschedule(ctx context.Context, businessID string, args rescheduleArgs) (ChangeResult, error) {
	res, err := d.appts.Reschedule(ctx, booking.RescheduleRequest{
		Target: booking.Target{
			BusinessID:    businessID,
			AppointmentID: args.AppointmentID,
			CustomerPhone: args.CustomerPhone,
		},
		NewStartTime:    args.NewStartTime,
		DurationMinutes: args.DurationMinutes,
	})
	if outcome, ok := softFailure(err, "No matching appointment was found."); ok {
		return outcome, nil
	}
	if err != nil {
		return ChangeResult{}, err
	}
	return ChangeResult{
		Success:               true,
		Status:                string(res.Appointment.Status),
		Message:               "Appointment rescheduled.",
		AppointmentID:         res.Appointment.ID,
		PreviousAppointmentID: res.Previous.ID,
		StartTime:             res.Appointment.StartTime.Format(time.RFC3339),
		EndTime:               res.Appointment.EndTime.Format(time.RFC3339),
	}, nil
}

type detailsArgs struct {
	CustomerPhone string `json:"customer_phone" validate:"required"`
	CustomerName  string `json:"customer_name"`
}

type DetailsResult struct {
	Found         bool   `json:"found"`
	Message       string `json:"message,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	ServiceID     string `json:"service_id,omitempty"`
	Status        string `json:"status,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
}

func (d *Dispatcher) details(ctx context.Context, businessID string, args detailsArgs) (DetailsResult, error) {
	appt, err := d.appts.Details(ctx, businessID, args.CustomerPhone, args.CustomerName)
	if errors.Is(err, apperr.ErrNotFound) {
		return DetailsResult{Found: false, Message: "No upcoming appointment was found for that number."}, nil
	}
	if err != nil {
		return DetailsResult{}, err
	}
	return DetailsResult{
		Found:         true,
		AppointmentID: appt.ID,
		CustomerName:  appt.CustomerName,
		ServiceID:     appt.ServiceID,
		Status:        string(appt.Status),
		StartTime:     appt.StartTime.Format(time.RFC3339),
		EndTime:       appt.EndTime.Format(time.RFC3339),
	}, nil
}

type notesArgs struct {
	CustomerName  string `json:"customer_name" validate:"max=200"`
	CustomerPhone string `json:"customer_phone" validate:"max=32"`
	Notes         string `json:"notes" validate:"required,max=4000"`
}

type NotesResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	NoteID  string `json:"note_id,omitempty"`
}

func (d *Dispatcher) saveNotes(ctx context.Context, businessID string, args notesArgs) (NotesResult, error) {
	note := model.CallerNote{
		BusinessID:    businessID,
		CustomerName:  strings.TrimSpace(args.CustomerName),
		CustomerPhone: strings.TrimSpace(args.CustomerPhone),
		Notes:         strings.TrimSpace(args.Notes),
	}
	if note.Notes == "" {
		return NotesResult{}, apperr.Validation("notes must not be blank")
	}
	if err := d.notes.AddCallerNote(ctx, &note); err != nil {
		return NotesResult{}, err
	}
	return NotesResult{Success: true, Message: "Notes saved.", NoteID: note.ID}, nil
}

// softFailure turns not-found and conflict outcomes into results the agent can
// read back to the caller.
func softFailure(err error, notFoundMsg string) (ChangeResult, bool) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return ChangeResult{Success: false, Status: "not_found", Message: notFoundMsg}, true
	case errors.Is(err, apperr.ErrConflict):
		return ChangeResult{Success: false, Status: "conflict", Message: apperr.Message(err)}, true
	}
	return ChangeResult{}, false
}
