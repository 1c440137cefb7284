// Package booking owns every write to appointments: booking, cancellation,
// rescheduling and completion. Each write runs inside the per-business
// transaction so the no-overlap rule holds under concurrency.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/calendars"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const ReasonRescheduled = "rescheduled"

type HoursResolver interface {
	Window(ctx context.Context, businessID, resourceID string, day time.Time) (timeslot.Interval, bool, error)
}

// CalendarWriter mirrors committed bookings onto external calendars.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, businessID, resourceID string, ev calendars.Event) error
}

type Config struct {
	DefaultDuration time.Duration
	// EnforceHours rejects bookings that do not fit the day's open window.
	EnforceHours bool
	// CalendarTimeout bounds the post-commit calendar write.
	CalendarTimeout time.Duration
	Now             func() time.Time
}

func DefaultConfig() Config {
	return Config{
		DefaultDuration: 30 * time.Minute,
		EnforceHours:    true,
		CalendarTimeout: 10 * time.Second,
		Now:             time.Now,
	}
}

type Service struct {
	store     storage.Store
	hours     HoursResolver
	calendars CalendarWriter
	logger    *slog.Logger
	cfg       Config

	background sync.WaitGroup
}

// NewService wires the booking service. cal may be nil.
func NewService(store storage.Store, hours HoursResolver, cal CalendarWriter, logger *slog.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = def.DefaultDuration
	}
	if cfg.CalendarTimeout <= 0 {
		cfg.CalendarTimeout = def.CalendarTimeout
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, hours: hours, calendars: cal, logger: logger, cfg: cfg}
}

// Wait blocks until post-commit calendar writes have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

type BookRequest struct {
	BusinessID    string
	CustomerName  string
	CustomerPhone string
	// StartTime is ISO-8601. Values without an offset are read in the business timezone.
	StartTime       string
	DurationMinutes int
	ResourceID      string
	ServiceID       string
	// IdempotencyKey makes retries of the same request return the appointment
	// the first attempt created instead of conflicting with it.
	IdempotencyKey string
}

const maxIdempotencyKeyLen = 255

func (s *Service) Book(ctx context.Context, req BookRequest) (appt model.Appointment, err error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "booking.book",
		trace.WithAttributes(attribute.String("business.id", req.BusinessID)))
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return model.Appointment{}, apperr.Validation("customer_name is required")
	}
	if req.DurationMinutes < 0 {
		return model.Appointment{}, apperr.Validation("duration_minutes must not be negative")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return model.Appointment{}, apperr.Validation("idempotency key must be at most %d characters", maxIdempotencyKeyLen)
	}

	business, err := s.store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return model.Appointment{}, err
	}
	loc, err := business.Location()
	if err != nil {
		return model.Appointment{}, err
	}
	start, err := ParseStart(req.StartTime, loc)
	if err != nil {
		return model.Appointment{}, err
	}

	duration := s.cfg.DefaultDuration
	if req.ServiceID != "" {
		svc, err := s.store.GetService(ctx, business.ID, req.ServiceID)
		if err != nil {
			return model.Appointment{}, err
		}
		duration = svc.Duration()
	} else if req.DurationMinutes > 0 {
		duration = time.Duration(req.DurationMinutes) * time.Minute
	}
	if req.ResourceID != "" {
		if _, err := s.store.GetResource(ctx, business.ID, req.ResourceID); err != nil {
			return model.Appointment{}, err
		}
	}

	slot := timeslot.Interval{Start: start, End: start.Add(duration)}
	if err := s.checkHours(ctx, business.ID, req.ResourceID, slot); err != nil {
		return model.Appointment{}, err
	}

	appt = model.Appointment{
		BusinessID:    business.ID,
		ResourceID:    req.ResourceID,
		ServiceID:     req.ServiceID,
		CustomerName:  name,
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		StartTime:     slot.Start,
		EndTime:       slot.End,
		Status:        model.StatusScheduled,
	}
	var replayed bool
	err = s.store.InBusinessTx(ctx, business.ID, func(tx storage.Tx) error {
		if key != "" {
			id, ok, err := tx.IdempotentAppointment(ctx, business.ID, key)
			if err != nil {
				return err
			}
			if ok {
				prior, err := tx.LockAppointment(ctx, business.ID, id)
				if err != nil {
					return err
				}
				appt, replayed = prior, true
				return nil
			}
		}
		if err := ensureFree(ctx, tx, business.ID, slot, ""); err != nil {
			return err
		}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return err
		}
		if key != "" {
			if err := tx.RememberIdempotencyKey(ctx, business.ID, key, appt.ID); err != nil {
				return err
			}
		}
		return addEvent(ctx, tx, outbox.TypeAppointmentBooked, appt, nil)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	appt.StartTime, appt.EndTime = appt.StartTime.In(loc), appt.EndTime.In(loc)
	if replayed {
		s.logger.InfoContext(ctx, "booking replayed for idempotency key",
			"business_id", business.ID, "appointment_id", appt.ID)
		return appt, nil
	}
	s.logger.InfoContext(ctx, "appointment booked",
		"business_id", business.ID, "appointment_id", appt.ID, "start_time", appt.StartTime.Format(time.RFC3339))
	s.mirror(ctx, appt, business.Name)
	return appt, nil
}

// Target names an appointment by id, or by customer phone when the id is
// unknown (the most recently created scheduled appointment wins).
type Target struct {
	BusinessID    string
	AppointmentID string
	CustomerPhone string
}

func (t Target) lock(ctx context.Context, tx storage.Tx) (model.Appointment, error) {
	switch {
	case strings.TrimSpace(t.AppointmentID) != "":
		return tx.LockAppointment(ctx, t.BusinessID, strings.TrimSpace(t.AppointmentID))
	case strings.TrimSpace(t.CustomerPhone) != "":
		return tx.LockScheduledByPhone(ctx, t.BusinessID, strings.TrimSpace(t.CustomerPhone))
	default:
		return model.Appointment{}, apperr.Validation("appointment_id or customer_phone is required")
	}
}

type CancelResult struct {
	Appointment      model.Appointment
	AlreadyCancelled bool
}

// Cancel is idempotent: cancelling a cancelled appointment succeeds without
// writing anything. Completed appointments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, target Target, reason string) (CancelResult, error) {
	if _, err := s.store.GetBusiness(ctx, target.BusinessID); err != nil {
		return CancelResult{}, err
	}
	var res CancelResult
	err := s.store.InBusinessTx(ctx, target.BusinessID, func(tx storage.Tx) error {
		appt, err := target.lock(ctx, tx)
		if err != nil {
			return err
		}
		switch appt.Status {
		case model.StatusCancelled:
			res = CancelResult{Appointment: appt, AlreadyCancelled: true}
			return nil
		case model.StatusCompleted:
			return apperr.Conflict("appointment is already completed")
		}

		cancelled, err := tx.CancelAppointment(ctx, target.BusinessID, appt.ID, strings.TrimSpace(reason), s.cfg.Now().UTC())
		if err != nil {
			return err
		}
		res = CancelResult{Appointment: cancelled}
		return addEvent(ctx, tx, outbox.TypeAppointmentCancelled, cancelled, map[string]any{"reason": cancelled.CancelReason})
	})
	if err != nil {
		return CancelResult{}, err
	}
	if !res.AlreadyCancelled {
		s.logger.InfoContext(ctx, "appointment cancelled", "business_id", target.BusinessID, "appointment_id", res.Appointment.ID)
	}
	return res, nil
}

type RescheduleRequest struct {
	Target
	NewStartTime    string
	DurationMinutes int
}

type RescheduleResult struct {
	Previous    model.Appointment
	Appointment model.Appointment
}

// Reschedule moves a scheduled appointment. The original is cancelled with
// reason "rescheduled" and a new appointment pointing back at it is created.
// On conflict nothing changes.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (res RescheduleResult, err error) {
	ctx, span := otel.Tracer("booking").Start(ctx, "booking.reschedule",
		trace.WithAttributes(attribute.String("business.id", req.BusinessID)))
	defer func() { endSpan(span, err) }()

	if req.DurationMinutes < 0 {
		return RescheduleResult{}, apperr.Validation("duration_minutes must not be negative")
	}
	business, err := s.store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return RescheduleResult{}, err
	}
	loc, err := business.Location()
	if err != nil {
		return RescheduleResult{}, err
	}
	start, err := ParseStart(req.NewStartTime, loc)
	if err != nil {
		return RescheduleResult{}, err
	}

	err = s.store.InBusinessTx(ctx, business.ID, func(tx storage.Tx) error {
		original, err := req.lock(ctx, tx)
		if err != nil {
			return err
		}
		if original.Status != model.StatusScheduled {
			return apperr.Conflict(fmt.Sprintf("appointment is %s and cannot be rescheduled", original.Status))
		}

		duration := original.Duration()
		if req.DurationMinutes > 0 {
			duration = time.Duration(req.DurationMinutes) * time.Minute
		}
		slot := timeslot.Interval{Start: start, End: start.Add(duration)}
		if err := s.checkHours(ctx, business.ID, original.ResourceID, slot); err != nil {
			return err
		}
		if err := ensureFree(ctx, tx, business.ID, slot, original.ID); err != nil {
			return err
		}

		previous, err := tx.CancelAppointment(ctx, business.ID, original.ID, ReasonRescheduled, s.cfg.Now().UTC())
		if err != nil {
			return err
		}
		moved := model.Appointment{
			BusinessID:      business.ID,
			ResourceID:      original.ResourceID,
			ServiceID:       original.ServiceID,
			CustomerName:    original.CustomerName,
			CustomerPhone:   original.CustomerPhone,
			StartTime:       slot.Start,
			EndTime:         slot.End,
			Status:          model.StatusScheduled,
			RescheduledFrom: original.ID,
		}
		if err := tx.InsertAppointment(ctx, &moved); err != nil {
			return err
		}
		res = RescheduleResult{Previous: previous, Appointment: moved}
		return addEvent(ctx, tx, outbox.TypeAppointmentRescheduled, moved, map[string]any{
			"previous_appointment_id": previous.ID,
			"previous_start_time":     previous.StartTime.UTC().Format(time.RFC3339),
			"previous_end_time":       previous.EndTime.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return RescheduleResult{}, err
	}

	res.Appointment.StartTime, res.Appointment.EndTime = res.Appointment.StartTime.In(loc), res.Appointment.EndTime.In(loc)
	s.logger.InfoContext(ctx, "appointment rescheduled",
		"business_id", business.ID, "previous_id", res.Previous.ID, "appointment_id", res.Appointment.ID)
	s.mirror(ctx, res.Appointment, business.Name)
	return res, nil
}

type CompleteResult struct {
	Appointment      model.Appointment
	AlreadyCompleted bool
}

// Complete marks a scheduled appointment as done. Completing twice is a no-op;
// a cancelled appointment cannot be completed.
func (s *Service) Complete(ctx context.Context, target Target) (CompleteResult, error) {
	if _, err := s.store.GetBusiness(ctx, target.BusinessID); err != nil {
		return CompleteResult{}, err
	}
	var res CompleteResult
	err := s.store.InBusinessTx(ctx, target.BusinessID, func(tx storage.Tx) error {
		appt, err := target.lock(ctx, tx)
		if err != nil {
			return err
		}
		switch appt.Status {
		case model.StatusCompleted:
			res = CompleteResult{Appointment: appt, AlreadyCompleted: true}
			return nil
		case model.StatusCancelled:
			return apperr.Conflict("appointment is cancelled")
		}
		done, err := tx.CompleteAppointment(ctx, target.BusinessID, appt.ID, s.cfg.Now().UTC())
		if err != nil {
			return err
		}
		res = CompleteResult{Appointment: done}
		return addEvent(ctx, tx, outbox.TypeAppointmentCompleted, done, map[string]any{"trigger": "manual"})
	})
	if err != nil {
		return CompleteResult{}, err
	}
	return res, nil
}

// CompleteElapsed completes up to limit scheduled appointments whose end time
// has passed, one business transaction each. It returns how many it completed.
func (s *Service) CompleteElapsed(ctx context.Context, limit int) (int, error) {
	now := s.cfg.Now().UTC()
	ended, err := s.store.ListEndedScheduled(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	var (
		completed int
		errs      []error
	)
	for _, candidate := range ended {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		done := false
		err := s.store.InBusinessTx(ctx, candidate.BusinessID, func(tx storage.Tx) error {
			appt, err := tx.LockAppointment(ctx, candidate.BusinessID, candidate.ID)
			if err != nil {
				return err
			}
			if appt.Status != model.StatusScheduled || appt.EndTime.After(now) {
				return nil
			}
			finished, err := tx.CompleteAppointment(ctx, appt.BusinessID, appt.ID, now)
			if err != nil {
				return err
			}
			done = true
			return addEvent(ctx, tx, outbox.TypeAppointmentCompleted, finished, map[string]any{"trigger": "elapsed"})
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("complete %s: %w", candidate.ID, err))
			continue
		}
		if done {
			completed++
		}
	}
	return completed, errors.Join(errs...)
}

// Details returns the latest scheduled appointment for a caller's phone number,
// optionally narrowed by name.
func (s *Service) Details(ctx context.Context, businessID, phone, name string) (model.Appointment, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return model.Appointment{}, apperr.Validation("customer_phone is required")
	}
	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return model.Appointment{}, err
	}
	appt, err := s.store.FindScheduledByPhone(ctx, business.ID, phone, name)
	if err != nil {
		return model.Appointment{}, err
	}
	return inBusinessZone(business, appt), nil
}

func (s *Service) Get(ctx context.Context, businessID, id string) (model.Appointment, error) {
	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return model.Appointment{}, err
	}
	appt, err := s.store.GetAppointment(ctx, business.ID, id)
	if err != nil {
		return model.Appointment{}, err
	}
	return inBusinessZone(business, appt), nil
}

func (s *Service) List(ctx context.Context, businessID string, f model.AppointmentFilter) ([]model.Appointment, error) {
	business, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	appts, err := s.store.ListAppointments(ctx, business.ID, f)
	if err != nil {
		return nil, err
	}
	for i := range appts {
		appts[i] = inBusinessZone(business, appts[i])
	}
	return appts, nil
}

func (s *Service) checkHours(ctx context.Context, businessID, resourceID string, slot timeslot.Interval) error {
	if !s.cfg.EnforceHours || s.hours == nil {
		return nil
	}
	window, open, err := s.hours.Window(ctx, businessID, resourceID, slot.Start)
	if err != nil {
		return err
	}
	if !open || !window.Contains(slot) {
		return apperr.Validation("requested time is outside business hours")
	}
	return nil
}

// mirror writes the appointment to external calendars after commit. Failures
// are logged; the booking stands regardless.
func (s *Service) mirror(ctx context.Context, appt model.Appointment, businessName string) {
	if s.calendars == nil {
		return
	}
	ev := calendars.Event{
		Summary:     fmt.Sprintf("Appointment with %s", appt.CustomerName),
		Description: strings.TrimSpace(fmt.Sprintf("%s\n%s", businessName, appt.CustomerPhone)),
		Start:       appt.StartTime,
		End:         appt.EndTime,
	}
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		cctx, cancel := context.WithTimeout(bg, s.cfg.CalendarTimeout)
		defer cancel()
		if err := s.calendars.CreateEvent(cctx, appt.BusinessID, appt.ResourceID, ev); err != nil {
			s.logger.WarnContext(cctx, "calendar event creation failed",
				"business_id", appt.BusinessID, "appointment_id", appt.ID, "err", err)
		}
	}()
}

func ensureFree(ctx context.Context, tx storage.Tx, businessID string, slot timeslot.Interval, excludeID string) error {
	existing, err := tx.ListOverlapping(ctx, businessID, slot.Start, slot.End, excludeID)
	if err != nil {
		return err
	}
	for _, a := range existing {
		if timeslot.Overlaps(slot.Start, slot.End, a.StartTime, a.EndTime) {
			return apperr.Conflict("requested time slot is not available")
		}
	}
	return nil
}

func addEvent(ctx context.Context, tx storage.Tx, eventType string, appt model.Appointment, extra map[string]any) error {
	evt, err := outbox.AppointmentEvent(eventType, appt, extra)
	if err != nil {
		return err
	}
	return tx.AddEvent(ctx, evt)
}

func inBusinessZone(b model.Business, appt model.Appointment) model.Appointment {
	loc, err := b.Location()
	if err != nil {
		return appt
	}
	appt.StartTime, appt.EndTime = appt.StartTime.In(loc), appt.EndTime.In(loc)
	return appt
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
