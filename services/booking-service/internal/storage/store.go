// Package storage persists businesses, their schedules and appointments.
//
// Two implementations exist: Postgres for deployments and Memory for tests and
// local runs without a database. A process uses exactly one of them.
package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/outbox"
)

// Store is the persistence boundary. Lookups of missing rows return an error
// matching apperr.ErrNotFound.
type Store interface {
	CreateBusiness(ctx context.Context, b *model.Business) error
	GetBusiness(ctx context.Context, id string) (model.Business, error)
	FindBusinessByPhone(ctx context.Context, phone string) (model.Business, error)
	UpdateBusiness(ctx context.Context, b model.Business) error
	// DeleteBusiness removes the business and everything it owns.
	DeleteBusiness(ctx context.Context, id string) error

	SetBusinessHours(ctx context.Context, businessID string, h model.OpeningHours) error
	DeleteBusinessHours(ctx context.Context, businessID string, day int) error
	GetBusinessHours(ctx context.Context, businessID string, day int) (model.OpeningHours, bool, error)
	ListBusinessHours(ctx context.Context, businessID string) ([]model.OpeningHours, error)

	CreateResource(ctx context.Context, r *model.Resource) error
	GetResource(ctx context.Context, businessID, id string) (model.Resource, error)
	ListResources(ctx context.Context, businessID string) ([]model.Resource, error)
	SetResourceHours(ctx context.Context, resourceID string, h model.OpeningHours) error
	DeleteResourceHours(ctx context.Context, resourceID string, day int) error
	GetResourceHours(ctx context.Context, resourceID string, day int) (model.OpeningHours, bool, error)
	ListResourceHours(ctx context.Context, resourceID string) ([]model.OpeningHours, error)

	CreateService(ctx context.Context, s *model.Service) error
	GetService(ctx context.Context, businessID, id string) (model.Service, error)
	ListServices(ctx context.Context, businessID string) ([]model.Service, error)

	// ListScheduled returns scheduled appointments of the business intersecting [from, to).
	ListScheduled(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error)
	ListAppointments(ctx context.Context, businessID string, f model.AppointmentFilter) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, businessID, id string) (model.Appointment, error)
	// FindScheduledByPhone returns the most recently created scheduled appointment
	// for the phone number, optionally narrowed by a case-insensitive name.
	FindScheduledByPhone(ctx context.Context, businessID, phone, name string) (model.Appointment, error)
	// ListEndedScheduled returns scheduled appointments of any business that ended at or before t.
	ListEndedScheduled(ctx context.Context, t time.Time, limit int) ([]model.Appointment, error)

	// UpsertCalendarCredential is keyed by (business, provider, resource).
	UpsertCalendarCredential(ctx context.Context, c *model.CalendarCredential) error
	// ListCalendarCredentials returns business-level credentials plus, when
	// resourceID is set, the credentials of that resource.
	ListCalendarCredentials(ctx context.Context, businessID, resourceID string) ([]model.CalendarCredential, error)
	DeleteCalendarCredential(ctx context.Context, businessID, id string) error

	AddCallerNote(ctx context.Context, n *model.CallerNote) error
	// ListCallerNotes returns the newest notes first. An empty phone lists
	// every note of the business.
	ListCallerNotes(ctx context.Context, businessID, phone string, limit int) ([]model.CallerNote, error)

	// InBusinessTx runs fn in a transaction serialized against every other
	// InBusinessTx of the same business. Nothing fn writes is visible unless fn
	// returns nil and the commit succeeds.
	InBusinessTx(ctx context.Context, businessID string, fn func(Tx) error) error
}

// Tx is the write side used inside InBusinessTx.
type Tx interface {
	LockAppointment(ctx context.Context, businessID, id string) (model.Appointment, error)
	LockScheduledByPhone(ctx context.Context, businessID, phone string) (model.Appointment, error)
	// ListOverlapping returns scheduled appointments of the business overlapping
	// [start, end), skipping excludeID.
	ListOverlapping(ctx context.Context, businessID string, start, end time.Time, excludeID string) ([]model.Appointment, error)
	// InsertAppointment assigns ID, timestamps and the scheduled status when unset.
	InsertAppointment(ctx context.Context, a *model.Appointment) error
	CancelAppointment(ctx context.Context, businessID, id, reason string, at time.Time) (model.Appointment, error)
	CompleteAppointment(ctx context.Context, businessID, id string, at time.Time) (model.Appointment, error)
	AddEvent(ctx context.Context, evt outbox.Event) error
	// IdempotentAppointment returns the appointment recorded under key, if any.
	IdempotentAppointment(ctx context.Context, businessID, key string) (string, bool, error)
	RememberIdempotencyKey(ctx context.Context, businessID, key, appointmentID string) error
}
