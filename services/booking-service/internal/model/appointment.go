package model

import "time"

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Appointment rows are never deleted; cancellation and completion are status
// transitions. ResourceID, ServiceID, CustomerPhone and RescheduledFrom are
// empty when not set.
type Appointment struct {
	ID              string
	BusinessID      string
	ResourceID      string
	ServiceID       string
	CustomerName    string
	CustomerPhone   string
	StartTime       time.Time
	EndTime         time.Time
	Status          AppointmentStatus
	CancelledAt     *time.Time
	CancelReason    string
	CompletedAt     *time.Time
	RescheduledFrom string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// AppointmentFilter narrows appointment listings. Zero values mean "any".
type AppointmentFilter struct {
	From   time.Time
	To     time.Time
	Status AppointmentStatus
	Limit  int
}
