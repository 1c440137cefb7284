package outbox

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	TypeAppointmentBooked      = "booking.appointment.booked.v1"
	TypeAppointmentCancelled   = "booking.appointment.cancelled.v1"
	TypeAppointmentRescheduled = "booking.appointment.rescheduled.v1"
	TypeAppointmentCompleted   = "booking.appointment.completed.v1"
)

// AppointmentEvent builds an envelope carrying the appointment snapshot plus extra fields.
func AppointmentEvent(eventType string, a model.Appointment, extra map[string]any) (Event, error) {
	body := map[string]any{
		"appointment_id": a.ID,
		"business_id":    a.BusinessID,
		"resource_id":    a.ResourceID,
		"service_id":     a.ServiceID,
		"customer_name":  a.CustomerName,
		"customer_phone": a.CustomerPhone,
		"start_time":     a.StartTime.UTC().Format(time.RFC3339),
		"end_time":       a.EndTime.UTC().Format(time.RFC3339),
		"status":         string(a.Status),
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
