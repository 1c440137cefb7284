// Package busy assembles the blocked time of a business day from its own
// appointments and its connected external calendars.
package busy

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
)

type AppointmentLister interface {
	ListScheduled(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error)
}

// ExternalSource reports busy time kept outside this system. It may return
// partial intervals together with an error.
type ExternalSource interface {
	Busy(ctx context.Context, businessID, resourceID string, from, to time.Time) ([]timeslot.Interval, error)
}

// DefaultExternalTimeout bounds one external lookup for a slot listing.
const DefaultExternalTimeout = 10 * time.Second

type Aggregator struct {
	appointments AppointmentLister
	external     ExternalSource
	timeout      time.Duration
	logger       *slog.Logger
}

// NewAggregator wires the sources. external may be nil when no calendar
// integration is configured.
func NewAggregator(appointments AppointmentLister, external ExternalSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{appointments: appointments, external: external, timeout: DefaultExternalTimeout, logger: logger}
}

// WithExternalTimeout sets how long Intervals waits for external calendars.
func (a *Aggregator) WithExternalTimeout(d time.Duration) *Aggregator {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// Intervals returns the merged busy time intersecting window, every interval
// padded by buffer. Appointments of the whole business count even when a
// resource is named, since two bookings of one business may never overlap.
// External failures are logged and treated as no constraint.
func (a *Aggregator) Intervals(ctx context.Context, businessID, resourceID string, window timeslot.Interval, buffer time.Duration) ([]timeslot.Interval, error) {
	// Widen the query so appointments ending just before the window still
	// push their buffer into it.
	from, to := window.Start.Add(-buffer), window.End.Add(buffer)

	appts, err := a.appointments.ListScheduled(ctx, businessID, from, to)
	if err != nil {
		return nil, err
	}
	intervals := make([]timeslot.Interval, 0, len(appts))
	for _, appt := range appts {
		intervals = append(intervals, timeslot.Interval{Start: appt.StartTime, End: appt.EndTime})
	}

	if a.external != nil {
		ext, err := a.externalBusy(ctx, businessID, resourceID, from, to)
		if err != nil {
			a.logger.WarnContext(ctx, "external calendar busy lookup degraded",
				"business_id", businessID,
				"resource_id", resourceID,
				"kept_intervals", len(ext),
				"err", err,
			)
		}
		intervals = append(intervals, ext...)
	}

	loc := window.Start.Location()
	for i := range intervals {
		intervals[i] = timeslot.Interval{Start: intervals[i].Start.In(loc), End: intervals[i].End.In(loc)}
	}
	return timeslot.Merge(timeslot.Pad(intervals, buffer)), nil
}

type externalAnswer struct {
	busy []timeslot.Interval
	err  error
}

// externalBusy gives up after the timeout even if the source ignores ctx.
func (a *Aggregator) externalBusy(ctx context.Context, businessID, resourceID string, from, to time.Time) ([]timeslot.Interval, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan externalAnswer, 1)
	go func() {
		busy, err := a.external.Busy(ctx, businessID, resourceID, from, to)
		done <- externalAnswer{busy: busy, err: err}
	}()
	select {
	case ans := <-done:
		return ans.busy, ans.err
	case <-ctx.Done():
		return nil, apperr.Upstream("external calendars", ctx.Err())
	}
}
