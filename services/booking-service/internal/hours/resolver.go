// Package hours turns stored opening hours into the concrete open window of a
// calendar day.
package hours

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
)

type Store interface {
	GetBusinessHours(ctx context.Context, businessID string, day int) (model.OpeningHours, bool, error)
	GetResource(ctx context.Context, businessID, id string) (model.Resource, error)
	GetResourceHours(ctx context.Context, resourceID string, day int) (model.OpeningHours, bool, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Window returns the open interval of the business on the calendar date of day,
// read in day's location. With a resource the result is the intersection of
// business and resource hours. ok is false when closed.
//
// The business must already be known to exist; an unknown resource returns an
// apperr.ErrNotFound error.
func (r *Resolver) Window(ctx context.Context, businessID, resourceID string, day time.Time) (timeslot.Interval, bool, error) {
	weekday := model.Weekday(day)

	var resourceHours model.OpeningHours
	if resourceID != "" {
		if _, err := r.store.GetResource(ctx, businessID, resourceID); err != nil {
			return timeslot.Interval{}, false, err
		}
		h, ok, err := r.store.GetResourceHours(ctx, resourceID, weekday)
		if err != nil || !ok {
			return timeslot.Interval{}, false, err
		}
		resourceHours = h
	}

	h, ok, err := r.store.GetBusinessHours(ctx, businessID, weekday)
	if err != nil || !ok {
		return timeslot.Interval{}, false, err
	}

	open, close := h.OpenMinute, h.CloseMinute
	if resourceID != "" {
		open = max(open, resourceHours.OpenMinute)
		close = min(close, resourceHours.CloseMinute)
		if open >= close {
			return timeslot.Interval{}, false, nil
		}
	}
	return Anchor(day, open, close), true, nil
}

// Anchor places minute offsets on the date of day in its location. Building
// each bound from midnight with time.Date keeps wall-clock times correct on
// daylight saving transition days.
func Anchor(day time.Time, openMinute, closeMinute int) timeslot.Interval {
	y, m, d := day.Date()
	loc := day.Location()
	return timeslot.Interval{
		Start: time.Date(y, m, d, 0, openMinute, 0, 0, loc),
		End:   time.Date(y, m, d, 0, closeMinute, 0, 0, loc),
	}
}

// DayBounds is the whole local calendar day [00:00, next 00:00).
func DayBounds(day time.Time) timeslot.Interval {
	y, m, d := day.Date()
	loc := day.Location()
	return timeslot.Interval{
		Start: time.Date(y, m, d, 0, 0, 0, 0, loc),
		End:   time.Date(y, m, d+1, 0, 0, 0, 0, loc),
	}
}
