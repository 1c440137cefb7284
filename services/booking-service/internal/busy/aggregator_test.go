package busy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAppointments []model.Appointment

func (s stubAppointments) ListScheduled(_ context.Context, _ string, from, to time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range s {
		if timeslot.Overlaps(a.StartTime, a.EndTime, from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubExternal struct {
	busy []timeslot.Interval
	err  error
}

func (s stubExternal) Busy(context.Context, string, string, time.Time, time.Time) ([]timeslot.Interval, error) {
	return s.busy, s.err
}

func at(h, m int) time.Time {
	return time.Date(2025, 1, 6, h, m, 0, 0, time.UTC)
}

var (
	window = timeslot.Interval{Start: at(9, 0), End: at(17, 0)}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func TestIntervalsMergesAppointmentsAndExternal(t *testing.T) {
	appts := stubAppointments{
		{StartTime: at(10, 0), EndTime: at(10, 30)},
		{StartTime: at(13, 0), EndTime: at(14, 0)},
	}
	ext := stubExternal{busy: []timeslot.Interval{{Start: at(10, 15), End: at(11, 0)}}}

	got, err := NewAggregator(appts, ext, logger).Intervals(context.Background(), "b1", "", window, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, at(10, 0), got[0].Start)
	assert.Equal(t, at(11, 0), got[0].End)
	assert.Equal(t, at(13, 0), got[1].Start)
}

func TestIntervalsAppliesBuffer(t *testing.T) {
	appts := stubAppointments{
		{StartTime: at(8, 0), EndTime: at(9, 0)},
		{StartTime: at(12, 0), EndTime: at(12, 30)},
	}
	got, err := NewAggregator(appts, nil, logger).Intervals(context.Background(), "b1", "", window, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// The 08:00 appointment sits outside the window but its buffer does not.
	assert.Equal(t, at(9, 10), got[0].End)
	assert.Equal(t, at(11, 50), got[1].Start)
	assert.Equal(t, at(12, 40), got[1].End)
}

func TestIntervalsDegradesOnExternalFailure(t *testing.T) {
	appts := stubAppointments{{StartTime: at(10, 0), EndTime: at(10, 30)}}
	ext := stubExternal{
		busy: []timeslot.Interval{{Start: at(15, 0), End: at(16, 0)}},
		err:  errors.New("token revoked"),
	}
	got, err := NewAggregator(appts, ext, logger).Intervals(context.Background(), "b1", "", window, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestIntervalsConvertsToWindowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	local := timeslot.Interval{
		Start: time.Date(2025, 1, 6, 9, 0, 0, 0, loc),
		End:   time.Date(2025, 1, 6, 17, 0, 0, 0, loc),
	}
	ext := stubExternal{busy: []timeslot.Interval{{Start: at(8, 0), End: at(9, 0)}}}
	got, err := NewAggregator(stubAppointments{}, ext, logger).Intervals(context.Background(), "b1", "", local, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Start.Hour())
	assert.Equal(t, loc, got[0].Start.Location())
}

// stuckExternal never answers, whatever its context says.
type stuckExternal struct{ release chan struct{} }

func (s stuckExternal) Busy(context.Context, string, string, time.Time, time.Time) ([]timeslot.Interval, error) {
	<-s.release
	return []timeslot.Interval{{Start: at(9, 0), End: at(17, 0)}}, nil
}

func TestIntervalsSurvivesHungExternalSource(t *testing.T) {
	ext := stuckExternal{release: make(chan struct{})}
	defer close(ext.release)
	appts := stubAppointments{{StartTime: at(10, 0), EndTime: at(10, 30)}}

	agg := NewAggregator(appts, ext, logger).WithExternalTimeout(50 * time.Millisecond)
	start := time.Now()
	got, err := agg.Intervals(context.Background(), "b1", "", window, 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, at(10, 0), got[0].Start)
	assert.Equal(t, at(10, 30), got[0].End)
}
