package availability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/busy"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/hours"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *storage.Memory
	engine   *Engine
	business model.Business
	service  model.Service
}

// 2025-01-06 is a Monday.
const monday = "2025-01-06"

func newFixture(t *testing.T, tz string, openMinute, closeMinute int) *fixture {
	t.Helper()
	ctx := context.Background()
	m := storage.NewMemory()
	b := model.Business{Name: "Dental", Timezone: tz}
	require.NoError(t, m.CreateBusiness(ctx, &b))
	require.NoError(t, m.SetBusinessHours(ctx, b.ID, model.OpeningHours{Day: 0, OpenMinute: openMinute, CloseMinute: closeMinute}))
	s := model.Service{BusinessID: b.ID, Name: "Cleaning", DurationMinutes: 30}
	require.NoError(t, m.CreateService(ctx, &s))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.HidePast = false
	engine := NewEngine(m, hours.NewResolver(m), busy.NewAggregator(m, nil, logger), cfg)
	return &fixture{store: m, engine: engine, business: b, service: s}
}

func (f *fixture) book(t *testing.T, start, end time.Time) {
	t.Helper()
	require.NoError(t, f.store.InBusinessTx(context.Background(), f.business.ID, func(tx storage.Tx) error {
		return tx.InsertAppointment(context.Background(), &model.Appointment{
			BusinessID: f.business.ID, CustomerName: "Existing", StartTime: start, EndTime: end,
		})
	}))
}

func TestSlotsFullOpenDay(t *testing.T) {
	f := newFixture(t, "UTC", 9*60, 17*60)

	res, err := f.engine.Slots(context.Background(), Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday})
	require.NoError(t, err)
	require.NotEmpty(t, res.Slots)
	assert.Equal(t, "09:00", res.Slots[0].Start.Format("15:04"))
	assert.Equal(t, "16:30", res.Slots[len(res.Slots)-1].Start.Format("15:04"))
	assert.Len(t, res.Slots, 31)
}

func TestSlotsAfterExistingBooking(t *testing.T) {
	f := newFixture(t, "UTC", 9*60, 10*60)
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	f.book(t, start, start.Add(30*time.Minute))

	res, err := f.engine.Slots(context.Background(), Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday})
	require.NoError(t, err)
	require.Len(t, res.Slots, 1)
	assert.Equal(t, "09:30", res.Slots[0].Start.Format("15:04"))
}

func TestSlotsBufferAroundBooking(t *testing.T) {
	f := newFixture(t, "UTC", 9*60, 12*60)
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	f.book(t, start, start.Add(30*time.Minute))
	buffer := 15 * time.Minute

	res, err := f.engine.Slots(context.Background(), Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday, Buffer: &buffer})
	require.NoError(t, err)
	for _, s := range res.Slots {
		assert.False(t, s.Start.Before(start.Add(45*time.Minute)) && s.End.After(start.Add(-15*time.Minute)),
			"slot %s violates the buffer", s.Start.Format("15:04"))
	}
}

func TestSlotsClosedDayIsEmpty(t *testing.T) {
	f := newFixture(t, "UTC", 9*60, 17*60)
	res, err := f.engine.Slots(context.Background(), Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: "2025-01-07"})
	require.NoError(t, err)
	assert.NotNil(t, res.Slots)
	assert.Empty(t, res.Slots)
}

func TestSlotsInBusinessTimezone(t *testing.T) {
	f := newFixture(t, "America/New_York", 9*60, 17*60)
	res, err := f.engine.Slots(context.Background(), Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday})
	require.NoError(t, err)
	require.NotEmpty(t, res.Slots)
	assert.Equal(t, "America/New_York", res.Location.String())
	assert.Equal(t, 14, res.Slots[0].Start.UTC().Hour())
}

func TestSlotsHidesPast(t *testing.T) {
	f := newFixture(t, "UTC", 9*60, 17*60)
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return time.Date(2025, 1, 6, 16, 1, 0, 0, time.UTC) }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(f.store, hours.NewResolver(f.store), busy.NewAggregator(f.store, nil, logger), cfg)

	res, err := engine.Slots(context.Background(), Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday})
	require.NoError(t, err)
	require.Len(t, res.Slots, 2)
	assert.Equal(t, "16:15", res.Slots[0].Start.Format("15:04"))
}

func TestSlotsErrors(t *testing.T) {
	f := newFixture(t, "UTC", 9*60, 17*60)
	ctx := context.Background()

	_, err := f.engine.Slots(ctx, Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: "2025-13-01"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.engine.Slots(ctx, Query{BusinessID: "missing", ServiceID: f.service.ID, Date: monday})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.engine.Slots(ctx, Query{BusinessID: f.business.ID, ServiceID: "missing", Date: monday})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	tooBig := 90 * time.Minute
	_, err = f.engine.Slots(ctx, Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday, Buffer: &tooBig})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	for _, step := range []time.Duration{0, 2 * time.Microsecond, 25 * time.Hour} {
		_, err = f.engine.Slots(ctx, Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday, Step: &step})
		assert.ErrorIs(t, err, apperr.ErrValidation, "step %s", step)
	}
}

type hungCalendars struct{ release chan struct{} }

func (h hungCalendars) Busy(context.Context, string, string, time.Time, time.Time) ([]timeslot.Interval, error) {
	<-h.release
	return nil, nil
}

func TestSlotsListedWhenCalendarsHang(t *testing.T) {
	f := newFixture(t, "UTC", 9*60, 17*60)
	f.book(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC))
	ext := hungCalendars{release: make(chan struct{})}
	defer close(ext.release)

	cfg := DefaultConfig()
	cfg.HidePast = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := busy.NewAggregator(f.store, ext, logger).WithExternalTimeout(50 * time.Millisecond)
	engine := NewEngine(f.store, hours.NewResolver(f.store), agg, cfg)

	res, err := engine.Slots(context.Background(), Query{BusinessID: f.business.ID, ServiceID: f.service.ID, Date: monday})
	require.NoError(t, err)
	require.NotEmpty(t, res.Slots)
	assert.Equal(t, "09:30", res.Slots[0].Start.Format("15:04"))
}
