package hours

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-01-06 is a Monday.
var monday = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*storage.Memory, model.Business, model.Resource) {
	t.Helper()
	ctx := context.Background()
	m := storage.NewMemory()
	b := model.Business{Name: "Salon", Timezone: "UTC"}
	require.NoError(t, m.CreateBusiness(ctx, &b))
	require.NoError(t, m.SetBusinessHours(ctx, b.ID, model.OpeningHours{Day: 0, OpenMinute: 9 * 60, CloseMinute: 17 * 60}))
	r := model.Resource{BusinessID: b.ID, Name: "Chair 1"}
	require.NoError(t, m.CreateResource(ctx, &r))
	return m, b, r
}

func TestWindowBusinessOnly(t *testing.T) {
	m, b, _ := setup(t)
	w, ok, err := NewResolver(m).Window(context.Background(), b.ID, "", monday)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC), w.End)
}

func TestWindowClosedDay(t *testing.T) {
	m, b, _ := setup(t)
	_, ok, err := NewResolver(m).Window(context.Background(), b.ID, "", monday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowIntersectsResource(t *testing.T) {
	m, b, r := setup(t)
	require.NoError(t, m.SetResourceHours(context.Background(), r.ID, model.OpeningHours{Day: 0, OpenMinute: 12 * 60, CloseMinute: 20 * 60}))

	w, ok, err := NewResolver(m).Window(context.Background(), b.ID, r.ID, monday)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12, w.Start.Hour())
	assert.Equal(t, 17, w.End.Hour())
}

func TestWindowResourceWithoutHoursIsClosed(t *testing.T) {
	m, b, r := setup(t)
	_, ok, err := NewResolver(m).Window(context.Background(), b.ID, r.ID, monday)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowDisjointResourceIsClosed(t *testing.T) {
	m, b, r := setup(t)
	require.NoError(t, m.SetResourceHours(context.Background(), r.ID, model.OpeningHours{Day: 0, OpenMinute: 18 * 60, CloseMinute: 20 * 60}))
	_, ok, err := NewResolver(m).Window(context.Background(), b.ID, r.ID, monday)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowUnknownResource(t *testing.T) {
	m, b, _ := setup(t)
	_, _, err := NewResolver(m).Window(context.Background(), b.ID, "missing", monday)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAnchorAcrossDaylightSaving(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// Spring forward day.
	day := time.Date(2025, 3, 9, 0, 0, 0, 0, loc)
	w := Anchor(day, 9*60, 17*60)
	assert.Equal(t, 9, w.Start.Hour())
	assert.Equal(t, 17, w.End.Hour())
	assert.Equal(t, 23*time.Hour, DayBounds(day).Duration())
}
