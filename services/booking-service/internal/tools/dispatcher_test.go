package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/busy"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/hours"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	d        *Dispatcher
	store    *storage.Memory
	business model.Business
	service  model.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	m := storage.NewMemory()
	b := model.Business{Name: "Vet", Phone: "+15550199", Timezone: "UTC"}
	require.NoError(t, m.CreateBusiness(ctx, &b))
	require.NoError(t, m.SetBusinessHours(ctx, b.ID, model.OpeningHours{Day: 0, OpenMinute: 9 * 60, CloseMinute: 11 * 60}))
	s := model.Service{BusinessID: b.ID, Name: "Checkup", DurationMinutes: 60}
	require.NoError(t, m.CreateService(ctx, &s))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := hours.NewResolver(m)
	cfg := availability.DefaultConfig()
	cfg.HidePast = false
	engine := availability.NewEngine(m, resolver, busy.NewAggregator(m, nil, logger), cfg)
	svc := booking.NewService(m, resolver, nil, logger, booking.DefaultConfig())
	return &harness{d: NewDispatcher(engine, svc, m), store: m, business: b, service: s}
}

func (h *harness) call(t *testing.T, tool Name, args any) (any, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return h.d.Dispatch(context.Background(), Call{Tool: tool, Arguments: raw, BusinessID: h.business.ID})
}

func TestCheckThenBook(t *testing.T) {
	h := newHarness(t)

	out, err := h.call(t, CheckAvailability, map[string]any{"date": "2025-01-06", "service_id": h.service.ID, "slot_step_minutes": 30})
	require.NoError(t, err)
	avail := out.(AvailabilityResult)
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, avail.AvailableTimes)
	assert.Equal(t, "UTC", avail.Timezone)

	out, err = h.call(t, BookAppointment, map[string]any{
		"customer_name": "Max", "customer_phone": "+1222", "start_time": "2025-01-06T09:30:00Z", "service_id": h.service.ID,
	})
	require.NoError(t, err)
	booked := out.(BookResult)
	assert.Equal(t, "booked", booked.Status)
	assert.NotEmpty(t, booked.AppointmentID)

	out, err = h.call(t, BookAppointment, map[string]any{
		"customer_name": "Rex", "start_time": "2025-01-06T10:00:00Z", "service_id": h.service.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "conflict", out.(BookResult).Status)

	out, err = h.call(t, CheckAvailability, map[string]any{"date": "2025-01-06", "service_id": h.service.ID, "slot_step_minutes": 30})
	require.NoError(t, err)
	assert.Empty(t, out.(AvailabilityResult).AvailableTimes)
}

func TestDetailsRescheduleCancel(t *testing.T) {
	h := newHarness(t)
	_, err := h.call(t, BookAppointment, map[string]any{
		"customer_name": "Max", "customer_phone": "+1222", "start_time": "2025-01-06T09:00", "duration_minutes": 30,
	})
	require.NoError(t, err)

	out, err := h.call(t, GetAppointmentDetails, map[string]any{"customer_phone": "+1222"})
	require.NoError(t, err)
	details := out.(DetailsResult)
	require.True(t, details.Found)

	out, err = h.call(t, RescheduleAppointment, map[string]any{"customer_phone": "+1222", "new_start_time": "2025-01-06T10:00"})
	require.NoError(t, err)
	moved := out.(ChangeResult)
	assert.True(t, moved.Success)
	assert.Equal(t, details.AppointmentID, moved.PreviousAppointmentID)

	out, err = h.call(t, CancelAppointment, map[string]any{"appointment_id": moved.AppointmentID})
	require.NoError(t, err)
	assert.True(t, out.(ChangeResult).Success)

	out, err = h.call(t, CancelAppointment, map[string]any{"customer_phone": "+1222"})
	require.NoError(t, err)
	assert.False(t, out.(ChangeResult).Success)
	assert.Equal(t, "not_found", out.(ChangeResult).Status)

	out, err = h.call(t, GetAppointmentDetails, map[string]any{"customer_phone": "+1222"})
	require.NoError(t, err)
	assert.False(t, out.(DetailsResult).Found)
}

func TestDispatchRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, Name("deleteEverything"), map[string]any{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.call(t, CheckAvailability, map[string]any{"date": "2025-01-06"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.call(t, CheckAvailability, map[string]any{"date": "2025-13-01", "service_id": h.service.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.call(t, CancelAppointment, map[string]any{"reason": "none"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.d.Dispatch(context.Background(), Call{Tool: BookAppointment, Arguments: json.RawMessage(`{"customer_name":`), BusinessID: h.business.ID})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNameValid(t *testing.T) {
	assert.True(t, BookAppointment.Valid())
	assert.True(t, SaveCallerNotes.Valid())
	assert.False(t, Name("bookappointment").Valid())
}

func TestRetriedBookCallReturnsSameAppointment(t *testing.T) {
	h := newHarness(t)
	raw, err := json.Marshal(map[string]any{
		"customer_name": "Max", "customer_phone": "+1222", "start_time": "2025-01-06T09:00:00Z", "service_id": h.service.ID,
	})
	require.NoError(t, err)
	call := Call{Tool: BookAppointment, Arguments: raw, BusinessID: h.business.ID, CallID: "call_abc"}

	first, err := h.d.Dispatch(context.Background(), call)
	require.NoError(t, err)
	second, err := h.d.Dispatch(context.Background(), call)
	require.NoError(t, err)

	assert.Equal(t, "booked", first.(BookResult).Status)
	assert.Equal(t, "booked", second.(BookResult).Status)
	assert.Equal(t, first.(BookResult).AppointmentID, second.(BookResult).AppointmentID)

	// A different call for the same slot is a real conflict.
	call.CallID = "call_def"
	out, err := h.d.Dispatch(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, "conflict", out.(BookResult).Status)
}

func TestBookIdempotencyKeyArgument(t *testing.T) {
	h := newHarness(t)
	args := map[string]any{
		"customer_name": "Max", "start_time": "2025-01-06T10:00:00Z", "service_id": h.service.ID, "idempotency_key": "agent-42",
	}
	first, err := h.call(t, BookAppointment, args)
	require.NoError(t, err)
	second, err := h.call(t, BookAppointment, args)
	require.NoError(t, err)
	assert.Equal(t, first.(BookResult).AppointmentID, second.(BookResult).AppointmentID)
	assert.Equal(t, "booked", second.(BookResult).Status)
}

func TestSaveCallerNotes(t *testing.T) {
	h := newHarness(t)

	out, err := h.call(t, SaveCallerNotes, map[string]any{
		"customer_name": "Max", "customer_phone": "+1222", "notes": "  Prefers afternoon slots.  ",
	})
	require.NoError(t, err)
	res := out.(NotesResult)
	assert.True(t, res.Success)
	assert.Equal(t, "Notes saved.", res.Message)
	assert.NotEmpty(t, res.NoteID)

	notes, err := h.store.ListCallerNotes(context.Background(), h.business.ID, "+1222", 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Prefers afternoon slots.", notes[0].Notes)
	assert.Equal(t, "Max", notes[0].CustomerName)

	_, err = h.call(t, SaveCallerNotes, map[string]any{"customer_phone": "+1222"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.call(t, SaveCallerNotes, map[string]any{"notes": "   "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
