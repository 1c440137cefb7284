package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBusiness(t *testing.T, m *Memory) model.Business {
	t.Helper()
	b := model.Business{Name: "Clinic", Phone: "+15550001", Timezone: "UTC"}
	require.NoError(t, m.CreateBusiness(context.Background(), &b))
	return b
}

func slot(h int) (time.Time, time.Time) {
	start := time.Date(2025, 1, 6, h, 0, 0, 0, time.UTC)
	return start, start.Add(time.Hour)
}

func TestMemoryBusinessLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)
	assert.NotEmpty(t, b.ID)

	dup := model.Business{Name: "Other", Phone: b.Phone}
	assert.ErrorIs(t, m.CreateBusiness(ctx, &dup), apperr.ErrConflict)

	found, err := m.FindBusinessByPhone(ctx, b.Phone)
	require.NoError(t, err)
	assert.Equal(t, b.ID, found.ID)

	require.NoError(t, m.SetBusinessHours(ctx, b.ID, model.OpeningHours{Day: 0, OpenMinute: 540, CloseMinute: 1020}))
	h, ok, err := m.GetBusinessHours(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 540, h.OpenMinute)

	require.NoError(t, m.DeleteBusiness(ctx, b.ID))
	_, err = m.GetBusiness(ctx, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, ok, _ = m.GetBusinessHours(ctx, b.ID, 0)
	assert.False(t, ok)
}

func TestMemoryHoursValidation(t *testing.T) {
	m := NewMemory()
	b := seedBusiness(t, m)
	err := m.SetBusinessHours(context.Background(), b.ID, model.OpeningHours{Day: 0, OpenMinute: 600, CloseMinute: 540})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMemoryTxRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)
	start, end := slot(10)

	boom := errors.New("boom")
	err := m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
		a := model.Appointment{BusinessID: b.ID, CustomerName: "Ann", StartTime: start, EndTime: end}
		require.NoError(t, tx.InsertAppointment(ctx, &a))
		require.NoError(t, tx.AddEvent(ctx, outbox.Event{EventType: outbox.TypeAppointmentBooked}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	appts, err := m.ListScheduled(ctx, b.ID, start.Add(-time.Hour), end.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, appts)
	assert.Empty(t, m.Events())
}

func TestMemoryTxSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)
	start, end := slot(10)

	err := m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
		a := model.Appointment{BusinessID: b.ID, CustomerName: "Ann", CustomerPhone: "+1", StartTime: start, EndTime: end}
		if err := tx.InsertAppointment(ctx, &a); err != nil {
			return err
		}
		overlapping, err := tx.ListOverlapping(ctx, b.ID, start.Add(30*time.Minute), end, "")
		require.NoError(t, err)
		assert.Len(t, overlapping, 1)

		excluded, err := tx.ListOverlapping(ctx, b.ID, start, end, a.ID)
		require.NoError(t, err)
		assert.Empty(t, excluded)

		cancelled, err := tx.CancelAppointment(ctx, b.ID, a.ID, "test", end)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, cancelled.Status)

		overlapping, err = tx.ListOverlapping(ctx, b.ID, start, end, "")
		require.NoError(t, err)
		assert.Empty(t, overlapping)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryFindScheduledByPhoneReturnsLatest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)

	var ids []string
	for _, h := range []int{14, 9} {
		start, end := slot(h)
		err := m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
			a := model.Appointment{BusinessID: b.ID, CustomerName: "Bob", CustomerPhone: "+1555", StartTime: start, EndTime: end}
			if err := tx.InsertAppointment(ctx, &a); err != nil {
				return err
			}
			ids = append(ids, a.ID)
			return nil
		})
		require.NoError(t, err)
	}

	a, err := m.FindScheduledByPhone(ctx, b.ID, "+1555", "")
	require.NoError(t, err)
	assert.Equal(t, ids[1], a.ID)

	_, err = m.FindScheduledByPhone(ctx, b.ID, "+1555", "alice")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	a, err = m.FindScheduledByPhone(ctx, b.ID, "+1555", " BOB ")
	require.NoError(t, err)
	assert.Equal(t, ids[1], a.ID)
}

func TestMemoryInBusinessTxSerializes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)
	start, end := slot(11)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
				existing, err := tx.ListOverlapping(ctx, b.ID, start, end, "")
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					return apperr.Conflict("taken")
				}
				a := model.Appointment{BusinessID: b.ID, CustomerName: "X", StartTime: start, EndTime: end}
				return tx.InsertAppointment(ctx, &a)
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	appts, err := m.ListScheduled(ctx, b.ID, start, end)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestMemoryListEndedScheduled(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)
	for _, h := range []int{8, 10, 12} {
		start, end := slot(h)
		require.NoError(t, m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
			return tx.InsertAppointment(ctx, &model.Appointment{BusinessID: b.ID, StartTime: start, EndTime: end})
		}))
	}
	_, cutoff := slot(10)
	ended, err := m.ListEndedScheduled(ctx, cutoff, 0)
	require.NoError(t, err)
	require.Len(t, ended, 2)
	assert.True(t, ended[0].EndTime.Before(ended[1].EndTime))
}

func TestMemoryCalendarCredentialUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)

	c := model.CalendarCredential{BusinessID: b.ID, Provider: model.ProviderGoogle, CalendarID: "primary", AccessToken: "a1"}
	require.NoError(t, m.UpsertCalendarCredential(ctx, &c))
	again := model.CalendarCredential{BusinessID: b.ID, Provider: model.ProviderGoogle, CalendarID: "primary", AccessToken: "a2"}
	require.NoError(t, m.UpsertCalendarCredential(ctx, &again))
	assert.Equal(t, c.ID, again.ID)

	scoped := model.CalendarCredential{BusinessID: b.ID, ResourceID: "r1", Provider: model.ProviderOutlook}
	require.NoError(t, m.UpsertCalendarCredential(ctx, &scoped))

	all, err := m.ListCalendarCredentials(ctx, b.ID, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a2", all[0].AccessToken)

	withResource, err := m.ListCalendarCredentials(ctx, b.ID, "r1")
	require.NoError(t, err)
	assert.Len(t, withResource, 2)

	require.NoError(t, m.DeleteCalendarCredential(ctx, b.ID, c.ID))
	assert.ErrorIs(t, m.DeleteCalendarCredential(ctx, b.ID, c.ID), apperr.ErrNotFound)
}

func TestMemoryTxDropsWritesForDeletedBusiness(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)
	start, end := slot(10)

	err := m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
		a := model.Appointment{BusinessID: b.ID, CustomerName: "Ann", StartTime: start, EndTime: end}
		require.NoError(t, tx.InsertAppointment(ctx, &a))
		require.NoError(t, tx.RememberIdempotencyKey(ctx, b.ID, "k", a.ID))
		require.NoError(t, tx.AddEvent(ctx, outbox.Event{EventType: outbox.TypeAppointmentBooked}))
		// The business disappears between staging and commit.
		return m.DeleteBusiness(ctx, b.ID)
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Empty(t, m.appointments)
	assert.Empty(t, m.idempotency)
	assert.Empty(t, m.events)
}

func TestMemoryIdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)
	start, end := slot(9)

	var id string
	require.NoError(t, m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
		_, ok, err := tx.IdempotentAppointment(ctx, b.ID, "retry-1")
		require.NoError(t, err)
		assert.False(t, ok)

		a := model.Appointment{BusinessID: b.ID, CustomerName: "Ann", StartTime: start, EndTime: end}
		require.NoError(t, tx.InsertAppointment(ctx, &a))
		id = a.ID
		require.NoError(t, tx.RememberIdempotencyKey(ctx, b.ID, "retry-1", a.ID))

		got, ok, err := tx.IdempotentAppointment(ctx, b.ID, "retry-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, a.ID, got)
		return nil
	}))

	require.NoError(t, m.InBusinessTx(ctx, b.ID, func(tx Tx) error {
		got, ok, err := tx.IdempotentAppointment(ctx, b.ID, "retry-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, id, got)

		_, ok, err = tx.IdempotentAppointment(ctx, "other-business", "retry-1")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestMemoryCallerNotes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	b := seedBusiness(t, m)

	for _, text := range []string{"prefers mornings", "allergic to latex"} {
		require.NoError(t, m.AddCallerNote(ctx, &model.CallerNote{BusinessID: b.ID, CustomerName: "Ann", CustomerPhone: "+1", Notes: text}))
	}
	require.NoError(t, m.AddCallerNote(ctx, &model.CallerNote{BusinessID: b.ID, CustomerPhone: "+2", Notes: "call back"}))
	assert.ErrorIs(t, m.AddCallerNote(ctx, &model.CallerNote{BusinessID: "missing", Notes: "x"}), apperr.ErrNotFound)

	notes, err := m.ListCallerNotes(ctx, b.ID, "+1", 0)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "allergic to latex", notes[0].Notes)

	all, err := m.ListCallerNotes(ctx, b.ID, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "call back", all[0].Notes)
}
