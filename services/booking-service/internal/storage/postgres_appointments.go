package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/outbox"
)

const appointmentColumns = `id::text, business_id::text, COALESCE(resource_id::text, ''), COALESCE(service_id::text, ''),
	customer_name, customer_phone, start_time, end_time, status, cancelled_at, cancel_reason,
	completed_at, COALESCE(rescheduled_from::text, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.BusinessID,
		&a.ResourceID,
		&a.ServiceID,
		&a.CustomerName,
		&a.CustomerPhone,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.CancelledAt,
		&a.CancelReason,
		&a.CompletedAt,
		&a.RescheduledFrom,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListScheduled(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND status = 'scheduled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, businessID, from, to)
	if err != nil {
		return nil, mapErr(err, "business")
	}
	return collectAppointments(rows)
}

func (p *Postgres) ListAppointments(ctx context.Context, businessID string, f model.AppointmentFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND ($2::text = '' OR status = $2)
			AND ($3::timestamptz IS NULL OR end_time >= $3)
			AND ($4::timestamptz IS NULL OR start_time < $4)
		ORDER BY start_time DESC
		LIMIT $5
	`, businessID, string(f.Status), from, to, limit)
	if err != nil {
		return nil, mapErr(err, "business")
	}
	return collectAppointments(rows)
}

func (p *Postgres) GetAppointment(ctx context.Context, businessID, id string) (model.Appointment, error) {
	a, err := scanAppointment(p.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
	`, id, businessID))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

func (p *Postgres) FindScheduledByPhone(ctx context.Context, businessID, phone, name string) (model.Appointment, error) {
	a, err := scanAppointment(p.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND customer_phone = $2
			AND status = 'scheduled'
			AND ($3 = '' OR lower(trim(customer_name)) = lower($3))
		ORDER BY created_at DESC
		LIMIT 1
	`, businessID, phone, strings.TrimSpace(name)))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

func (p *Postgres) ListEndedScheduled(ctx context.Context, t time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'scheduled' AND end_time <= $1
		ORDER BY end_time ASC
		LIMIT $2
	`, t, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// InBusinessTx serializes writers of one business with a transaction-scoped
// advisory lock. The exclusion constraint on appointments still rejects any
// overlap that slips past a caller.
func (p *Postgres) InBusinessTx(ctx context.Context, businessID string, fn func(Tx) error) error {
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, businessID); err != nil {
			return err
		}
		return fn(&pgTx{tx: tx, outbox: p.outbox})
	})
	return mapErr(err, "appointment")
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) LockAppointment(ctx context.Context, businessID, id string) (model.Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, id, businessID))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

func (t *pgTx) LockScheduledByPhone(ctx context.Context, businessID, phone string) (model.Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1 AND customer_phone = $2 AND status = 'scheduled'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, businessID, phone))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

func (t *pgTx) ListOverlapping(ctx context.Context, businessID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND status = 'scheduled'
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_time ASC
	`, businessID, start, end, excludeID)
	if err != nil {
		return nil, mapErr(err, "business")
	}
	return collectAppointments(rows)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *model.Appointment) error {
	if a.Status == "" {
		a.Status = model.StatusScheduled
	}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(business_id, resource_id, service_id, customer_name, customer_phone, start_time, end_time, status, rescheduled_from)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, NULLIF($9, '')::uuid)
		RETURNING id::text, created_at, updated_at
	`, a.BusinessID, a.ResourceID, a.ServiceID, a.CustomerName, a.CustomerPhone,
		a.StartTime, a.EndTime, string(a.Status), a.RescheduledFrom).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return mapErr(err, "business")
}

func (t *pgTx) CancelAppointment(ctx context.Context, businessID, id, reason string, at time.Time) (model.Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = $3, cancel_reason = $4, updated_at = $3
		WHERE id = $1 AND business_id = $2
		RETURNING `+appointmentColumns,
		id, businessID, at, reason))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

func (t *pgTx) CompleteAppointment(ctx context.Context, businessID, id string, at time.Time) (model.Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed', completed_at = $3, updated_at = $3
		WHERE id = $1 AND business_id = $2
		RETURNING `+appointmentColumns,
		id, businessID, at))
	if err != nil {
		return model.Appointment{}, mapErr(err, "appointment")
	}
	return a, nil
}

func (t *pgTx) AddEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func (t *pgTx) IdempotentAppointment(ctx context.Context, businessID, key string) (string, bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		SELECT appointment_id::text
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapErr(err, "business")
	}
	return id, true, nil
}

func (t *pgTx) RememberIdempotencyKey(ctx context.Context, businessID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key, appointment_id)
		VALUES ($1, $2, $3)
	`, businessID, key, appointmentID)
	return mapErr(err, "idempotency key")
}
