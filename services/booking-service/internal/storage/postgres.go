package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/secrets"
)

type Postgres struct {
	pool   *db.Pool
	sealer secrets.Sealer
	outbox *outbox.Repository
}

// NewPostgres builds the store. Calendar tokens are sealed with sealer before
// they are written.
func NewPostgres(pool *db.Pool, sealer secrets.Sealer) *Postgres {
	if sealer == nil {
		sealer = secrets.Plaintext{}
	}
	return &Postgres{pool: pool, sealer: sealer, outbox: outbox.NewRepository()}
}

func (p *Postgres) CreateBusiness(ctx context.Context, b *model.Business) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO businesses (name, phone, timezone)
		VALUES ($1, NULLIF($2, ''), $3)
		RETURNING id::text, created_at, updated_at
	`, b.Name, b.Phone, b.Timezone).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	return mapErr(err, "business")
}

func (p *Postgres) GetBusiness(ctx context.Context, id string) (model.Business, error) {
	return p.scanBusiness(p.pool.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(phone, ''), timezone, created_at, updated_at
		FROM businesses
		WHERE id = $1
	`, id))
}

func (p *Postgres) FindBusinessByPhone(ctx context.Context, phone string) (model.Business, error) {
	return p.scanBusiness(p.pool.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(phone, ''), timezone, created_at, updated_at
		FROM businesses
		WHERE phone = $1
	`, phone))
}

func (p *Postgres) scanBusiness(row pgx.Row) (model.Business, error) {
	var b model.Business
	if err := row.Scan(&b.ID, &b.Name, &b.Phone, &b.Timezone, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return model.Business{}, mapErr(err, "business")
	}
	return b, nil
}

func (p *Postgres) UpdateBusiness(ctx context.Context, b model.Business) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE businesses
		SET name = $2, phone = NULLIF($3, ''), timezone = $4, updated_at = now()
		WHERE id = $1
	`, b.ID, b.Name, b.Phone, b.Timezone)
	if err != nil {
		return mapErr(err, "business")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("business")
	}
	return nil
}

func (p *Postgres) DeleteBusiness(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM businesses WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "business")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("business")
	}
	return nil
}

func (p *Postgres) SetBusinessHours(ctx context.Context, businessID string, h model.OpeningHours) error {
	if err := h.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO business_hours (business_id, day_of_week, open_minute, close_minute)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id, day_of_week)
		DO UPDATE SET open_minute = EXCLUDED.open_minute, close_minute = EXCLUDED.close_minute
	`, businessID, h.Day, h.OpenMinute, h.CloseMinute)
	return mapErr(err, "business")
}

func (p *Postgres) DeleteBusinessHours(ctx context.Context, businessID string, day int) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM business_hours WHERE business_id = $1 AND day_of_week = $2`, businessID, day)
	return mapErr(err, "business")
}

func (p *Postgres) GetBusinessHours(ctx context.Context, businessID string, day int) (model.OpeningHours, bool, error) {
	return getHours(ctx, p.pool, `
		SELECT day_of_week, open_minute, close_minute
		FROM business_hours
		WHERE business_id = $1 AND day_of_week = $2
	`, businessID, day)
}

func (p *Postgres) ListBusinessHours(ctx context.Context, businessID string) ([]model.OpeningHours, error) {
	return listHours(ctx, p.pool, `
		SELECT day_of_week, open_minute, close_minute
		FROM business_hours
		WHERE business_id = $1
		ORDER BY day_of_week
	`, businessID)
}

func (p *Postgres) CreateResource(ctx context.Context, r *model.Resource) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO resources (business_id, name)
		VALUES ($1, $2)
		RETURNING id::text, created_at
	`, r.BusinessID, r.Name).Scan(&r.ID, &r.CreatedAt)
	return mapErr(err, "business")
}

func (p *Postgres) GetResource(ctx context.Context, businessID, id string) (model.Resource, error) {
	var r model.Resource
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, created_at
		FROM resources
		WHERE id = $1 AND business_id = $2
	`, id, businessID).Scan(&r.ID, &r.BusinessID, &r.Name, &r.CreatedAt)
	if err != nil {
		return model.Resource{}, mapErr(err, "resource")
	}
	return r, nil
}

func (p *Postgres) ListResources(ctx context.Context, businessID string) ([]model.Resource, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, created_at
		FROM resources
		WHERE business_id = $1
		ORDER BY created_at
	`, businessID)
	if err != nil {
		return nil, mapErr(err, "business")
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		var r model.Resource
		if err := rows.Scan(&r.ID, &r.BusinessID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SetResourceHours(ctx context.Context, resourceID string, h model.OpeningHours) error {
	if err := h.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO resource_hours (resource_id, day_of_week, open_minute, close_minute)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_id, day_of_week)
		DO UPDATE SET open_minute = EXCLUDED.open_minute, close_minute = EXCLUDED.close_minute
	`, resourceID, h.Day, h.OpenMinute, h.CloseMinute)
	return mapErr(err, "resource")
}

func (p *Postgres) DeleteResourceHours(ctx context.Context, resourceID string, day int) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM resource_hours WHERE resource_id = $1 AND day_of_week = $2`, resourceID, day)
	return mapErr(err, "resource")
}

func (p *Postgres) GetResourceHours(ctx context.Context, resourceID string, day int) (model.OpeningHours, bool, error) {
	return getHours(ctx, p.pool, `
		SELECT day_of_week, open_minute, close_minute
		FROM resource_hours
		WHERE resource_id = $1 AND day_of_week = $2
	`, resourceID, day)
}

func (p *Postgres) ListResourceHours(ctx context.Context, resourceID string) ([]model.OpeningHours, error) {
	return listHours(ctx, p.pool, `
		SELECT day_of_week, open_minute, close_minute
		FROM resource_hours
		WHERE resource_id = $1
		ORDER BY day_of_week
	`, resourceID)
}

func (p *Postgres) CreateService(ctx context.Context, s *model.Service) error {
	if s.DurationMinutes <= 0 {
		return apperr.Validation("duration_minutes must be positive")
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO services (business_id, name, duration_minutes, price_cents, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text, created_at
	`, s.BusinessID, s.Name, s.DurationMinutes, s.PriceCents, s.Description).Scan(&s.ID, &s.CreatedAt)
	return mapErr(err, "business")
}

func (p *Postgres) GetService(ctx context.Context, businessID, id string) (model.Service, error) {
	var s model.Service
	err := p.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, description, created_at
		FROM services
		WHERE id = $1 AND business_id = $2
	`, id, businessID).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Description, &s.CreatedAt)
	if err != nil {
		return model.Service{}, mapErr(err, "service")
	}
	return s, nil
}

func (p *Postgres) ListServices(ctx context.Context, businessID string) ([]model.Service, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, description, created_at
		FROM services
		WHERE business_id = $1
		ORDER BY created_at
	`, businessID)
	if err != nil {
		return nil, mapErr(err, "business")
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertCalendarCredential(ctx context.Context, c *model.CalendarCredential) error {
	access, err := p.sealer.Seal(c.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := p.sealer.Seal(c.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	var expiry *time.Time
	if !c.Expiry.IsZero() {
		expiry = &c.Expiry
	}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO calendar_credentials
			(business_id, resource_id, provider, calendar_id, access_token, refresh_token, expiry)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7)
		ON CONFLICT (business_id, provider, (COALESCE(resource_id::text, '')))
		DO UPDATE SET calendar_id = EXCLUDED.calendar_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry = EXCLUDED.expiry,
			updated_at = now()
		RETURNING id::text, updated_at
	`, c.BusinessID, c.ResourceID, string(c.Provider), c.CalendarID, access, refresh, expiry).Scan(&c.ID, &c.UpdatedAt)
	return mapErr(err, "business")
}

func (p *Postgres) ListCalendarCredentials(ctx context.Context, businessID, resourceID string) ([]model.CalendarCredential, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, business_id::text, COALESCE(resource_id::text, ''), provider, calendar_id,
			access_token, refresh_token, expiry, updated_at
		FROM calendar_credentials
		WHERE business_id = $1
			AND (resource_id IS NULL OR resource_id = NULLIF($2, '')::uuid)
		ORDER BY id
	`, businessID, resourceID)
	if err != nil {
		return nil, mapErr(err, "business")
	}
	defer rows.Close()

	var out []model.CalendarCredential
	for rows.Next() {
		var (
			c       model.CalendarCredential
			sealedA string
			sealedR string
			expiry  *time.Time
		)
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.ResourceID, &c.Provider, &c.CalendarID,
			&sealedA, &sealedR, &expiry, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if c.AccessToken, err = p.sealer.Open(sealedA); err != nil {
			return nil, fmt.Errorf("open access token of credential %s: %w", c.ID, err)
		}
		if c.RefreshToken, err = p.sealer.Open(sealedR); err != nil {
			return nil, fmt.Errorf("open refresh token of credential %s: %w", c.ID, err)
		}
		if expiry != nil {
			c.Expiry = *expiry
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteCalendarCredential(ctx context.Context, businessID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM calendar_credentials WHERE id = $1 AND business_id = $2`, id, businessID)
	if err != nil {
		return mapErr(err, "calendar credential")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("calendar credential")
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getHours(ctx context.Context, q querier, sql string, args ...any) (model.OpeningHours, bool, error) {
	var h model.OpeningHours
	err := q.QueryRow(ctx, sql, args...).Scan(&h.Day, &h.OpenMinute, &h.CloseMinute)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.OpeningHours{}, false, nil
	}
	if err != nil {
		return model.OpeningHours{}, false, mapErr(err, "hours")
	}
	return h, true, nil
}

func listHours(ctx context.Context, q querier, sql string, args ...any) ([]model.OpeningHours, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, "hours")
	}
	defer rows.Close()

	var out []model.OpeningHours
	for rows.Next() {
		var h model.OpeningHours
		if err := rows.Scan(&h.Day, &h.OpenMinute, &h.CloseMinute); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// mapErr translates driver errors into the apperr taxonomy. entity names the
// row the statement was about, or its parent for foreign key failures.
func mapErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01":
			return apperr.Conflict("time slot overlaps an existing appointment")
		case "23505":
			return apperr.Conflict(entity + " already exists")
		case "23503", "22P02":
			return apperr.NotFound(entity)
		case "23514":
			return apperr.Validation("%s", pgErr.Message)
		}
	}
	return err
}

func (p *Postgres) AddCallerNote(ctx context.Context, n *model.CallerNote) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO caller_notes (business_id, customer_name, customer_phone, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, created_at
	`, n.BusinessID, n.CustomerName, n.CustomerPhone, n.Notes).Scan(&n.ID, &n.CreatedAt)
	return mapErr(err, "business")
}

func (p *Postgres) ListCallerNotes(ctx context.Context, businessID, phone string, limit int) ([]model.CallerNote, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, business_id::text, customer_name, customer_phone, notes, created_at
		FROM caller_notes
		WHERE business_id = $1 AND ($2 = '' OR customer_phone = $2)
		ORDER BY created_at DESC, id
		LIMIT $3
	`, businessID, phone, limit)
	if err != nil {
		return nil, mapErr(err, "business")
	}
	defer rows.Close()

	var out []model.CallerNote
	for rows.Next() {
		var n model.CallerNote
		if err := rows.Scan(&n.ID, &n.BusinessID, &n.CustomerName, &n.CustomerPhone, &n.Notes, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
