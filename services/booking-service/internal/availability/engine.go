// Package availability answers "which start times are free on this day".
// Answers are advisory: booking re-checks under the business lock.
package availability

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DateLayout = "2006-01-02"

type Catalog interface {
	GetBusiness(ctx context.Context, id string) (model.Business, error)
	GetService(ctx context.Context, businessID, id string) (model.Service, error)
}

type HoursResolver interface {
	Window(ctx context.Context, businessID, resourceID string, day time.Time) (timeslot.Interval, bool, error)
}

type BusyAggregator interface {
	Intervals(ctx context.Context, businessID, resourceID string, window timeslot.Interval, buffer time.Duration) ([]timeslot.Interval, error)
}

type Config struct {
	DefaultStep   time.Duration
	DefaultBuffer time.Duration
	MaxBuffer     time.Duration
	// HidePast drops slots that start before now.
	HidePast bool
	Now      func() time.Time
}

func DefaultConfig() Config {
	return Config{
		DefaultStep: 15 * time.Minute,
		MaxBuffer:   60 * time.Minute,
		HidePast:    true,
		Now:         time.Now,
	}
}

type Query struct {
	BusinessID string
	ServiceID  string
	ResourceID string
	Date       string
	// Step and Buffer fall back to the configured defaults when nil.
	Step   *time.Duration
	Buffer *time.Duration
}

type Result struct {
	Date      string
	ServiceID string
	Location  *time.Location
	Slots     []timeslot.Interval
}

type Engine struct {
	catalog Catalog
	hours   HoursResolver
	busy    BusyAggregator
	cfg     Config
}

func NewEngine(catalog Catalog, hours HoursResolver, busy BusyAggregator, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.DefaultStep <= 0 {
		cfg.DefaultStep = def.DefaultStep
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = def.MaxBuffer
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Engine{catalog: catalog, hours: hours, busy: busy, cfg: cfg}
}

func (e *Engine) Slots(ctx context.Context, q Query) (res Result, err error) {
	ctx, span := otel.Tracer("availability").Start(ctx, "availability.slots",
		trace.WithAttributes(
			attribute.String("business.id", q.BusinessID),
			attribute.String("service.id", q.ServiceID),
			attribute.String("date", q.Date),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("slots", len(res.Slots)))
		}
		span.End()
	}()

	if _, err := time.Parse(DateLayout, q.Date); err != nil {
		return Result{}, apperr.Validation("date must be YYYY-MM-DD, got %q", q.Date)
	}
	step, buffer, err := e.resolveSpacing(q)
	if err != nil {
		return Result{}, err
	}

	business, err := e.catalog.GetBusiness(ctx, q.BusinessID)
	if err != nil {
		return Result{}, err
	}
	loc, err := business.Location()
	if err != nil {
		return Result{}, err
	}
	day, err := time.ParseInLocation(DateLayout, q.Date, loc)
	if err != nil {
		return Result{}, apperr.Validation("date must be YYYY-MM-DD, got %q", q.Date)
	}
	res = Result{Date: q.Date, ServiceID: q.ServiceID, Location: loc, Slots: []timeslot.Interval{}}

	window, open, err := e.hours.Window(ctx, q.BusinessID, q.ResourceID, day)
	if err != nil {
		return Result{}, err
	}
	if !open {
		return res, nil
	}

	service, err := e.catalog.GetService(ctx, q.BusinessID, q.ServiceID)
	if err != nil {
		return Result{}, err
	}

	busy, err := e.busy.Intervals(ctx, q.BusinessID, q.ResourceID, window, buffer)
	if err != nil {
		return Result{}, err
	}

	var notBefore time.Time
	if e.cfg.HidePast {
		notBefore = e.cfg.Now().In(loc)
	}
	if slots := timeslot.Free(window, service.Duration(), step, busy, notBefore); slots != nil {
		res.Slots = slots
	}
	return res, nil
}

// maxStep keeps the candidate list for one day bounded.
const maxStep = 24 * time.Hour

func (e *Engine) resolveSpacing(q Query) (time.Duration, time.Duration, error) {
	step := e.cfg.DefaultStep
	if q.Step != nil {
		if *q.Step < time.Minute || *q.Step > maxStep {
			return 0, 0, apperr.Validation("slot step must be between 1 and %d minutes", int(maxStep/time.Minute))
		}
		step = *q.Step
	}
	buffer := e.cfg.DefaultBuffer
	if q.Buffer != nil {
		buffer = *q.Buffer
	}
	if buffer < 0 || buffer > e.cfg.MaxBuffer {
		return 0, 0, apperr.Validation("buffer must be between 0 and %d minutes", int(e.cfg.MaxBuffer/time.Minute))
	}
	return step, buffer, nil
}
