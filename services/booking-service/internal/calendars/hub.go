package calendars

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type CredentialStore interface {
	ListCalendarCredentials(ctx context.Context, businessID, resourceID string) ([]model.CalendarCredential, error)
	UpsertCalendarCredential(ctx context.Context, c *model.CalendarCredential) error
}

type HubConfig struct {
	// FetchTimeout bounds each call to one calendar, token refresh included.
	FetchTimeout time.Duration
	Parallelism  int
	// OAuth holds the refresh configuration per provider. A provider without
	// one can still be used until its access token expires.
	OAuth map[model.CalendarProvider]*oauth2.Config
	// TokenClient is the HTTP client used against token endpoints.
	TokenClient *http.Client
}

// Hub fans calls out to every calendar connected to a business and keeps the
// stored credentials fresh.
type Hub struct {
	store     CredentialStore
	providers map[model.CalendarProvider]Provider
	logger    *slog.Logger
	cfg       HubConfig
	refreshes singleflight.Group
	now       func() time.Time
}

func NewHub(store CredentialStore, providers map[model.CalendarProvider]Provider, logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:     store,
		providers: providers,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Busy collects busy intervals from the business calendars and, when
// resourceID is set, the resource calendars. Intervals from calendars that
// answered are returned even when others failed; the failures are joined into
// the error.
func (h *Hub) Busy(ctx context.Context, businessID, resourceID string, from, to time.Time) ([]timeslot.Interval, error) {
	creds, err := h.store.ListCalendarCredentials(ctx, businessID, resourceID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, nil
	}

	var (
		mu   sync.Mutex
		busy []timeslot.Interval
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(h.cfg.Parallelism)
	for _, cred := range creds {
		g.Go(func() error {
			var got []timeslot.Interval
			err := h.withToken(ctx, cred, func(ctx context.Context, p Provider, token string) error {
				var err error
				got, err = p.Busy(ctx, token, cred.CalendarID, from, to)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s calendar %s: %w", cred.Provider, cred.ID, err))
				return nil
			}
			busy = append(busy, got...)
			return nil
		})
	}
	_ = g.Wait()
	return busy, errors.Join(errs...)
}

// CreateEvent mirrors ev onto every calendar Busy would read.
func (h *Hub) CreateEvent(ctx context.Context, businessID, resourceID string, ev Event) error {
	creds, err := h.store.ListCalendarCredentials(ctx, businessID, resourceID)
	if err != nil {
		return err
	}
	var errs []error
	for _, cred := range creds {
		err := h.withToken(ctx, cred, func(ctx context.Context, p Provider, token string) error {
			return p.CreateEvent(ctx, token, cred.CalendarID, ev)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s calendar %s: %w", cred.Provider, cred.ID, err))
		}
	}
	return errors.Join(errs...)
}

// withToken runs call with a usable access token. An expired token, or one the
// provider rejects, gets one refresh; the second failure is returned.
func (h *Hub) withToken(ctx context.Context, cred model.CalendarCredential, call func(context.Context, Provider, string) error) error {
	p, ok := h.providers[cred.Provider]
	if !ok {
		return fmt.Errorf("unsupported calendar provider %q", cred.Provider)
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
	defer cancel()

	token := cred.AccessToken
	refreshed := false
	if token == "" || h.expired(cred) {
		t, err := h.refresh(ctx, cred)
		if err != nil {
			return err
		}
		token, refreshed = t, true
	}

	err := call(ctx, p, token)
	if errors.Is(err, ErrUnauthorized) && !refreshed {
		t, rerr := h.refresh(ctx, cred)
		if rerr != nil {
			return rerr
		}
		err = call(ctx, p, t)
	}
	if err != nil {
		return apperr.Upstream(string(cred.Provider), err)
	}
	return nil
}

func (h *Hub) expired(cred model.CalendarCredential) bool {
	if cred.Expiry.IsZero() {
		return false
	}
	return !h.now().Add(30 * time.Second).Before(cred.Expiry)
}

// refresh exchanges the refresh token once per credential no matter how many
// callers ask concurrently, and persists the result.
func (h *Hub) refresh(ctx context.Context, cred model.CalendarCredential) (string, error) {
	v, err, _ := h.refreshes.Do(cred.ID, func() (any, error) {
		conf := h.cfg.OAuth[cred.Provider]
		if conf == nil || cred.RefreshToken == "" {
			return "", apperr.Upstream(string(cred.Provider)+" token refresh", errors.New("credential cannot be refreshed"))
		}
		tctx := ctx
		if h.cfg.TokenClient != nil {
			tctx = context.WithValue(ctx, oauth2.HTTPClient, h.cfg.TokenClient)
		}
		tok, err := conf.TokenSource(tctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
		if err != nil {
			return "", apperr.Upstream(string(cred.Provider)+" token refresh", err)
		}

		updated := cred
		updated.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			updated.RefreshToken = tok.RefreshToken
		}
		updated.Expiry = tok.Expiry
		if err := h.store.UpsertCalendarCredential(context.WithoutCancel(ctx), &updated); err != nil {
			h.logger.Warn("persist refreshed calendar credential failed",
				"credential_id", cred.ID, "provider", cred.Provider, "err", err)
		}
		h.logger.Info("calendar credential refreshed", "credential_id", cred.ID, "provider", cred.Provider)
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
