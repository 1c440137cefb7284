package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/storage"
)

// TokenIssuer mints owner tokens for newly registered businesses.
type TokenIssuer struct {
	Secret string
	TTL    time.Duration
}

func (t TokenIssuer) Issue(businessID string) (string, error) {
	return auth.SignHS256(auth.NewClaims("business:"+businessID, businessID, "owner", t.TTL), t.Secret)
}

// CalendarCache is told when a business's set of calendars changes.
type CalendarCache interface {
	Invalidate(ctx context.Context, businessID string) error
}

type BusinessHandler struct {
	store    storage.Store
	tokens   TokenIssuer
	logger   *slog.Logger
	calCache CalendarCache
}

func NewBusinessHandler(store storage.Store, tokens TokenIssuer, logger *slog.Logger) *BusinessHandler {
	if tokens.TTL <= 0 {
		tokens.TTL = 24 * time.Hour
	}
	return &BusinessHandler{store: store, tokens: tokens, logger: logger}
}

// WithCalendarCache sets the busy-time cache to clear when calendars are
// connected or removed.
func (h *BusinessHandler) WithCalendarCache(c CalendarCache) *BusinessHandler {
	h.calCache = c
	return h
}

func (h *BusinessHandler) invalidateCalendars(r *http.Request, businessID string) {
	if h.calCache == nil {
		return
	}
	if err := h.calCache.Invalidate(r.Context(), businessID); err != nil {
		h.logger.WarnContext(r.Context(), "busy cache invalidation failed", "business_id", businessID, "err", err)
	}
}

type businessRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,e164"`
	Timezone    string `json:"timezone" validate:"omitempty,timezone"`
}

type businessJSON struct {
	BusinessID  string `json:"business_id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Timezone    string `json:"timezone"`
	CreatedAt   string `json:"created_at"`
}

func toBusinessJSON(b model.Business) businessJSON {
	return businessJSON{
		BusinessID:  b.ID,
		Name:        b.Name,
		PhoneNumber: b.Phone,
		Timezone:    b.Timezone,
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (r *businessRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.PhoneNumber = strings.TrimSpace(r.PhoneNumber)
	r.Timezone = strings.TrimSpace(r.Timezone)
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
}

// Register creates a business and returns an owner token for it.
func (h *BusinessHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req businessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	req.normalize()

	b := model.Business{Name: req.Name, Phone: req.PhoneNumber, Timezone: req.Timezone}
	if err := h.store.CreateBusiness(r.Context(), &b); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	token, err := h.tokens.Issue(b.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "business registered", "business_id", b.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"business":     toBusinessJSON(b),
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokens.TTL / time.Second),
	})
}

func (h *BusinessHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBusiness(r.Context(), businessIDFromHeader(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBusinessJSON(b))
}

func (h *BusinessHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req businessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	req.normalize()

	b := model.Business{ID: businessIDFromHeader(r), Name: req.Name, Phone: req.PhoneNumber, Timezone: req.Timezone}
	if err := h.store.UpdateBusiness(r.Context(), b); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BusinessHandler) DeleteBusiness(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteBusiness(r.Context(), businessIDFromHeader(r)); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LookupByPhone resolves the business that owns a phone number. It exposes
// only public profile fields.
func (h *BusinessHandler) LookupByPhone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	phone := strings.TrimSpace(r.URL.Query().Get("phone_number"))
	if phone == "" {
		http.Error(w, "missing phone_number", http.StatusBadRequest)
		return
	}
	b, err := h.store.FindBusinessByPhone(r.Context(), phone)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_id": b.ID,
		"name":        b.Name,
		"timezone":    b.Timezone,
	})
}

type hoursRequest struct {
	DayOfWeek *int   `json:"day_of_week" validate:"required,min=0,max=6"`
	OpenTime  string `json:"open_time" validate:"required"`
	CloseTime string `json:"close_time" validate:"required"`
}

func (req hoursRequest) toModel() (model.OpeningHours, error) {
	open, err := model.ParseClock(strings.TrimSpace(req.OpenTime))
	if err != nil {
		return model.OpeningHours{}, apperr.Validation("%s", err.Error())
	}
	closing, err := model.ParseClock(strings.TrimSpace(req.CloseTime))
	if err != nil {
		return model.OpeningHours{}, apperr.Validation("%s", err.Error())
	}
	h := model.OpeningHours{Day: *req.DayOfWeek, OpenMinute: open, CloseMinute: closing}
	if err := h.Validate(); err != nil {
		return model.OpeningHours{}, apperr.Validation("%s", err.Error())
	}
	return h, nil
}

func hoursJSON(hours []model.OpeningHours) []map[string]any {
	out := make([]map[string]any, 0, len(hours))
	for _, h := range hours {
		out = append(out, map[string]any{
			"day_of_week": h.Day,
			"open_time":   model.FormatClock(h.OpenMinute),
			"close_time":  model.FormatClock(h.CloseMinute),
		})
	}
	return out
}

func dayFromQuery(r *http.Request) (int, error) {
	day, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("day_of_week")))
	if err != nil || day < 0 || day > 6 {
		return 0, apperr.Validation("day_of_week must be between 0 (Monday) and 6 (Sunday)")
	}
	return day, nil
}

func (h *BusinessHandler) ListHours(w http.ResponseWriter, r *http.Request) {
	hours, err := h.store.ListBusinessHours(r.Context(), businessIDFromHeader(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hoursJSON(hours)})
}

func (h *BusinessHandler) SetHours(w http.ResponseWriter, r *http.Request) {
	var req hoursRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	hours, err := req.toModel()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.store.SetBusinessHours(r.Context(), businessIDFromHeader(r), hours); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BusinessHandler) DeleteHours(w http.ResponseWriter, r *http.Request) {
	day, err := dayFromQuery(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.store.DeleteBusinessHours(r.Context(), businessIDFromHeader(r), day); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BusinessHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name" validate:"required,max=200"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	res := model.Resource{BusinessID: businessIDFromHeader(r), Name: strings.TrimSpace(req.Name)}
	if err := h.store.CreateResource(r.Context(), &res); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": res.ID})
}

func (h *BusinessHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.store.ListResources(r.Context(), businessIDFromHeader(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	items := make([]map[string]any, 0, len(resources))
	for _, res := range resources {
		items = append(items, map[string]any{"id": res.ID, "name": res.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": items})
}

// ownedResource checks the resource named in the query belongs to the caller.
func (h *BusinessHandler) ownedResource(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.URL.Query().Get("resource_id"))
	if id == "" {
		return "", apperr.Validation("missing resource_id")
	}
	if _, err := h.store.GetResource(r.Context(), businessIDFromHeader(r), id); err != nil {
		return "", err
	}
	return id, nil
}

func (h *BusinessHandler) ListResourceHours(w http.ResponseWriter, r *http.Request) {
	resourceID, err := h.ownedResource(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	hours, err := h.store.ListResourceHours(r.Context(), resourceID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resource_id": resourceID, "hours": hoursJSON(hours)})
}

func (h *BusinessHandler) SetResourceHours(w http.ResponseWriter, r *http.Request) {
	resourceID, err := h.ownedResource(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var req hoursRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	hours, err := req.toModel()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.store.SetResourceHours(r.Context(), resourceID, hours); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BusinessHandler) DeleteResourceHours(w http.ResponseWriter, r *http.Request) {
	resourceID, err := h.ownedResource(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	day, err := dayFromQuery(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.store.DeleteResourceHours(r.Context(), resourceID, day); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BusinessHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name" validate:"required,max=200"`
		DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=720"`
		PriceCents      *int64 `json:"price_cents" validate:"omitempty,min=0"`
		Description     string `json:"description" validate:"max=2000"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	s := model.Service{
		BusinessID:      businessIDFromHeader(r),
		Name:            strings.TrimSpace(req.Name),
		DurationMinutes: req.DurationMinutes,
		PriceCents:      req.PriceCents,
		Description:     strings.TrimSpace(req.Description),
	}
	if err := h.store.CreateService(r.Context(), &s); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": s.ID})
}

func (h *BusinessHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.store.ListServices(r.Context(), businessIDFromHeader(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	items := make([]map[string]any, 0, len(services))
	for _, s := range services {
		item := map[string]any{
			"id":               s.ID,
			"name":             s.Name,
			"duration_minutes": s.DurationMinutes,
			"description":      s.Description,
		}
		if s.PriceCents != nil {
			item["price_cents"] = *s.PriceCents
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": items})
}

type calendarRequest struct {
	Provider     string `json:"provider" validate:"required,oneof=google outlook"`
	ResourceID   string `json:"resource_id"`
	CalendarID   string `json:"calendar_id"`
	AccessToken  string `json:"access_token" validate:"required_without=RefreshToken"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// ConnectCalendar stores the tokens obtained by the client-side OAuth consent.
func (h *BusinessHandler) ConnectCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	businessID := businessIDFromHeader(r)
	cred := model.CalendarCredential{
		BusinessID:   businessID,
		ResourceID:   strings.TrimSpace(req.ResourceID),
		Provider:     model.CalendarProvider(req.Provider),
		CalendarID:   strings.TrimSpace(req.CalendarID),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	if req.ExpiresAt != "" {
		cred.Expiry, _ = time.Parse(time.RFC3339, req.ExpiresAt)
	}
	if cred.ResourceID != "" {
		if _, err := h.store.GetResource(r.Context(), businessID, cred.ResourceID); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	}
	if err := h.store.UpsertCalendarCredential(r.Context(), &cred); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.invalidateCalendars(r, businessID)
	writeJSON(w, http.StatusCreated, map[string]any{"id": cred.ID, "provider": cred.Provider})
}

func (h *BusinessHandler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	creds, err := h.store.ListCalendarCredentials(r.Context(), businessIDFromHeader(r), strings.TrimSpace(r.URL.Query().Get("resource_id")))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	items := make([]map[string]any, 0, len(creds))
	for _, c := range creds {
		item := map[string]any{
			"id":          c.ID,
			"provider":    c.Provider,
			"calendar_id": c.CalendarID,
			"resource_id": c.ResourceID,
		}
		if !c.Expiry.IsZero() {
			item["expires_at"] = c.Expiry.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendars": items})
}

func (h *BusinessHandler) DisconnectCalendar(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	businessID := businessIDFromHeader(r)
	if err := h.store.DeleteCalendarCredential(r.Context(), businessID, id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	h.invalidateCalendars(r, businessID)
	w.WriteHeader(http.StatusNoContent)
}
