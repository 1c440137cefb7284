package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
)

type idemKey struct{ business, key string }

type memAppointment struct {
	model.Appointment
	seq uint64
}

// Memory is an in-process Store. Writes to appointments happen only inside
// InBusinessTx, which holds a per-business mutex for its whole duration.
type Memory struct {
	mu            sync.RWMutex
	seq           uint64
	businesses    map[string]model.Business
	hours         map[string]map[int]model.OpeningHours
	resources     map[string]model.Resource
	resourceHours map[string]map[int]model.OpeningHours
	services      map[string]model.Service
	appointments  map[string]memAppointment
	credentials   map[string]model.CalendarCredential
	notes         []model.CallerNote
	idempotency   map[idemKey]string
	events        []outbox.Event

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		businesses:    map[string]model.Business{},
		hours:         map[string]map[int]model.OpeningHours{},
		resources:     map[string]model.Resource{},
		resourceHours: map[string]map[int]model.OpeningHours{},
		services:      map[string]model.Service{},
		appointments:  map[string]memAppointment{},
		credentials:   map[string]model.CalendarCredential{},
		idempotency:   map[idemKey]string{},
		locks:         map[string]*sync.Mutex{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Events returns a copy of every committed outbox event.
func (m *Memory) Events() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]outbox.Event(nil), m.events...)
}

func (m *Memory) CreateBusiness(_ context.Context, b *model.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Phone != "" {
		for _, existing := range m.businesses {
			if existing.Phone == b.Phone {
				return apperr.Conflict("phone number already registered")
			}
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := m.now()
	b.CreatedAt, b.UpdatedAt = now, now
	m.businesses[b.ID] = *b
	return nil
}

func (m *Memory) GetBusiness(_ context.Context, id string) (model.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	if !ok {
		return model.Business{}, apperr.NotFound("business")
	}
	return b, nil
}

func (m *Memory) FindBusinessByPhone(_ context.Context, phone string) (model.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.businesses {
		if phone != "" && b.Phone == phone {
			return b, nil
		}
	}
	return model.Business{}, apperr.NotFound("business")
}

func (m *Memory) UpdateBusiness(_ context.Context, b model.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.businesses[b.ID]
	if !ok {
		return apperr.NotFound("business")
	}
	if b.Phone != "" {
		for id, other := range m.businesses {
			if id != b.ID && other.Phone == b.Phone {
				return apperr.Conflict("phone number already registered")
			}
		}
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = m.now()
	m.businesses[b.ID] = b
	return nil
}

func (m *Memory) DeleteBusiness(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[id]; !ok {
		return apperr.NotFound("business")
	}
	delete(m.businesses, id)
	delete(m.hours, id)
	for rid, r := range m.resources {
		if r.BusinessID == id {
			delete(m.resources, rid)
			delete(m.resourceHours, rid)
		}
	}
	for sid, s := range m.services {
		if s.BusinessID == id {
			delete(m.services, sid)
		}
	}
	for aid, a := range m.appointments {
		if a.BusinessID == id {
			delete(m.appointments, aid)
		}
	}
	for cid, c := range m.credentials {
		if c.BusinessID == id {
			delete(m.credentials, cid)
		}
	}
	for k := range m.idempotency {
		if k.business == id {
			delete(m.idempotency, k)
		}
	}
	kept := m.notes[:0]
	for _, n := range m.notes {
		if n.BusinessID != id {
			kept = append(kept, n)
		}
	}
	m.notes = kept
	return nil
}

func (m *Memory) SetBusinessHours(_ context.Context, businessID string, h model.OpeningHours) error {
	if err := h.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[businessID]; !ok {
		return apperr.NotFound("business")
	}
	if m.hours[businessID] == nil {
		m.hours[businessID] = map[int]model.OpeningHours{}
	}
	m.hours[businessID][h.Day] = h
	return nil
}

func (m *Memory) DeleteBusinessHours(_ context.Context, businessID string, day int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hours[businessID], day)
	return nil
}

func (m *Memory) GetBusinessHours(_ context.Context, businessID string, day int) (model.OpeningHours, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hours[businessID][day]
	return h, ok, nil
}

func (m *Memory) ListBusinessHours(_ context.Context, businessID string) ([]model.OpeningHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedHours(m.hours[businessID]), nil
}

func (m *Memory) CreateResource(_ context.Context, r *model.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[r.BusinessID]; !ok {
		return apperr.NotFound("business")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = m.now()
	m.resources[r.ID] = *r
	return nil
}

func (m *Memory) GetResource(_ context.Context, businessID, id string) (model.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok || r.BusinessID != businessID {
		return model.Resource{}, apperr.NotFound("resource")
	}
	return r, nil
}

func (m *Memory) ListResources(_ context.Context, businessID string) ([]model.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Resource
	for _, r := range m.resources {
		if r.BusinessID == businessID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetResourceHours(_ context.Context, resourceID string, h model.OpeningHours) error {
	if err := h.Validate(); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[resourceID]; !ok {
		return apperr.NotFound("resource")
	}
	if m.resourceHours[resourceID] == nil {
		m.resourceHours[resourceID] = map[int]model.OpeningHours{}
	}
	m.resourceHours[resourceID][h.Day] = h
	return nil
}

func (m *Memory) DeleteResourceHours(_ context.Context, resourceID string, day int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resourceHours[resourceID], day)
	return nil
}

func (m *Memory) GetResourceHours(_ context.Context, resourceID string, day int) (model.OpeningHours, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.resourceHours[resourceID][day]
	return h, ok, nil
}

func (m *Memory) ListResourceHours(_ context.Context, resourceID string) ([]model.OpeningHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedHours(m.resourceHours[resourceID]), nil
}

func (m *Memory) CreateService(_ context.Context, s *model.Service) error {
	if s.DurationMinutes <= 0 {
		return apperr.Validation("duration_minutes must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[s.BusinessID]; !ok {
		return apperr.NotFound("business")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = m.now()
	m.services[s.ID] = *s
	return nil
}

func (m *Memory) GetService(_ context.Context, businessID, id string) (model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok || s.BusinessID != businessID {
		return model.Service{}, apperr.NotFound("service")
	}
	return s, nil
}

func (m *Memory) ListServices(_ context.Context, businessID string) ([]model.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Service
	for _, s := range m.services {
		if s.BusinessID == businessID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListScheduled(_ context.Context, businessID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.BusinessID == businessID && a.Status == model.StatusScheduled &&
			timeslot.Overlaps(a.StartTime, a.EndTime, from, to) {
			out = append(out, a.Appointment)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *Memory) ListAppointments(_ context.Context, businessID string, f model.AppointmentFilter) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.BusinessID != businessID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && a.EndTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.StartTime.Before(f.To) {
			continue
		}
		out = append(out, a.Appointment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) GetAppointment(_ context.Context, businessID, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, apperr.NotFound("appointment")
	}
	return a.Appointment, nil
}

func (m *Memory) FindScheduledByPhone(_ context.Context, businessID, phone, name string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := latestScheduledByPhone(m.appointments, nil, businessID, phone, name)
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment")
	}
	return a.Appointment, nil
}

func (m *Memory) ListEndedScheduled(_ context.Context, t time.Time, limit int) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.Status == model.StatusScheduled && !a.EndTime.After(t) {
			out = append(out, a.Appointment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertCalendarCredential(_ context.Context, c *model.CalendarCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[c.BusinessID]; !ok {
		return apperr.NotFound("business")
	}
	for id, existing := range m.credentials {
		if existing.BusinessID == c.BusinessID && existing.Provider == c.Provider && existing.ResourceID == c.ResourceID {
			c.ID = id
			break
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.UpdatedAt = m.now()
	m.credentials[c.ID] = *c
	return nil
}

func (m *Memory) ListCalendarCredentials(_ context.Context, businessID, resourceID string) ([]model.CalendarCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.CalendarCredential
	for _, c := range m.credentials {
		if c.BusinessID != businessID {
			continue
		}
		if c.ResourceID == "" || (resourceID != "" && c.ResourceID == resourceID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteCalendarCredential(_ context.Context, businessID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok || c.BusinessID != businessID {
		return apperr.NotFound("calendar credential")
	}
	delete(m.credentials, id)
	return nil
}

func (m *Memory) businessLock(businessID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[businessID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[businessID] = l
	}
	return l
}

func (m *Memory) InBusinessTx(ctx context.Context, businessID string, fn func(Tx) error) error {
	lock := m.businessLock(businessID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{m: m, staged: map[string]memAppointment{}, keys: map[string]string{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[businessID]; !ok && len(tx.staged)+len(tx.keys) > 0 {
		return apperr.NotFound("business")
	}
	for id, a := range tx.staged {
		m.appointments[id] = a
	}
	for key, apptID := range tx.keys {
		m.idempotency[idemKey{businessID, key}] = apptID
	}
	m.events = append(m.events, tx.events...)
	return nil
}

type memoryTx struct {
	m      *Memory
	staged map[string]memAppointment
	keys   map[string]string
	events []outbox.Event
}

// view returns the appointment as this transaction sees it.
func (tx *memoryTx) view(id string) (memAppointment, bool) {
	if a, ok := tx.staged[id]; ok {
		return a, true
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	a, ok := tx.m.appointments[id]
	return a, ok
}

func (tx *memoryTx) LockAppointment(_ context.Context, businessID, id string) (model.Appointment, error) {
	a, ok := tx.view(id)
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, apperr.NotFound("appointment")
	}
	return a.Appointment, nil
}

func (tx *memoryTx) LockScheduledByPhone(_ context.Context, businessID, phone string) (model.Appointment, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	a, ok := latestScheduledByPhone(tx.m.appointments, tx.staged, businessID, phone, "")
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment")
	}
	return a.Appointment, nil
}

func (tx *memoryTx) ListOverlapping(_ context.Context, businessID string, start, end time.Time, excludeID string) ([]model.Appointment, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	var out []model.Appointment
	visit := func(a memAppointment) {
		if a.ID == excludeID || a.BusinessID != businessID || a.Status != model.StatusScheduled {
			return
		}
		if timeslot.Overlaps(a.StartTime, a.EndTime, start, end) {
			out = append(out, a.Appointment)
		}
	}
	for id, a := range tx.m.appointments {
		if _, shadowed := tx.staged[id]; !shadowed {
			visit(a)
		}
	}
	for _, a := range tx.staged {
		visit(a)
	}
	sortByStart(out)
	return out, nil
}

func (tx *memoryTx) InsertAppointment(_ context.Context, a *model.Appointment) error {
	if !a.EndTime.After(a.StartTime) {
		return apperr.Validation("start_time must be before end_time")
	}
	tx.m.mu.Lock()
	tx.m.seq++
	seq := tx.m.seq
	_, known := tx.m.businesses[a.BusinessID]
	tx.m.mu.Unlock()
	if !known {
		return apperr.NotFound("business")
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.StatusScheduled
	}
	now := tx.m.now()
	a.CreatedAt, a.UpdatedAt = now, now
	tx.staged[a.ID] = memAppointment{Appointment: *a, seq: seq}
	return nil
}

func (tx *memoryTx) CancelAppointment(_ context.Context, businessID, id, reason string, at time.Time) (model.Appointment, error) {
	a, ok := tx.view(id)
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, apperr.NotFound("appointment")
	}
	a.Status = model.StatusCancelled
	a.CancelledAt = &at
	a.CancelReason = reason
	a.UpdatedAt = at
	tx.staged[id] = a
	return a.Appointment, nil
}

func (tx *memoryTx) CompleteAppointment(_ context.Context, businessID, id string, at time.Time) (model.Appointment, error) {
	a, ok := tx.view(id)
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, apperr.NotFound("appointment")
	}
	a.Status = model.StatusCompleted
	a.CompletedAt = &at
	a.UpdatedAt = at
	tx.staged[id] = a
	return a.Appointment, nil
}

func (tx *memoryTx) AddEvent(_ context.Context, evt outbox.Event) error {
	tx.events = append(tx.events, evt)
	return nil
}

func (tx *memoryTx) IdempotentAppointment(_ context.Context, businessID, key string) (string, bool, error) {
	if id, ok := tx.keys[key]; ok {
		return id, true, nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	id, ok := tx.m.idempotency[idemKey{businessID, key}]
	return id, ok, nil
}

func (tx *memoryTx) RememberIdempotencyKey(_ context.Context, _, key, appointmentID string) error {
	tx.keys[key] = appointmentID
	return nil
}

func (m *Memory) AddCallerNote(_ context.Context, n *model.CallerNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[n.BusinessID]; !ok {
		return apperr.NotFound("business")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = m.now()
	m.notes = append(m.notes, *n)
	return nil
}

func (m *Memory) ListCallerNotes(_ context.Context, businessID, phone string, limit int) ([]model.CallerNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.CallerNote
	for i := len(m.notes) - 1; i >= 0; i-- {
		n := m.notes[i]
		if n.BusinessID != businessID || (phone != "" && n.CustomerPhone != phone) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func latestScheduledByPhone(committed, staged map[string]memAppointment, businessID, phone, name string) (memAppointment, bool) {
	var best memAppointment
	found := false
	consider := func(a memAppointment) {
		if a.BusinessID != businessID || a.Status != model.StatusScheduled || a.CustomerPhone != phone {
			return
		}
		if name != "" && !strings.EqualFold(strings.TrimSpace(a.CustomerName), strings.TrimSpace(name)) {
			return
		}
		if !found || a.seq > best.seq {
			best, found = a, true
		}
	}
	for id, a := range committed {
		if _, shadowed := staged[id]; !shadowed {
			consider(a)
		}
	}
	for _, a := range staged {
		consider(a)
	}
	return best, found
}

func sortedHours(byDay map[int]model.OpeningHours) []model.OpeningHours {
	out := make([]model.OpeningHours, 0, len(byDay))
	for _, h := range byDay {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartTime.Before(appts[j].StartTime) })
}
