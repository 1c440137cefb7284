package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
)

type Routes struct {
	Business *BusinessHandler
	Booking  *BookingHandler
	Voice    *VoiceHandler
}

// Register mounts the API on mux. Routes that act for a business go through
// protect, which must set the business id header. Unauthenticated routes go
// through public.
func (rt Routes) Register(mux *http.ServeMux, protect, public httpx.Middleware) {
	b, bk := rt.Business, rt.Booking

	mux.Handle("/api/v1/businesses/register", public(http.HandlerFunc(b.Register)))
	mux.Handle("/api/v1/businesses/lookup", public(http.HandlerFunc(b.LookupByPhone)))
	mux.Handle("/api/v1/voice/tool-calls", public(http.HandlerFunc(rt.Voice.ToolCalls)))

	mux.Handle("/api/v1/business", protect(ByMethod(map[string]http.HandlerFunc{
		http.MethodGet:    b.GetProfile,
		http.MethodPut:    b.UpdateProfile,
		http.MethodDelete: b.DeleteBusiness,
	})))
	mux.Handle("/api/v1/business/hours", protect(ByMethod(map[string]http.HandlerFunc{
		http.MethodGet:    b.ListHours,
		http.MethodPut:    b.SetHours,
		http.MethodDelete: b.DeleteHours,
	})))
	mux.Handle("/api/v1/resources", protect(ByMethod(map[string]http.HandlerFunc{
		http.MethodGet:  b.ListResources,
		http.MethodPost: b.CreateResource,
	})))
	mux.Handle("/api/v1/resources/hours", protect(ByMethod(map[string]http.HandlerFunc{
		http.MethodGet:    b.ListResourceHours,
		http.MethodPut:    b.SetResourceHours,
		http.MethodDelete: b.DeleteResourceHours,
	})))
	mux.Handle("/api/v1/services", protect(ByMethod(map[string]http.HandlerFunc{
		http.MethodGet:  b.ListServices,
		http.MethodPost: b.CreateService,
	})))
	mux.Handle("/api/v1/calendars", protect(ByMethod(map[string]http.HandlerFunc{
		http.MethodGet:    b.ListCalendars,
		http.MethodPost:   b.ConnectCalendar,
		http.MethodDelete: b.DisconnectCalendar,
	})))
	mux.Handle("/api/v1/caller-notes", protect(ByMethod(map[string]http.HandlerFunc{
		http.MethodGet:  b.ListCallerNotes,
		http.MethodPost: b.SaveCallerNote,
	})))

	mux.Handle("/api/v1/availability", protect(http.HandlerFunc(bk.Slots)))
	mux.Handle("/api/v1/appointments", protect(http.HandlerFunc(bk.List)))
	mux.Handle("/api/v1/appointments/details", protect(http.HandlerFunc(bk.Details)))
	mux.Handle("/api/v1/appointments/book", protect(http.HandlerFunc(bk.Book)))
	mux.Handle("/api/v1/appointments/cancel", protect(http.HandlerFunc(bk.Cancel)))
	mux.Handle("/api/v1/appointments/reschedule", protect(http.HandlerFunc(bk.Reschedule)))
	mux.Handle("/api/v1/appointments/complete", protect(http.HandlerFunc(bk.Complete)))
}
