package calendars

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/timeslot"
)

const GoogleBaseURL = "https://www.googleapis.com/calendar/v3"

type Google struct {
	BaseURL string
	Client  *http.Client
}

func NewGoogle(client *http.Client) *Google {
	if client == nil {
		client = http.DefaultClient
	}
	return &Google{BaseURL: GoogleBaseURL, Client: client}
}

type googleTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleEvent struct {
	Status       string     `json:"status,omitempty"`
	Transparency string     `json:"transparency,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Description  string     `json:"description,omitempty"`
	Start        googleTime `json:"start"`
	End          googleTime `json:"end"`
}

type googleEventList struct {
	Items         []googleEvent `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

// Busy lists expanded single events in [from, to). Transparent, cancelled and
// all-day events do not block time.
func (g *Google) Busy(ctx context.Context, token, calendarID string, from, to time.Time) ([]timeslot.Interval, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	var (
		busy      []timeslot.Interval
		pageToken string
	)
	for {
		q := url.Values{}
		q.Set("timeMin", from.UTC().Format(time.RFC3339))
		q.Set("timeMax", to.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("orderBy", "startTime")
		q.Set("maxResults", "250")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", strings.TrimRight(g.BaseURL, "/"), url.PathEscape(calendarID), q.Encode())

		var page googleEventList
		if err := doJSON(ctx, g.Client, http.MethodGet, endpoint, token, nil, &page); err != nil {
			return nil, err
		}
		for _, ev := range page.Items {
			if ev.Transparency == "transparent" || ev.Status == "cancelled" {
				continue
			}
			if ev.Start.DateTime == "" || ev.End.DateTime == "" {
				continue
			}
			start, err := time.Parse(time.RFC3339, ev.Start.DateTime)
			if err != nil {
				return nil, fmt.Errorf("google event start %q: %w", ev.Start.DateTime, err)
			}
			end, err := time.Parse(time.RFC3339, ev.End.DateTime)
			if err != nil {
				return nil, fmt.Errorf("google event end %q: %w", ev.End.DateTime, err)
			}
			busy = append(busy, timeslot.Interval{Start: start, End: end})
		}
		if page.NextPageToken == "" {
			return busy, nil
		}
		pageToken = page.NextPageToken
	}
}

func (g *Google) CreateEvent(ctx context.Context, token, calendarID string, ev Event) error {
	if calendarID == "" {
		calendarID = "primary"
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events", strings.TrimRight(g.BaseURL, "/"), url.PathEscape(calendarID))
	body := googleEvent{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       googleTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Start.Location().String()},
		End:         googleTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.End.Location().String()},
	}
	return doJSON(ctx, g.Client, http.MethodPost, endpoint, token, body, nil)
}
