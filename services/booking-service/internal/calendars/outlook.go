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

const GraphBaseURL = "https://graph.microsoft.com/v1.0"

// Graph dateTime values carry no offset; we always ask for UTC.
const graphLayout = "2006-01-02T15:04:05.9999999"

type Outlook struct {
	BaseURL string
	Client  *http.Client
}

func NewOutlook(client *http.Client) *Outlook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Outlook{BaseURL: GraphBaseURL, Client: client}
}

type graphTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphScheduleRequest struct {
	Schedules                []string  `json:"schedules"`
	StartTime                graphTime `json:"startTime"`
	EndTime                  graphTime `json:"endTime"`
	AvailabilityViewInterval int       `json:"availabilityViewInterval"`
}

type graphScheduleResponse struct {
	Value []struct {
		ScheduleID    string `json:"scheduleId"`
		ScheduleItems []struct {
			Status string    `json:"status"`
			Start  graphTime `json:"start"`
			End    graphTime `json:"end"`
		} `json:"scheduleItems"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"value"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphEvent struct {
	Subject string     `json:"subject"`
	Body    *graphBody `json:"body,omitempty"`
	Start   graphTime  `json:"start"`
	End     graphTime  `json:"end"`
}

// Busy calls getSchedule for the calendar owner. Items marked free are ignored.
func (o *Outlook) Busy(ctx context.Context, token, calendarID string, from, to time.Time) ([]timeslot.Interval, error) {
	schedule := calendarID
	if schedule == "" {
		schedule = "me"
	}
	req := graphScheduleRequest{
		Schedules:                []string{schedule},
		StartTime:                graphTime{DateTime: from.UTC().Format(graphLayout), TimeZone: "UTC"},
		EndTime:                  graphTime{DateTime: to.UTC().Format(graphLayout), TimeZone: "UTC"},
		AvailabilityViewInterval: 15,
	}
	var resp graphScheduleResponse
	endpoint := strings.TrimRight(o.BaseURL, "/") + "/me/calendar/getSchedule"
	if err := doJSON(ctx, o.Client, http.MethodPost, endpoint, token, req, &resp); err != nil {
		return nil, err
	}

	var busy []timeslot.Interval
	for _, s := range resp.Value {
		if s.Error != nil {
			return nil, fmt.Errorf("graph schedule %s: %s", s.ScheduleID, s.Error.Message)
		}
		for _, item := range s.ScheduleItems {
			if strings.EqualFold(item.Status, "free") {
				continue
			}
			start, err := parseGraphTime(item.Start)
			if err != nil {
				return nil, err
			}
			end, err := parseGraphTime(item.End)
			if err != nil {
				return nil, err
			}
			busy = append(busy, timeslot.Interval{Start: start, End: end})
		}
	}
	return busy, nil
}

func (o *Outlook) CreateEvent(ctx context.Context, token, calendarID string, ev Event) error {
	endpoint := strings.TrimRight(o.BaseURL, "/") + "/me/events"
	if calendarID != "" && calendarID != "me" {
		endpoint = fmt.Sprintf("%s/me/calendars/%s/events", strings.TrimRight(o.BaseURL, "/"), url.PathEscape(calendarID))
	}
	body := graphEvent{
		Subject: ev.Summary,
		Start:   graphTime{DateTime: ev.Start.UTC().Format(graphLayout), TimeZone: "UTC"},
		End:     graphTime{DateTime: ev.End.UTC().Format(graphLayout), TimeZone: "UTC"},
	}
	if ev.Description != "" {
		body.Body = &graphBody{ContentType: "text", Content: ev.Description}
	}
	return doJSON(ctx, o.Client, http.MethodPost, endpoint, token, body, nil)
}

func parseGraphTime(t graphTime) (time.Time, error) {
	loc := time.UTC
	if t.TimeZone != "" && !strings.EqualFold(t.TimeZone, "UTC") {
		l, err := time.LoadLocation(t.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("graph time zone %q: %w", t.TimeZone, err)
		}
		loc = l
	}
	parsed, err := time.ParseInLocation(graphLayout, t.DateTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("graph time %q: %w", t.DateTime, err)
	}
	return parsed, nil
}
