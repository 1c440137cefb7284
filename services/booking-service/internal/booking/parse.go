package booking

import (
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/apperr"
)

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseStart reads an ISO-8601 timestamp. Values carrying an offset keep their
// instant; values without one are wall-clock times in loc.
func ParseStart(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.Validation("start_time is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("start_time %q is not an ISO-8601 timestamp", raw)
}
