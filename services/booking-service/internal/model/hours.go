package model

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// OpeningHours is one day's open interval, stored as minutes from local midnight.
// Day numbering starts at Monday = 0 and ends at Sunday = 6.
type OpeningHours struct {
	Day         int
	OpenMinute  int
	CloseMinute int
}

// Weekday maps t to the 0 = Monday numbering.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func (h OpeningHours) Validate() error {
	if h.Day < 0 || h.Day > 6 {
		return fmt.Errorf("day_of_week must be between 0 (Monday) and 6 (Sunday), got %d", h.Day)
	}
	if h.OpenMinute < 0 || h.CloseMinute > minutesPerDay || h.OpenMinute >= h.CloseMinute {
		return fmt.Errorf("open time must be before close time within one day")
	}
	return nil
}

// ParseClock turns "HH:MM" into minutes from midnight. "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
