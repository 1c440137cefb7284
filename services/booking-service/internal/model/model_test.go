package model

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func TestWeekdayStartsMonday(t *testing.T) {
	monday := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	if Weekday(monday) != 0 {
		t.Fatalf("expected Monday = 0, got %d", Weekday(monday))
	}
	if Weekday(monday.AddDate(0, 0, 6)) != 6 {
		t.Fatal("expected Sunday = 6")
	}
}

func TestOpeningHoursValidate(t *testing.T) {
	if err := (OpeningHours{Day: 0, OpenMinute: 540, CloseMinute: 1020}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (OpeningHours{Day: 0, OpenMinute: 600, CloseMinute: 600}).Validate(); err == nil {
		t.Fatal("expected open == close to fail")
	}
	if err := (OpeningHours{Day: 7, OpenMinute: 0, CloseMinute: 60}).Validate(); err == nil {
		t.Fatal("expected day 7 to fail")
	}
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("09:30")
	if err != nil || m != 570 {
		t.Fatalf("ParseClock: %d %v", m, err)
	}
	if _, err := ParseClock("9am"); err == nil {
		t.Fatal("expected error")
	}
	if FormatClock(1020) != "17:00" {
		t.Fatalf("FormatClock: %s", FormatClock(1020))
	}
}

func TestBusinessLocation(t *testing.T) {
	loc, err := Business{Timezone: "America/New_York"}.Location()
	if err != nil || loc.String() != "America/New_York" {
		t.Fatalf("unexpected location %v %v", loc, err)
	}
	if _, err := (Business{Timezone: "Mars/Base"}).Location(); err == nil {
		t.Fatal("expected unknown zone error")
	}
}
