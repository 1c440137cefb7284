package model

import (
	"fmt"
	"strings"
	"time"
)

type Business struct {
	ID        string
	Name      string
	Phone     string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the business IANA zone. An empty zone means UTC.
func (b Business) Location() (*time.Location, error) {
	tz := strings.TrimSpace(b.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("business %s timezone %q: %w", b.ID, tz, err)
	}
	return loc, nil
}

type Resource struct {
	ID         string
	BusinessID string
	Name       string
	CreatedAt  time.Time
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	PriceCents      *int64
	Description     string
	CreatedAt       time.Time
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
