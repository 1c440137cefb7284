package model

import "time"

type CalendarProvider string

const (
	ProviderGoogle  CalendarProvider = "google"
	ProviderOutlook CalendarProvider = "outlook"
)

func (p CalendarProvider) Valid() bool {
	return p == ProviderGoogle || p == ProviderOutlook
}

// CalendarCredential links a business (or one of its resources when ResourceID
// is set) to an external calendar. Tokens are plaintext in memory and sealed
// at rest by the store.
type CalendarCredential struct {
	ID           string
	BusinessID   string
	ResourceID   string
	Provider     CalendarProvider
	CalendarID   string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	UpdatedAt    time.Time
}
