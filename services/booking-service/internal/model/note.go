package model

import "time"

// CallerNote is free text a voice agent or staff member left about a caller.
type CallerNote struct {
	ID            string
	BusinessID    string
	CustomerName  string
	CustomerPhone string
	Notes         string
	CreatedAt     time.Time
}
