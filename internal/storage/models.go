package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RecentSite is a page the user dwelled on long enough to count as a real
// visit. Repeat visits to the same URL fold into one row.
type RecentSite struct {
	URL            string
	Title          string
	Domain         string
	Category       string
	DurationMs     int64
	VisitCount     int
	FirstVisitedAt time.Time
	LastVisitedAt  time.Time
}

// SuggestionBatch is one dispatched set of suggested tasks, kept for the
// history surface.
type SuggestionBatch struct {
	ID          string
	CreatedAt   time.Time
	TriggerURL  string
	ContextText string
	TaskCount   int
	TasksJSON   string // JSON array stored as text
}
