// Package calendar reads and writes the user's calendars over CalDAV
// and answers the assistant's scheduling questions: what is on a given
// day, and when is there room for a meeting.
package calendar

import (
	"context"
	"strings"
	"time"
)

// Event is a single calendar occurrence. Recurring events are expanded
// into one Event per occurrence sharing the same ID.
type Event struct {
	ID          string    `json:"id"`
	Calendar    string    `json:"calendar,omitempty"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	URL         string    `json:"url,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty"`
}

// NewEvent describes an event to create.
type NewEvent struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
	Attendees   []string
}

// Slot is a free interval.
type Slot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
}

// Backend is one calendar account.
type Backend interface {
	// Events returns occurrences overlapping [start, end).
	Events(ctx context.Context, start, end time.Time) ([]Event, error)

	// Create stores a new event in the account's write calendar.
	Create(ctx context.Context, ev NewEvent) (*Event, error)
}

// ParseDateReference resolves "today", "tomorrow", "yesterday",
// "this week", "next week" or an ISO date/datetime relative to now.
// Unrecognized input yields now.
func ParseDateReference(ref string, now time.Time) time.Time {
	switch strings.ToLower(strings.TrimSpace(ref)) {
	case "", "today", "this week":
		return now
	case "tomorrow":
		return now.AddDate(0, 0, 1)
	case "yesterday":
		return now.AddDate(0, 0, -1)
	case "next week":
		return now.AddDate(0, 0, 7)
	}

	loc := now.Location()
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, ref)
		} else {
			t, err = time.ParseInLocation(layout, ref, loc)
		}
		if err == nil {
			return t.In(loc)
		}
	}
	return now
}

// DayBounds returns local midnight of t's day and the next midnight.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
