package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hanig/hani-replica/internal/httpkit"
)

type account struct {
	name    string
	backend Backend
}

// Service merges every configured calendar account and answers
// availability questions in the user's time zone.
type Service struct {
	accounts  []account
	loc       *time.Location
	workStart int
	workEnd   int
	logger    *slog.Logger
}

// NewService creates CalDAV backends for every account in cfg.
func NewService(cfg Config, loc *time.Location, logger *slog.Logger) (*Service, error) {
	s := newService(cfg, loc, logger)
	for _, acct := range cfg.Accounts {
		hc := httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		)
		b, err := NewCalDAV(acct, hc, loc, logger)
		if err != nil {
			return nil, err
		}
		s.add(acct.Name, b)
		logger.Info("calendar account configured", "name", acct.Name)
	}
	return s, nil
}

func newService(cfg Config, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	cfg.ApplyDefaults()
	return &Service{
		loc:       loc,
		workStart: cfg.WorkdayStart,
		workEnd:   cfg.WorkdayEnd,
		logger:    logger,
	}
}

func (s *Service) add(name string, b Backend) {
	s.accounts = append(s.accounts, account{name: name, backend: b})
}

// Location is the time zone events are reported in.
func (s *Service) Location() *time.Location { return s.loc }

// Accounts returns account names in configuration order.
func (s *Service) Accounts() []string {
	names := make([]string, len(s.accounts))
	for i, a := range s.accounts {
		names[i] = a.name
	}
	return names
}

// EventsBetween returns events from all accounts overlapping
// [start, end), sorted by start. A failing account is logged and
// skipped; the call fails only when every account fails.
func (s *Service) EventsBetween(ctx context.Context, start, end time.Time) ([]Event, error) {
	if len(s.accounts) == 0 {
		return nil, errors.New("no calendar accounts configured")
	}

	var (
		out    []Event
		failed int
		last   error
	)
	for _, a := range s.accounts {
		evs, err := a.backend.Events(ctx, start, end)
		if err != nil {
			failed++
			last = err
			s.logger.Warn("calendar account failed", "account", a.name, "error", err)
			continue
		}
		out = append(out, evs...)
	}
	if failed == len(s.accounts) {
		return nil, fmt.Errorf("fetch events: %w", last)
	}
	sortEvents(out)
	return out, nil
}

// EventsForDate returns the events on day's local date.
func (s *Service) EventsForDate(ctx context.Context, day time.Time) ([]Event, error) {
	start, end := DayBounds(day.In(s.loc))
	return s.EventsBetween(ctx, start, end)
}

// Upcoming returns non-cancelled timed events starting within
// [now, now+within].
func (s *Service) Upcoming(ctx context.Context, now time.Time, within time.Duration) ([]Event, error) {
	evs, err := s.EventsBetween(ctx, now, now.Add(within))
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range evs {
		if e.Cancelled || e.Start.Before(now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// FreeSlots finds gaps of at least durationMin minutes within working
// hours on day. Cancelled and all-day events do not block time.
func (s *Service) FreeSlots(ctx context.Context, day time.Time, durationMin int) ([]Slot, error) {
	return s.FreeSlotsWithin(ctx, day, s.workStart, s.workEnd, durationMin)
}

// FreeSlotsWithin is FreeSlots over the hours [startHour, endHour).
func (s *Service) FreeSlotsWithin(ctx context.Context, day time.Time, startHour, endHour, durationMin int) ([]Slot, error) {
	if durationMin <= 0 {
		durationMin = 30
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return nil, fmt.Errorf("invalid working hours %d-%d", startHour, endHour)
	}
	events, err := s.EventsForDate(ctx, day)
	if err != nil {
		return nil, err
	}
	day = day.In(s.loc)
	workStart := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, s.loc)
	workEnd := time.Date(day.Year(), day.Month(), day.Day(), endHour, 0, 0, 0, s.loc)
	return freeSlots(events, workStart, workEnd, time.Duration(durationMin)*time.Minute), nil
}

type interval struct{ start, end time.Time }

func freeSlots(events []Event, from, to time.Time, dur time.Duration) []Slot {
	var busy []interval
	for _, e := range events {
		if e.Cancelled || e.AllDay || !e.End.After(from) || !e.Start.Before(to) {
			continue
		}
		busy = append(busy, interval{start: e.Start, end: e.End})
	}
	busy = mergeIntervals(busy)

	var slots []Slot
	emit := func(start, end time.Time) {
		if end.Sub(start) >= dur {
			slots = append(slots, Slot{Start: start, End: end, DurationMinutes: int(end.Sub(start).Minutes())})
		}
	}

	current := from
	for _, b := range busy {
		if b.start.After(current) {
			emit(current, b.start)
		}
		if b.end.After(current) {
			current = b.end
		}
	}
	if to.After(current) {
		emit(current, to)
	}
	return slots
}

// mergeIntervals sorts and coalesces overlapping or touching intervals.
func mergeIntervals(in []interval) []interval {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]interval(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start.Before(sorted[j].start) })

	out := []interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.start.After(last.end) {
			if iv.end.After(last.end) {
				last.end = iv.end
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// CreateEvent stores ne in the named account, or the first account
// when name is empty.
func (s *Service) CreateEvent(ctx context.Context, name string, ne NewEvent) (*Event, error) {
	if ne.Title == "" {
		return nil, errors.New("event title is required")
	}
	if !ne.End.After(ne.Start) {
		return nil, errors.New("event end must be after start")
	}
	if len(s.accounts) == 0 {
		return nil, errors.New("no calendar accounts configured")
	}

	target := s.accounts[0]
	if name != "" {
		found := false
		for _, a := range s.accounts {
			if a.name == name {
				target, found = a, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("calendar account %q not found", name)
		}
	}
	return target.backend.Create(ctx, ne)
}
