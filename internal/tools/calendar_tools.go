package tools

import (
	"context"

	"github.com/hanig/hani-replica/internal/action"
	"github.com/hanig/hani-replica/internal/calendar"
)

func (r *Registry) registerCalendarTools(s *Services) {
	r.Register(&Tool{
		Name:        "GetCalendarEventsTool",
		Description: "Get calendar events for a specific date from all calendars.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "Date reference: 'today', 'tomorrow', 'yesterday', or ISO format (YYYY-MM-DD). Default today.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Calendar == nil {
				return nil, errNotConfigured("calendar")
			}
			day := calendar.ParseDateReference(argString(args, "date"), s.now())
			events, err := s.Calendar.EventsForDate(ctx, day)
			if err != nil {
				return nil, err
			}
			if events == nil {
				events = []calendar.Event{}
			}
			return map[string]any{
				"date":        day.Format("2006-01-02"),
				"event_count": len(events),
				"events":      events,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "CheckAvailabilityTool",
		Description: "Find available time slots across all calendars for scheduling meetings.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"date":                map[string]any{"type": "string", "description": "Date to check: 'today', 'tomorrow', or ISO format. Default today."},
				"duration_minutes":    map[string]any{"type": "integer", "description": "Minimum slot duration in minutes (default 30)"},
				"working_hours_start": map[string]any{"type": "integer", "description": "Working hours start, 24h (default 9)"},
				"working_hours_end":   map[string]any{"type": "integer", "description": "Working hours end, 24h (default 18)"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Calendar == nil {
				return nil, errNotConfigured("calendar")
			}
			day := calendar.ParseDateReference(argString(args, "date"), s.now())
			dur := argInt(args, "duration_minutes", 30)
			slots, err := s.Calendar.FreeSlotsWithin(ctx, day,
				argInt(args, "working_hours_start", 9), argInt(args, "working_hours_end", 18), dur)
			if err != nil {
				return nil, err
			}
			if slots == nil {
				slots = []calendar.Slot{}
			}
			return map[string]any{
				"date":             day.Format("2006-01-02"),
				"duration_minutes": dur,
				"free_slot_count":  len(slots),
				"free_slots":       slots,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "CreateCalendarEventTool",
		Description: "Create a calendar event and optionally send invites to attendees. The user is asked to confirm before anything is created.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":            map[string]any{"type": "string", "description": "Event title"},
				"date":             map[string]any{"type": "string", "description": "Date: 'today', 'tomorrow', a day name (e.g. 'Monday'), or YYYY-MM-DD"},
				"time":             map[string]any{"type": "string", "description": "Start time: 'noon', '2pm', '14:00', etc."},
				"duration_minutes": map[string]any{"type": "integer", "description": "Duration in minutes (default 60)"},
				"attendees":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Attendee email addresses (will receive invites)"},
				"location":         map[string]any{"type": "string", "description": "Event location (optional)"},
				"description":      map[string]any{"type": "string", "description": "Event description (optional)"},
				"account":          map[string]any{"type": "string", "description": "Calendar account to create the event in (default: primary)"},
			},
			"required": []string{"title", "date", "time"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			a := action.NewCreateEvent(action.Event{
				Title:           argString(args, "title"),
				Date:            argString(args, "date"),
				Time:            argString(args, "time"),
				DurationMinutes: argInt(args, "duration_minutes", 60),
				Attendees:       argStrings(args, "attendees"),
				Location:        argString(args, "location"),
				Description:     argString(args, "description"),
				Account:         argString(args, "account"),
			})
			return propose(ctx, a)
		},
	})
}
