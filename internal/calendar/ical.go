package calendar

import (
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const productID = "-//hani-replica//EN"

// expandCalendar converts every VEVENT in cal into occurrences that
// overlap [start, end). Recurring masters are expanded; overridden
// instances (RECURRENCE-ID) replace the generated occurrence.
func expandCalendar(cal *ical.Calendar, calName string, start, end time.Time, loc *time.Location) []Event {
	var (
		out       []Event
		overrides = make(map[string]map[int64]bool)
	)

	events := cal.Events()
	for i := range events {
		ev := &events[i]
		rid, err := ev.Props.DateTime(ical.PropRecurrenceID, loc)
		if err != nil || rid.IsZero() {
			continue
		}
		uid, _ := ev.Props.Text(ical.PropUID)
		if overrides[uid] == nil {
			overrides[uid] = make(map[int64]bool)
		}
		overrides[uid][rid.Unix()] = true
	}

	for i := range events {
		ev := &events[i]
		base, ok := toEvent(ev, loc)
		if !ok {
			continue
		}
		base.Calendar = calName

		set, err := ev.RecurrenceSet(loc)
		if err != nil || set == nil {
			if overlaps(base, start, end) {
				out = append(out, base)
			}
			continue
		}

		dur := base.End.Sub(base.Start)
		for _, t := range set.Between(start.Add(-dur), end, true) {
			if overrides[base.ID][t.Unix()] {
				continue
			}
			occ := base
			occ.Start = t.In(loc)
			occ.End = occ.Start.Add(dur)
			if overlaps(occ, start, end) {
				out = append(out, occ)
			}
		}
	}

	sortEvents(out)
	return out
}

func toEvent(ev *ical.Event, loc *time.Location) (Event, bool) {
	start, err := ev.DateTimeStart(loc)
	if err != nil || start.IsZero() {
		return Event{}, false
	}

	e := Event{Start: start.In(loc)}
	e.ID, _ = ev.Props.Text(ical.PropUID)
	e.Title, _ = ev.Props.Text(ical.PropSummary)
	e.Location, _ = ev.Props.Text(ical.PropLocation)
	e.Description, _ = ev.Props.Text(ical.PropDescription)
	e.URL, _ = ev.Props.Text(ical.PropURL)

	status, _ := ev.Props.Text(ical.PropStatus)
	e.Cancelled = strings.EqualFold(status, "CANCELLED")

	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil {
		e.AllDay = p.ValueType() == ical.ValueDate || len(p.Value) == len("20060102")
	}

	if end, err := ev.DateTimeEnd(loc); err == nil && !end.IsZero() {
		e.End = end.In(loc)
	}
	if !e.End.After(e.Start) {
		if e.AllDay {
			e.End = e.Start.AddDate(0, 0, 1)
		} else {
			e.End = e.Start
		}
	}

	for _, p := range ev.Props.Values(ical.PropAttendee) {
		addr := strings.TrimSpace(p.Value)
		if len(addr) > 7 && strings.EqualFold(addr[:7], "mailto:") {
			addr = addr[7:]
		}
		if addr != "" {
			e.Attendees = append(e.Attendees, addr)
		}
	}
	return e, true
}

// newCalendarObject builds a single-event VCALENDAR for ne.
func newCalendarObject(ne NewEvent, now time.Time) (*ical.Calendar, string) {
	uid := uuid.NewString()

	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, ne.Start)
	ev.Props.SetDateTime(ical.PropDateTimeEnd, ne.End)
	ev.Props.SetText(ical.PropSummary, ne.Title)
	if ne.Description != "" {
		ev.Props.SetText(ical.PropDescription, ne.Description)
	}
	if ne.Location != "" {
		ev.Props.SetText(ical.PropLocation, ne.Location)
	}
	for _, a := range ne.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = "mailto:" + a
		ev.Props.Add(p)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, ev.Component)
	return cal, uid
}

func overlaps(e Event, start, end time.Time) bool {
	if e.End.Equal(e.Start) {
		return !e.Start.Before(start) && e.Start.Before(end)
	}
	return e.Start.Before(end) && e.End.After(start)
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].Title < events[j].Title
		}
		return events[i].Start.Before(events[j].Start)
	})
}
