package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResolveDateTime turns a user-phrased date ("tomorrow", "friday",
// "2024-03-01") and time ("2pm", "14:30", "noon") into an absolute
// timestamp in now's location.
//
// Weekday names resolve to the next occurrence; naming today's weekday
// means one week out. Unrecognized dates fall back to today. An
// unparseable time defaults to noon; an out-of-range one is an error.
func ResolveDateTime(date, clock string, now time.Time) (time.Time, error) {
	day := resolveDate(date, now)
	hour, minute, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), nil
}

func resolveDate(s string, now time.Time) time.Time {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "today":
		return now
	case "tomorrow":
		return now.AddDate(0, 0, 1)
	case "yesterday":
		return now.AddDate(0, 0, -1)
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if s == strings.ToLower(wd.String()) {
			ahead := int(wd) - int(now.Weekday())
			if ahead <= 0 {
				ahead += 7
			}
			return now.AddDate(0, 0, ahead)
		}
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t
		}
	}
	return now
}

// parseClock handles "noon", "midnight", "H:MM[am|pm]" and "H[am|pm]".
func parseClock(s string) (hour, minute int, err error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), ".", "")
	switch s {
	case "noon":
		return 12, 0, nil
	case "midnight":
		return 0, 0, nil
	}

	pm := strings.Contains(s, "pm")
	am := strings.Contains(s, "am")
	bare := strings.TrimSpace(strings.NewReplacer("am", "", "pm", "").Replace(s))

	hour, minute = 12, 0
	if h, m, ok := strings.Cut(bare, ":"); ok {
		if hour, err = strconv.Atoi(strings.TrimSpace(h)); err != nil {
			return 0, 0, fmt.Errorf("invalid time %q", s)
		}
		if minute, err = strconv.Atoi(strings.TrimSpace(m)); err != nil {
			return 0, 0, fmt.Errorf("invalid time %q", s)
		}
	} else if h, convErr := strconv.Atoi(bare); convErr == nil {
		hour = h
	} else {
		return 12, 0, nil
	}

	switch {
	case pm && hour < 12:
		hour += 12
	case am && hour == 12:
		hour = 0
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	return hour, minute, nil
}
