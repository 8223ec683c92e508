package calendar

import "fmt"

// Config holds calendar accounts under the "calendar" YAML key.
type Config struct {
	// WorkdayStart and WorkdayEnd bound availability searches, in
	// hours of the user's local day.
	WorkdayStart int `yaml:"workday_start"`
	WorkdayEnd   int `yaml:"workday_end"`

	Accounts []AccountConfig `yaml:"accounts"`
}

// AccountConfig describes one CalDAV account.
type AccountConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Calendars restricts reads to these calendars. Entries starting
	// with "/" are collection paths and skip discovery; anything else
	// is matched against discovered display names. Empty reads every
	// calendar that supports events.
	Calendars []string `yaml:"calendars"`

	// WriteCalendar receives new events: a collection path or display
	// name. Defaults to the first readable calendar.
	WriteCalendar string `yaml:"write_calendar"`
}

// Configured reports whether any account has a URL.
func (c Config) Configured() bool {
	for _, a := range c.Accounts {
		if a.URL != "" {
			return true
		}
	}
	return false
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.WorkdayStart == 0 && c.WorkdayEnd == 0 {
		c.WorkdayStart, c.WorkdayEnd = 9, 18
	}
}

// Validate returns an error describing the first problem found.
func (c Config) Validate() error {
	if c.WorkdayStart < 0 || c.WorkdayEnd > 24 || c.WorkdayStart >= c.WorkdayEnd {
		return fmt.Errorf("calendar: workday %d-%d is not a valid range", c.WorkdayStart, c.WorkdayEnd)
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("calendar.accounts[%d].name must not be empty", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("calendar.accounts[%d].name %q is a duplicate", i, a.Name)
		}
		seen[a.Name] = true
		if a.URL == "" {
			return fmt.Errorf("calendar.accounts[%d] (%s): url is required", i, a.Name)
		}
	}
	return nil
}
