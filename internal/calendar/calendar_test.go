package calendar

import (
	"testing"
	"time"
)

func TestParseDateReference(t *testing.T) {
	loc := time.FixedZone("PDT", -7*3600)
	now := time.Date(2026, 10, 15, 14, 30, 0, 0, loc)

	tests := []struct {
		ref  string
		want time.Time
	}{
		{"today", now},
		{"", now},
		{"Tomorrow", now.AddDate(0, 0, 1)},
		{"yesterday", now.AddDate(0, 0, -1)},
		{"this week", now},
		{"next week", now.AddDate(0, 0, 7)},
		{"2026-11-02", time.Date(2026, 11, 2, 0, 0, 0, 0, loc)},
		{"2026-11-02T09:15", time.Date(2026, 11, 2, 9, 15, 0, 0, loc)},
		{"2026-11-02T16:00:00Z", time.Date(2026, 11, 2, 9, 0, 0, 0, loc)},
		{"someday", now},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := ParseDateReference(tt.ref, now)
			if !got.Equal(tt.want) {
				t.Errorf("ParseDateReference(%q) = %v, want %v", tt.ref, got, tt.want)
			}
			if got.Location() != loc {
				t.Errorf("location = %v, want %v", got.Location(), loc)
			}
		})
	}
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("X", 2*3600)
	start, end := DayBounds(time.Date(2026, 3, 1, 23, 59, 0, 0, loc))
	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("start = %v", start)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("span = %v", end.Sub(start))
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty", Config{}, false},
		{"ok", Config{Accounts: []AccountConfig{{Name: "home", URL: "https://dav.example.com"}}}, false},
		{"missing name", Config{Accounts: []AccountConfig{{URL: "https://x"}}}, true},
		{"missing url", Config{Accounts: []AccountConfig{{Name: "home"}}}, true},
		{"duplicate", Config{Accounts: []AccountConfig{{Name: "a", URL: "u"}, {Name: "a", URL: "u"}}}, true},
		{"bad workday", Config{WorkdayStart: 18, WorkdayEnd: 9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.WorkdayStart != 9 || cfg.WorkdayEnd != 18 {
		t.Errorf("workday = %d-%d, want 9-18", cfg.WorkdayStart, cfg.WorkdayEnd)
	}
	if cfg.Configured() {
		t.Error("empty config should not be configured")
	}
}
