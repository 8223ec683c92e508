package heartbeat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Notification types, also used as dedup namespaces.
const (
	TypeCalendarReminder = "calendar_reminder"
	TypeEmailAlert       = "email_alert"
	TypeDailyBriefing    = "daily_briefing"
)

// Settings are one user's proactive notification preferences.
type Settings struct {
	CalendarReminders     bool `json:"calendar_reminders_enabled"`
	ReminderMinutesBefore int  `json:"reminder_minutes_before"`
	RemindAllDayEvents    bool `json:"remind_all_day_events"`

	EmailAlerts       bool     `json:"email_alerts_enabled"`
	ImportantContacts []string `json:"important_contacts"`
	AlertKeywords     []string `json:"alert_keywords"`

	DailyBriefing bool   `json:"daily_briefing_enabled"`
	BriefingTime  string `json:"briefing_time"` // HH:MM
	Timezone      string `json:"timezone"`
	// BriefingDays are weekdays with Monday = 0.
	BriefingDays     []int  `json:"briefing_days"`
	LastBriefingSent string `json:"last_briefing_sent,omitempty"` // YYYY-MM-DD

	// QuietStart and QuietEnd are hours (0-23). A start after the end
	// wraps past midnight.
	QuietStart *int `json:"quiet_hours_start,omitempty"`
	QuietEnd   *int `json:"quiet_hours_end,omitempty"`
}

// DefaultSettings returns the settings a user starts with.
func DefaultSettings() Settings {
	return Settings{
		CalendarReminders:     true,
		ReminderMinutesBefore: 15,
		EmailAlerts:           true,
		ImportantContacts:     []string{},
		AlertKeywords:         []string{},
		DailyBriefing:         true,
		BriefingTime:          "07:00",
		Timezone:              "America/Los_Angeles",
		BriefingDays:          []int{0, 1, 2, 3, 4},
	}
}

// Location returns the user's time zone, or UTC if it does not load.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InQuietHours reports whether t falls in the quiet window, evaluated in
// the user's time zone.
func (s Settings) InQuietHours(t time.Time) bool {
	if s.QuietStart == nil || s.QuietEnd == nil {
		return false
	}
	h, start, end := t.In(s.Location()).Hour(), *s.QuietStart, *s.QuietEnd
	if start > end {
		return h >= start || h < end
	}
	return h >= start && h < end
}

// briefingDue reports whether the daily briefing should go out at t.
func (s Settings) briefingDue(t time.Time) bool {
	if !s.DailyBriefing {
		return false
	}
	local := t.In(s.Location())
	if s.LastBriefingSent == local.Format(time.DateOnly) {
		return false
	}
	weekday := (int(local.Weekday()) + 6) % 7
	onDay := false
	for _, d := range s.BriefingDays {
		if d == weekday {
			onDay = true
			break
		}
	}
	if !onDay {
		return false
	}
	at, err := time.Parse("15:04", s.BriefingTime)
	if err != nil {
		return false
	}
	return local.Hour()*60+local.Minute() >= at.Hour()*60+at.Minute()
}

// important reports whether a message from sender with subject should
// raise an alert.
func (s Settings) important(sender, subject string) bool {
	sender, subject = strings.ToLower(sender), strings.ToLower(subject)
	for _, c := range s.ImportantContacts {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" && strings.Contains(sender, c) {
			return true
		}
	}
	for _, k := range s.AlertKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(subject, k) {
			return true
		}
	}
	return false
}

// SettingsStore persists settings and the sent-notification ledger.
type SettingsStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSettingsStore creates the tables if needed.
func NewSettingsStore(db *sql.DB, logger *slog.Logger) (*SettingsStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SettingsStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate proactive settings: %w", err)
	}
	return s, nil
}

func (s *SettingsStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS proactive_settings (
			user_id    TEXT PRIMARY KEY,
			settings   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sent_notifications (
			user_id           TEXT NOT NULL,
			notification_type TEXT NOT NULL,
			notification_key  TEXT NOT NULL,
			sent_at           TEXT NOT NULL,
			UNIQUE(user_id, notification_type, notification_key)
		);
		CREATE INDEX IF NOT EXISTS idx_sent_notifications_sent_at ON sent_notifications(sent_at);
	`)
	return err
}

// Get returns the user's settings, or the defaults if none are stored.
func (s *SettingsStore) Get(ctx context.Context, userID string) (Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM proactive_settings WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("get proactive settings: %w", err)
	}
	st := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		s.logger.Warn("corrupt proactive settings, using defaults", "user_id", userID, "error", err)
		return DefaultSettings(), nil
	}
	return st, nil
}

// Save stores the user's settings.
func (s *SettingsStore) Save(ctx context.Context, userID string, st Settings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode proactive settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proactive_settings (user_id, settings, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		userID, string(raw), s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save proactive settings: %w", err)
	}
	return nil
}

// Delete removes the user's settings, reverting them to defaults.
func (s *SettingsStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM proactive_settings WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete proactive settings: %w", err)
	}
	return nil
}

// MarkSent records a notification. It returns false if the same
// notification was already recorded.
func (s *SettingsStore) MarkSent(ctx context.Context, userID, typ, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sent_notifications (user_id, notification_type, notification_key, sent_at)
		VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		userID, typ, key, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("mark notification sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification sent: %w", err)
	}
	return n == 1, nil
}

// WasSent reports whether a notification is already recorded.
func (s *SettingsStore) WasSent(ctx context.Context, userID, typ, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sent_notifications
		WHERE user_id = ? AND notification_type = ? AND notification_key = ?`,
		userID, typ, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check notification sent: %w", err)
	}
	return n > 0, nil
}

// Cleanup forgets notifications older than maxAge and returns how many
// were removed.
func (s *SettingsStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM sent_notifications WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sent notifications: %w", err)
	}
	return res.RowsAffected()
}
