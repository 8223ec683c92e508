// Package heartbeat sends proactive notifications: reminders for
// upcoming events, alerts for important mail and a scheduled daily
// briefing. A background loop checks every configured user on each tick.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/briefing"
	"github.com/hanig/hani-replica/internal/calendar"
	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/events"
)

const (
	// reminderSlack widens the reminder window so an event is not missed
	// between ticks.
	reminderSlack = 5 * time.Minute
	mailLookback  = time.Hour
	mailLimit     = 20
	snippetLen    = 200
	sentRetention = 7 * 24 * time.Hour
)

// Notification is one proactive message.
type Notification struct {
	Type string `json:"type"`
	// Key identifies the notification within its type for dedup.
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Notifier delivers notifications to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// BusNotifier publishes notifications on the event bus, where the
// /v1/events stream picks them up.
type BusNotifier struct {
	Bus *events.Bus
}

// Notify implements Notifier.
func (b BusNotifier) Notify(_ context.Context, userID string, n Notification) error {
	b.Bus.Emit(events.SourceHeartbeat, events.KindNotification, map[string]any{
		"user_id": userID,
		"type":    n.Type,
		"key":     n.Key,
		"text":    n.Text,
	})
	return nil
}

// Sources the heartbeat reads from. Any may be nil.
type (
	Calendar interface {
		Upcoming(ctx context.Context, now time.Time, within time.Duration) ([]calendar.Event, error)
	}
	Mail interface {
		RecentUnread(ctx context.Context, since time.Time, limit int) ([]email.Envelope, error)
	}
	Briefer interface {
		Build(ctx context.Context, now time.Time) briefing.Briefing
	}
)

// Config wires a Heartbeat.
type Config struct {
	Interval time.Duration
	Users    []string

	Settings  *SettingsStore
	Calendar  Calendar
	Mail      Mail
	Briefing  Briefer
	Notifiers []Notifier
	Bus       *events.Bus
	Logger    *slog.Logger
}

// Heartbeat runs the proactive checks.
type Heartbeat struct {
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
	lastCleanup string
}

// New returns a Heartbeat. It does not start the loop.
func New(cfg Config) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{cfg: cfg, logger: logger, now: time.Now}
}

// Run ticks until ctx is cancelled, checking immediately on start.
func (h *Heartbeat) Run(ctx context.Context) {
	h.logger.Info("heartbeat started", "interval", h.cfg.Interval, "users", len(h.cfg.Users))
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick runs one round of checks for every user and returns the number of
// notifications delivered.
func (h *Heartbeat) Tick(ctx context.Context) int {
	now := h.now()
	sent := 0
	for _, user := range h.cfg.Users {
		if ctx.Err() != nil {
			break
		}
		n, err := h.checkUser(ctx, user, now)
		if err != nil {
			h.logger.Warn("heartbeat check failed", "user_id", user, "error", err)
		}
		sent += n
	}

	if day := now.Format(time.DateOnly); day != h.lastCleanup {
		h.lastCleanup = day
		if n, err := h.cfg.Settings.Cleanup(ctx, sentRetention); err != nil {
			h.logger.Warn("sent notification cleanup failed", "error", err)
		} else if n > 0 {
			h.logger.Debug("sent notifications cleaned up", "removed", n)
		}
	}

	h.cfg.Bus.Emit(events.SourceHeartbeat, events.KindTick, map[string]any{
		"users": len(h.cfg.Users),
		"sent":  sent,
	})
	return sent
}

func (h *Heartbeat) checkUser(ctx context.Context, user string, now time.Time) (int, error) {
	st, err := h.cfg.Settings.Get(ctx, user)
	if err != nil {
		return 0, err
	}
	if st.InQuietHours(now) {
		return 0, nil
	}

	var errs []error
	sent := 0
	if st.CalendarReminders && h.cfg.Calendar != nil {
		n, err := h.calendarReminders(ctx, user, st, now)
		sent += n
		errs = append(errs, err)
	}
	if st.EmailAlerts && h.cfg.Mail != nil && (len(st.ImportantContacts) > 0 || len(st.AlertKeywords) > 0) {
		n, err := h.emailAlerts(ctx, user, st, now)
		sent += n
		errs = append(errs, err)
	}
	if h.cfg.Briefing != nil && st.briefingDue(now) {
		n, err := h.dailyBriefing(ctx, user, st, now)
		sent += n
		errs = append(errs, err)
	}
	return sent, errors.Join(errs...)
}

func (h *Heartbeat) calendarReminders(ctx context.Context, user string, st Settings, now time.Time) (int, error) {
	lead := time.Duration(st.ReminderMinutesBefore) * time.Minute
	evs, err := h.cfg.Calendar.Upcoming(ctx, now, lead+reminderSlack)
	if err != nil {
		return 0, fmt.Errorf("calendar reminders: %w", err)
	}
	sent := 0
	for _, e := range evs {
		if e.AllDay && !st.RemindAllDayEvents {
			continue
		}
		mins := int(e.Start.Sub(now) / time.Minute)
		text := fmt.Sprintf("Reminder: %s in %d minutes", e.Title, mins)
		if e.Location != "" {
			text += "\nLocation: " + e.Location
		}
		n := Notification{
			Type: TypeCalendarReminder,
			Key:  e.ID + "_" + e.Start.UTC().Format(time.RFC3339),
			Text: text,
		}
		if h.deliverOnce(ctx, user, n) {
			sent++
		}
	}
	return sent, nil
}

func (h *Heartbeat) emailAlerts(ctx context.Context, user string, st Settings, now time.Time) (int, error) {
	envs, err := h.cfg.Mail.RecentUnread(ctx, now.Add(-mailLookback), mailLimit)
	if err != nil {
		return 0, fmt.Errorf("email alerts: %w", err)
	}
	sent := 0
	for _, e := range envs {
		if !st.important(e.From, e.Subject) {
			continue
		}
		text := fmt.Sprintf("Important email from %s: %s", e.From, e.Subject)
		if s := strings.TrimSpace(e.Snippet); s != "" {
			text += "\n> " + clip(s, snippetLen)
		}
		key := fmt.Sprintf("email_%d", e.UID)
		if e.Account != "" {
			key = fmt.Sprintf("email_%s_%d", e.Account, e.UID)
		}
		if h.deliverOnce(ctx, user, Notification{Type: TypeEmailAlert, Key: key, Text: text}) {
			sent++
		}
	}
	return sent, nil
}

func (h *Heartbeat) dailyBriefing(ctx context.Context, user string, st Settings, now time.Time) (int, error) {
	local := now.In(st.Location())
	day := local.Format(time.DateOnly)

	br := h.cfg.Briefing.Build(ctx, now)
	n := Notification{
		Type: TypeDailyBriefing,
		Key:  day,
		Text: Greeting(local) + " Here's your daily briefing:\n\n" + briefing.Format(br),
	}
	if !h.deliverOnce(ctx, user, n) {
		return 0, nil
	}
	st.LastBriefingSent = day
	return 1, h.cfg.Settings.Save(ctx, user, st)
}

// Greeting picks the salutation for the local hour of t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "Good morning!"
	case h < 17:
		return "Good afternoon!"
	default:
		return "Good evening!"
	}
}

// deliverOnce sends n unless it was already sent and records it after
// at least one notifier accepts it.
func (h *Heartbeat) deliverOnce(ctx context.Context, user string, n Notification) bool {
	seen, err := h.cfg.Settings.WasSent(ctx, user, n.Type, n.Key)
	if err != nil {
		h.logger.Warn("notification dedup check failed", "user_id", user, "type", n.Type, "error", err)
		return false
	}
	if seen {
		return false
	}

	delivered := false
	for _, nt := range h.cfg.Notifiers {
		if err := nt.Notify(ctx, user, n); err != nil {
			h.logger.Warn("notification delivery failed", "user_id", user, "type", n.Type, "error", err)
			continue
		}
		delivered = true
	}
	if !delivered {
		return false
	}

	if _, err := h.cfg.Settings.MarkSent(ctx, user, n.Type, n.Key); err != nil {
		h.logger.Warn("record sent notification failed", "user_id", user, "type", n.Type, "error", err)
	}
	h.logger.Info("notification sent", "user_id", user, "type", n.Type, "key", n.Key)
	return true
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
