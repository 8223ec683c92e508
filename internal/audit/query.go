package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoDatabase is returned by queries on a slog-only Logger.
var ErrNoDatabase = errors.New("audit database not configured")

// Filter selects audit entries. Zero fields do not filter.
type Filter struct {
	Type   EventType
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// Query returns matching entries, newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, ErrNoDatabase
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}

	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(f.Type))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	where := "1=1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, timestamp, user_id, channel_id, thread_id, message, details, duration_ms, success, error
		FROM audit_log
		WHERE `+where+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var typ, ts string
		var user, channel, thread, msg, details, errMsg sql.NullString
		var duration sql.NullInt64
		var success int
		if err := rows.Scan(&e.ID, &typ, &ts, &user, &channel, &thread, &msg, &details, &duration, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Type = EventType(typ)
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		e.UserID = user.String
		e.ChannelID = channel.String
		e.ThreadID = thread.String
		e.Message = msg.String
		e.DurationMS = duration.Int64
		e.Success = success == 1
		e.Error = errMsg.String
		if details.Valid {
			_ = json.Unmarshal([]byte(details.String), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Activity summarizes one user's recent audit trail.
type Activity struct {
	UserID     string         `json:"user_id"`
	PeriodDays int            `json:"period_days"`
	Total      int            `json:"total_events"`
	ByType     map[string]int `json:"events_by_type"`
	Errors     int            `json:"error_count"`
}

// UserActivity summarizes the last days of a user's activity.
func (l *Logger) UserActivity(ctx context.Context, userID string, days int) (*Activity, error) {
	if l == nil || l.db == nil {
		return nil, ErrNoDatabase
	}
	if days <= 0 {
		days = 7
	}
	since := l.now().Add(-time.Duration(days) * 24 * time.Hour).UTC().Format(time.RFC3339)

	a := &Activity{UserID: userID, PeriodDays: days}
	var err error
	a.ByType, a.Total, err = l.countByType(ctx, `WHERE user_id = ? AND timestamp >= ?`, userID, since)
	if err != nil {
		return nil, err
	}
	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE user_id = ? AND success = 0 AND timestamp >= ?`,
		userID, since).Scan(&a.Errors)
	if err != nil {
		return nil, fmt.Errorf("count audit errors: %w", err)
	}
	return a, nil
}

// SecuritySummary counts security entries since a point in time.
type SecuritySummary struct {
	Since   time.Time      `json:"since"`
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	ByUser  map[string]int `json:"by_user"`
	Blocked int            `json:"blocked"`
}

// SecuritySummary counts security warnings, blocks, rate limits and
// unauthorized attempts since since.
func (l *Logger) SecuritySummary(ctx context.Context, since time.Time) (*SecuritySummary, error) {
	if l == nil || l.db == nil {
		return nil, ErrNoDatabase
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(securityTypes)), ",")
	args := []any{since.UTC().Format(time.RFC3339)}
	for _, t := range securityTypes {
		args = append(args, string(t))
	}
	where := `WHERE timestamp >= ? AND event_type IN (` + placeholders + `)`

	s := &SecuritySummary{Since: since, ByUser: make(map[string]int)}
	var err error
	s.ByType, s.Total, err = l.countByType(ctx, where, args...)
	if err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT COALESCE(user_id, ''), COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END) FROM audit_log `+where+` GROUP BY user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("count security events by user: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var user string
		var n, blocked int
		if err := rows.Scan(&user, &n, &blocked); err != nil {
			return nil, err
		}
		s.ByUser[user] = n
		s.Blocked += blocked
	}
	return s, rows.Err()
}

// Stats summarizes the whole audit log.
type Stats struct {
	Total         int            `json:"total_events"`
	Oldest        string         `json:"oldest_event,omitempty"`
	Newest        string         `json:"newest_event,omitempty"`
	ByType        map[string]int `json:"events_by_type"`
	RetentionDays int            `json:"retention_days"`
}

// Stats returns totals for the audit log.
func (l *Logger) Stats(ctx context.Context) (*Stats, error) {
	if l == nil || l.db == nil {
		return nil, ErrNoDatabase
	}
	st := &Stats{RetentionDays: l.cfg.RetentionDays}
	var err error
	st.ByType, st.Total, err = l.countByType(ctx, "")
	if err != nil {
		return nil, err
	}
	var oldest, newest sql.NullString
	if err := l.db.QueryRowContext(ctx, `SELECT MIN(timestamp), MAX(timestamp) FROM audit_log`).Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("audit time range: %w", err)
	}
	st.Oldest, st.Newest = oldest.String, newest.String
	return st, nil
}

// Cleanup deletes entries older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l == nil || l.db == nil {
		return 0, nil
	}
	cutoff := l.now().Add(-l.retention).UTC().Format(time.RFC3339)
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.Info("audit log cleaned", "deleted", n, "retention_days", l.cfg.RetentionDays)
	}
	return n, nil
}

func (l *Logger) countByType(ctx context.Context, where string, args ...any) (map[string]int, int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM audit_log `+where+` GROUP BY event_type`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}
	defer rows.Close()

	by := make(map[string]int)
	total := 0
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, 0, err
		}
		by[typ] = n
		total += n
	}
	return by, total, rows.Err()
}
