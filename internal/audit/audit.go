// Package audit records who asked for what and what the assistant did
// about it. Every entry goes to slog under an "audit" group and, when a
// database is configured, to the audit_log table for later queries.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/security"
	"github.com/hanig/hani-replica/internal/tools"
)

// EventType classifies an audit entry.
type EventType string

// Audit event types.
const (
	MessageReceived EventType = "message_received"
	MessageSent     EventType = "message_sent"
	ToolExecuted    EventType = "tool_executed"
	AgentInvoked    EventType = "agent_invoked"
	AgentCompleted  EventType = "agent_completed"
	ActionRequested EventType = "action_requested"
	ActionConfirmed EventType = "action_confirmed"
	ActionCancelled EventType = "action_cancelled"
	ActionExecuted  EventType = "action_executed"
	SecurityWarning EventType = "security_warning"
	SecurityBlocked EventType = "security_blocked"
	RateLimited     EventType = "rate_limited"
	Unauthorized    EventType = "unauthorized"
	ServiceStarted  EventType = "service_started"
	ServiceStopped  EventType = "service_stopped"
	Error           EventType = "error"
)

// securityTypes are the event types SecuritySummary counts.
var securityTypes = []EventType{SecurityWarning, SecurityBlocked, RateLimited, Unauthorized}

const (
	maxMessage = 500
	redacted   = "[redacted]"
)

// Entry is one audit record.
type Entry struct {
	ID         int64          `json:"id,omitempty"`
	Type       EventType      `json:"event_type"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	ChannelID  string         `json:"channel_id,omitempty"`
	ThreadID   string         `json:"thread_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// Config controls what is recorded.
type Config struct {
	// LogMessages keeps message text; otherwise it is replaced with
	// "[redacted]".
	LogMessages   bool
	RetentionDays int
}

// Logger writes audit entries. A Logger with a nil database only logs
// through slog.
type Logger struct {
	db        *sql.DB
	logger    *slog.Logger
	cfg       Config
	retention time.Duration
	now       func() time.Time
}

// New creates the audit_log table in db if db is non-nil.
func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	l := &Logger{
		db:        db,
		logger:    logger,
		cfg:       cfg,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
	if db != nil {
		if err := l.migrate(); err != nil {
			return nil, fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return l, nil
}

func (l *Logger) migrate() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type  TEXT NOT NULL,
		timestamp   TEXT NOT NULL,
		user_id     TEXT,
		channel_id  TEXT,
		thread_id   TEXT,
		message     TEXT,
		details     TEXT,
		duration_ms INTEGER,
		success     INTEGER NOT NULL DEFAULT 1,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_log(event_type);
	`)
	return err
}

// Log records e. Storage failures are logged, never returned: auditing
// must not break the request it describes.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Message = clip(e.Message, maxMessage)

	attrs := []any{
		"event_type", string(e.Type),
		"user_id", e.UserID,
		"channel_id", e.ChannelID,
		"success", e.Success,
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	if e.DurationMS > 0 {
		attrs = append(attrs, "duration_ms", e.DurationMS)
	}
	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))

	if l.db == nil {
		return
	}

	var details sql.NullString
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO audit_log
			(event_type, timestamp, user_id, channel_id, thread_id, message, details, duration_ms, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Type),
		e.Timestamp.UTC().Format(time.RFC3339),
		nullable(e.UserID),
		nullable(e.ChannelID),
		nullable(e.ThreadID),
		nullable(e.Message),
		details,
		e.DurationMS,
		boolInt(e.Success),
		nullable(e.Error),
	)
	if err != nil {
		l.logger.Error("audit write failed", "error", err, "event_type", string(e.Type))
	}
}

func (l *Logger) text(s string) string {
	if l.cfg.LogMessages {
		return s
	}
	return redacted
}

// LogMessageReceived records an inbound message.
func (l *Logger) LogMessageReceived(ctx context.Context, userID, channelID, threadID, text string) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{Type: MessageReceived, UserID: userID, ChannelID: channelID, ThreadID: threadID, Message: l.text(text), Success: true})
}

// LogMessageSent records a reply.
func (l *Logger) LogMessageSent(ctx context.Context, userID, channelID, threadID, text string) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{Type: MessageSent, UserID: userID, ChannelID: channelID, ThreadID: threadID, Message: l.text(text), Success: true})
}

// LogToolExecution records a tool call with secrets removed from its
// arguments.
func (l *Logger) LogToolExecution(ctx context.Context, userID, tool string, args map[string]any, elapsed time.Duration, success bool, errMsg string) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{
		Type:       ToolExecuted,
		UserID:     userID,
		Message:    "Tool: " + tool,
		Details:    map[string]any{"tool_name": tool, "input": SanitizeArgs(args)},
		DurationMS: elapsed.Milliseconds(),
		Success:    success,
		Error:      errMsg,
	})
}

// ToolObserver adapts the logger to the tool executor's observer hook.
func (l *Logger) ToolObserver() tools.Observer {
	return func(ctx context.Context, name string, args map[string]any, res tools.Result, elapsed time.Duration) {
		l.LogToolExecution(ctx, tools.UserIDFromContext(ctx), name, args, elapsed, res.Success, res.Error)
	}
}

// LogAgentInvoked records that an agent started on a message.
func (l *Logger) LogAgentInvoked(ctx context.Context, agentType, userID, channelID, text string) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{
		Type:      AgentInvoked,
		UserID:    userID,
		ChannelID: channelID,
		Message:   l.text(text),
		Details:   map[string]any{"agent_type": agentType},
		Success:   true,
	})
}

// LogAgentCompleted records how an agent run ended.
func (l *Logger) LogAgentCompleted(ctx context.Context, agentType, userID string, iterations, toolCount int, elapsed time.Duration, success bool, errMsg string) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{
		Type:   AgentCompleted,
		UserID: userID,
		Details: map[string]any{
			"agent_type": agentType,
			"iterations": iterations,
			"tool_count": toolCount,
		},
		DurationMS: elapsed.Milliseconds(),
		Success:    success,
		Error:      errMsg,
	})
}

// LogAction records a pending action lifecycle step.
func (l *Logger) LogAction(ctx context.Context, typ EventType, userID, actionType string, details map[string]any, success bool, errMsg string) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{
		Type:    typ,
		UserID:  userID,
		Message: "Action: " + actionType,
		Details: details,
		Success: success,
		Error:   errMsg,
	})
}

// LogSecurity records a security event. Blocked events are failures.
func (l *Logger) LogSecurity(ctx context.Context, typ EventType, userID, description string, details map[string]any, blocked bool) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{Type: typ, UserID: userID, Message: description, Details: details, Success: !blocked})
}

// SecurityObserver adapts the logger to the guard's event hook.
func (l *Logger) SecurityObserver() func(security.Event) {
	return func(e security.Event) {
		typ := SecurityWarning
		switch {
		case e.ThreatType == security.ThreatRateLimitExceeded:
			typ = RateLimited
		case e.Blocked:
			typ = SecurityBlocked
		}
		details := map[string]any{"threat_type": string(e.ThreatType), "severity": e.Severity}
		for k, v := range e.Metadata {
			details[k] = v
		}
		l.LogSecurity(context.Background(), typ, e.UserID, e.Description, details, e.Blocked)
	}
}

// LogError records a failure while handling a request.
func (l *Logger) LogError(ctx context.Context, userID, channelID, errMsg string, details map[string]any) {
	if l == nil {
		return
	}
	l.Log(ctx, Entry{Type: Error, UserID: userID, ChannelID: channelID, Message: errMsg, Details: details, Error: errMsg})
}

// SanitizeArgs copies tool arguments without credentials. A message body
// is replaced by its length.
func SanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch strings.ToLower(k) {
		case "password", "token", "secret", "key":
			continue
		case "body":
			if s, ok := v.(string); ok {
				out[k] = fmt.Sprintf("[%d chars]", len(s))
			} else {
				out[k] = "[redacted]"
			}
		default:
			out[k] = v
		}
	}
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
