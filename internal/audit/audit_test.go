package audit

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hanig/hani-replica/internal/security"
	"github.com/hanig/hani-replica/internal/tools"

	_ "modernc.org/sqlite"
)

func newTestLogger(t *testing.T, cfg Config) *Logger {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	l, err := New(db, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestMessageRedaction(t *testing.T) {
	ctx := context.Background()
	for _, keep := range []bool{false, true} {
		l := newTestLogger(t, Config{LogMessages: keep})
		l.LogMessageReceived(ctx, "U1", "C1", "T1", "my secret plans")

		got, err := l.Query(ctx, Filter{Type: MessageReceived})
		if err != nil || len(got) != 1 {
			t.Fatalf("query = %v, %v", got, err)
		}
		want := redacted
		if keep {
			want = "my secret plans"
		}
		if got[0].Message != want || got[0].ThreadID != "T1" {
			t.Errorf("LogMessages=%v: entry %+v", keep, got[0])
		}
	}
}

func TestMessageClipped(t *testing.T) {
	l := newTestLogger(t, Config{LogMessages: true})
	l.LogMessageSent(context.Background(), "U1", "C1", "", strings.Repeat("x", 900))
	got, _ := l.Query(context.Background(), Filter{})
	if len(got[0].Message) != maxMessage {
		t.Errorf("message length = %d", len(got[0].Message))
	}
}

func TestSanitizeArgs(t *testing.T) {
	got := SanitizeArgs(map[string]any{
		"to":       "ada@example.com",
		"body":     "hello there",
		"password": "hunter2",
		"Token":    "abc",
		"key":      "k",
		"secret":   "s",
	})
	if len(got) != 2 || got["to"] != "ada@example.com" || got["body"] != "[11 chars]" {
		t.Errorf("sanitized = %v", got)
	}
}

func TestToolObserver(t *testing.T) {
	l := newTestLogger(t, Config{})
	ctx := tools.WithUserID(context.Background(), "U7")

	obs := l.ToolObserver()
	obs(ctx, "SendEmailTool", map[string]any{"body": "abc"}, tools.Result{Error: "smtp down"}, 1500*time.Millisecond)

	got, _ := l.Query(ctx, Filter{UserID: "U7"})
	if len(got) != 1 {
		t.Fatalf("entries = %v", got)
	}
	e := got[0]
	if e.Type != ToolExecuted || e.Success || e.Error != "smtp down" || e.DurationMS != 1500 {
		t.Errorf("entry = %+v", e)
	}
	input, _ := e.Details["input"].(map[string]any)
	if input["body"] != "[3 chars]" {
		t.Errorf("details = %v", e.Details)
	}
}

func TestSecurityObserverAndSummary(t *testing.T) {
	l := newTestLogger(t, Config{})
	ctx := context.Background()
	obs := l.SecurityObserver()

	obs(security.Event{UserID: "U1", ThreatType: security.ThreatPromptInjection, Blocked: true, Description: "injection"})
	obs(security.Event{UserID: "U1", ThreatType: security.ThreatRateLimitExceeded, Blocked: true})
	obs(security.Event{UserID: "U2", ThreatType: security.ThreatSensitiveData})
	l.LogMessageReceived(ctx, "U1", "C1", "", "hi")

	sum, err := l.SecuritySummary(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 || sum.Blocked != 2 || sum.ByUser["U1"] != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.ByType[string(SecurityBlocked)] != 1 || sum.ByType[string(RateLimited)] != 1 || sum.ByType[string(SecurityWarning)] != 1 {
		t.Errorf("by type = %v", sum.ByType)
	}
}

func TestUserActivityAndCleanup(t *testing.T) {
	l := newTestLogger(t, Config{RetentionDays: 30})
	ctx := context.Background()

	old := time.Now().Add(-60 * 24 * time.Hour)
	l.Log(ctx, Entry{Type: MessageReceived, UserID: "U1", Timestamp: old, Success: true})
	l.LogMessageReceived(ctx, "U1", "C1", "", "hi")
	l.LogError(ctx, "U1", "C1", "boom", nil)

	act, err := l.UserActivity(ctx, "U1", 7)
	if err != nil {
		t.Fatal(err)
	}
	if act.Total != 2 || act.Errors != 1 || act.ByType[string(Error)] != 1 {
		t.Errorf("activity = %+v", act)
	}

	n, err := l.Cleanup(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Cleanup = %d, %v", n, err)
	}
	st, _ := l.Stats(ctx)
	if st.Total != 2 || st.RetentionDays != 30 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSlogOnly(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(nil, Config{}, slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatal(err)
	}
	l.LogAgentCompleted(context.Background(), "calendar", "U1", 2, 1, time.Second, false, "max iterations")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "audit.event_type=agent_completed") {
		t.Errorf("log output = %s", out)
	}
	if _, err := l.Query(context.Background(), Filter{}); !errors.Is(err, ErrNoDatabase) {
		t.Errorf("query err = %v", err)
	}
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	l.LogMessageReceived(context.Background(), "U1", "", "", "hi")
	l.ToolObserver()(context.Background(), "x", nil, tools.Result{}, 0)
}
