package usermemory

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/llm"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRememberRecall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Remember(ctx, "U1", "default_calendar", "personal", TypePreference, "user", 1); err != nil {
		t.Fatal(err)
	}
	m, err := s.Remember(ctx, "U1", "default_calendar", "work", TypePreference, "user", 1)
	if err != nil {
		t.Fatal(err)
	}
	if m.Value != "work" {
		t.Errorf("value after upsert = %q", m.Value)
	}

	got, err := s.Recall(ctx, "U1", "default_calendar")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessCount != 1 || got.Type != TypePreference {
		t.Errorf("recalled %+v", got)
	}
	if _, err := s.Recall(ctx, "U2", "default_calendar"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user recall err = %v, want ErrNotFound", err)
	}
}

func TestUsageCountFailureLogged(t *testing.T) {
	s := newTestStore(t)
	var logs bytes.Buffer
	s.logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	if _, err := s.Remember(ctx, "U1", "employer", "Example Labs", TypeFact, "", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.AddContactAlias(ctx, "U1", "ada", "ada@example.com", "Ada", "user"); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"memories", "contact_aliases"} {
		if _, err := s.db.Exec(`CREATE TRIGGER no_update_` + table + ` BEFORE UPDATE ON ` + table +
			` BEGIN SELECT RAISE(ABORT, 'read only'); END`); err != nil {
			t.Fatal(err)
		}
	}

	m, err := s.Recall(ctx, "U1", "employer")
	if err != nil || m.AccessCount != 0 {
		t.Errorf("recall = %+v, %v", m, err)
	}
	c, err := s.ResolveContact(ctx, "U1", "ada")
	if err != nil || c.UseCount != 1 {
		t.Errorf("resolve = %+v, %v", c, err)
	}
	for _, want := range []string{"count memory access failed", "count alias use failed"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log missing %q:\n%s", want, logs.String())
		}
	}
}

func TestRememberRejectsUnknownType(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Remember(context.Background(), "U1", "k", "v", Type("mood"), "", 1); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestRecallAllAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Remember(ctx, "U1", "employer", "Works at Example Labs", TypeFact, "", 1)
	s.Remember(ctx, "U1", "meeting_time", "Prefers mornings", TypePreference, "", 1)
	s.Recall(ctx, "U1", "meeting_time")

	all, err := s.RecallAll(ctx, "U1", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Key != "meeting_time" {
		t.Errorf("RecallAll order = %v", keys(all))
	}

	facts, _ := s.RecallAll(ctx, "U1", TypeFact, 10)
	if len(facts) != 1 || facts[0].Key != "employer" {
		t.Errorf("facts = %v", keys(facts))
	}

	found, _ := s.Search(ctx, "U1", "labs", 5)
	if len(found) != 1 || found[0].Key != "employer" {
		t.Errorf("search = %v", keys(found))
	}
}

func TestForget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Remember(ctx, "U1", "a", "1", TypeFact, "", 1)
	s.Remember(ctx, "U1", "b", "2", TypeFact, "", 1)
	s.AddContactAlias(ctx, "U1", "ada", "ada@example.com", "", "user")

	if err := s.Forget(ctx, "U1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, "U1", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second forget err = %v", err)
	}

	n, err := s.ForgetAll(ctx, "U1")
	if err != nil || n != 1 {
		t.Fatalf("ForgetAll = %d, %v", n, err)
	}
	st, _ := s.Stats(ctx, "U1")
	if st.TotalMemories != 0 || st.ContactAliases != 0 {
		t.Errorf("stats after ForgetAll = %+v", st)
	}
}

func TestContactAliases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddContactAlias(ctx, "U1", " Ada ", "ada@example.com", "Ada Lovelace", "user"); err != nil {
		t.Fatal(err)
	}
	s.AddContactAlias(ctx, "U1", "ada", "ada@lab.example", "Ada Lovelace", "user")
	s.AddContactAlias(ctx, "U1", "bob", "bob@example.com", "", "user")

	c, err := s.ResolveContact(ctx, "U1", "ADA")
	if err != nil {
		t.Fatal(err)
	}
	if c.Email != "ada@lab.example" || c.UseCount != 3 {
		t.Errorf("resolved %+v", c)
	}
	if _, err := s.ResolveContact(ctx, "U1", "carol"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing alias err = %v", err)
	}

	top, _ := s.FrequentContacts(ctx, "U1", 10)
	if len(top) != 2 || top[0].Alias != "ada" {
		t.Errorf("frequent = %+v", top)
	}
}

func TestContextSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if got, _ := s.ContextSummary(ctx, "U1", 10); got != "" {
		t.Errorf("empty summary = %q", got)
	}

	s.Remember(ctx, "U1", "employer", "Example Labs", TypeFact, "", 1)
	s.AddContactAlias(ctx, "U1", "ada", "ada@example.com", "Ada Lovelace", "user")
	s.AddContactAlias(ctx, "U1", "bob", "bob@example.com", "", "user")

	want := "What I know about this user:\n- employer: Example Labs\n\nKnown contacts:\n" +
		"- \"ada\" refers to ada@example.com (Ada Lovelace)\n- \"bob\" refers to bob@example.com"
	if got, _ := s.ContextSummary(ctx, "U1", 10); got != want {
		t.Errorf("summary:\n%s\nwant:\n%s", got, want)
	}
}

type replyLLM struct {
	reply string
	req   llm.Request
}

func (r *replyLLM) Chat(_ context.Context, req llm.Request) (*llm.ChatResponse, error) {
	r.req = req
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: r.reply}}, nil
}

func (r *replyLLM) ChatStream(ctx context.Context, req llm.Request, _ llm.StreamCallback) (*llm.ChatResponse, error) {
	return r.Chat(ctx, req)
}

func (r *replyLLM) Ping(context.Context) error { return nil }

func TestLLMExtractor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	client := &replyLLM{reply: "```json\n[" +
		`{"type":"contact","key":"Jen","value":"jennifer@example.com"},` +
		`{"type":"preference","key":"default_calendar","value":"work"},` +
		`{"type":"mood","key":"x","value":"y"}` +
		"]\n```"}

	ex := NewLLMExtractor(s, client, "small", nil)
	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "email jen, that's jennifer@example.com"},
		{Role: conversation.RoleAssistant, Content: "Draft created."},
	}
	if err := ex.Extract(ctx, "U1", turns); err != nil {
		t.Fatal(err)
	}

	if client.req.Model != "small" || !strings.Contains(client.req.Messages[0].Content, "user: email jen") {
		t.Errorf("request = %+v", client.req)
	}
	if c, err := s.ResolveContact(ctx, "U1", "jen"); err != nil || c.Email != "jennifer@example.com" {
		t.Errorf("alias = %+v, %v", c, err)
	}
	m, err := s.Recall(ctx, "U1", "default_calendar")
	if err != nil || m.Source != SourceConversation {
		t.Errorf("memory = %+v, %v", m, err)
	}
	if st, _ := s.Stats(ctx, "U1"); st.TotalMemories != 1 {
		t.Errorf("unknown type stored: %+v", st)
	}
}

func TestLLMExtractor_BadJSON(t *testing.T) {
	ex := NewLLMExtractor(newTestStore(t), &replyLLM{reply: "I found nothing"}, "small", nil)
	err := ex.Extract(context.Background(), "U1", []conversation.Turn{{Role: conversation.RoleUser, Content: "hi"}})
	if err == nil {
		t.Error("expected parse error")
	}
}

func keys(ms []*Memory) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Key
	}
	return out
}
