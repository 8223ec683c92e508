package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hanig/hani-replica/internal/action"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, store *Store) (*Manager, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
	m := NewManager(Config{}, store, discardLogger())
	m.now = clk.now
	return m, clk
}

func TestHistoryCapped(t *testing.T) {
	m, _ := newTestManager(t, nil)
	c := m.GetOrCreate("U1", "C1", "")
	for i := 0; i < 25; i++ {
		c.AddTurn(RoleUser, fmt.Sprintf("msg %d", i))
	}
	h := c.History()
	if len(h) != DefaultMaxHistory {
		t.Fatalf("len = %d, want %d", len(h), DefaultMaxHistory)
	}
	if h[0].Content != "msg 5" || h[len(h)-1].Content != "msg 24" {
		t.Errorf("kept %q..%q", h[0].Content, h[len(h)-1].Content)
	}
	if r := c.RecentHistory(3); len(r) != 3 || r[2].Content != "msg 24" {
		t.Errorf("recent = %+v", r)
	}
}

func TestKey(t *testing.T) {
	if got := Key("U1", "C1", ""); got != "U1:C1:main" {
		t.Errorf("Key = %q", got)
	}
	if got := Key("U1", "C1", "171.2"); got != "U1:C1:171.2" {
		t.Errorf("Key = %q", got)
	}
}

func TestGetOrCreate_SameContext(t *testing.T) {
	m, _ := newTestManager(t, nil)
	a := m.GetOrCreate("U1", "C1", "T1")
	b := m.GetOrCreate("U1", "C1", "T1")
	if a != b {
		t.Error("expected same context for same key")
	}
	if m.GetOrCreate("U1", "C1", "T2") == a {
		t.Error("different thread should get a different context")
	}
}

func TestExpiryDropsPending(t *testing.T) {
	m, clk := newTestManager(t, nil)
	c := m.GetOrCreate("U1", "C1", "")
	a := action.NewCreateIssue(action.Issue{Repo: "o/r", Title: "x"})
	c.SetPending(a)

	clk.advance(31 * time.Minute)
	if got := m.Get("U1", "C1", ""); got != nil {
		t.Error("expired context should not be returned without a store")
	}
	if _, err := c.ClaimPending(a.ID); !errors.Is(err, action.ErrExpired) {
		t.Errorf("claim after expiry = %v, want ErrExpired", err)
	}
}

func TestCleanupEvicts(t *testing.T) {
	m, clk := newTestManager(t, nil)
	m.GetOrCreate("U1", "C1", "")
	clk.advance(10 * time.Minute)
	m.GetOrCreate("U2", "C1", "")
	clk.advance(25 * time.Minute)

	if n := m.Cleanup(); n != 1 {
		t.Errorf("evicted = %d, want 1", n)
	}
	if m.Stats()["active_conversations"] != 1 {
		t.Errorf("stats = %v", m.Stats())
	}
}

func TestClaimPending(t *testing.T) {
	m, _ := newTestManager(t, nil)
	c := m.GetOrCreate("U1", "C1", "")

	if _, err := c.ClaimPending("any"); !errors.Is(err, action.ErrExpired) {
		t.Errorf("empty slot = %v", err)
	}

	a := action.NewCreateIssue(action.Issue{Repo: "o/r", Title: "x"})
	c.SetPending(a)
	if _, err := c.ClaimPending("other"); !errors.Is(err, action.ErrMismatch) {
		t.Errorf("mismatch = %v", err)
	}
	if c.Pending() != nil {
		t.Error("mismatch should clear the slot")
	}

	c.SetPending(a)
	got, err := c.ClaimPending(a.ID)
	if err != nil || got != a {
		t.Errorf("claim = %v, %v", got, err)
	}
}

func TestUpdatePending(t *testing.T) {
	m, _ := newTestManager(t, nil)
	c := m.GetOrCreate("U1", "C1", "")

	if _, _, ok := c.UpdatePending("hello"); ok {
		t.Error("empty slot should not take input")
	}

	a := action.NewCreateDraft(action.Mail{To: "jane@x.com"})
	c.SetPending(a)
	prompt, conf, ok := c.UpdatePending("Lunch")
	if !ok || conf != nil || prompt != "What should the email say?" {
		t.Errorf("first field = %q, %+v, %v", prompt, conf, ok)
	}
	prompt, conf, ok = c.UpdatePending("Noon?")
	if !ok || conf == nil || conf.ActionID != a.ID || prompt != conf.Text {
		t.Fatalf("ready = %q, %+v, %v", prompt, conf, ok)
	}
	if _, _, ok := c.UpdatePending("more"); ok {
		t.Error("ready action should not take more input")
	}

	if _, err := c.ClaimPending(a.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, _, ok := c.UpdatePending("late"); ok {
		t.Error("claimed action should not be re-parked by input")
	}
	if _, err := c.ClaimPending(a.ID); !errors.Is(err, action.ErrExpired) {
		t.Errorf("second claim = %v, want ErrExpired", err)
	}
}

func TestUpdatePending_ConcurrentClaimOnce(t *testing.T) {
	m, _ := newTestManager(t, nil)
	for range 50 {
		c := m.GetOrCreate("U1", "C1", "")
		a := action.NewCreateDraft(action.Mail{To: "jane@x.com", Subject: "Lunch"})
		c.SetPending(a)

		var claims atomic.Int32
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			c.UpdatePending("Noon?")
		}()
		for range 2 {
			go func() {
				defer wg.Done()
				for range 20 {
					if got, err := c.ClaimPending(a.ID); err == nil && got.IsReady() {
						claims.Add(1)
					}
				}
			}()
		}
		wg.Wait()
		if n := claims.Load(); n > 1 {
			t.Fatalf("ready action claimed %d times", n)
		}
	}
}

func TestFindPendingContext(t *testing.T) {
	m, clk := newTestManager(t, nil)
	older := m.GetOrCreate("U1", "C1", "T1")
	a := action.NewCreateIssue(action.Issue{Repo: "o/r", Title: "x"})
	older.SetPending(a)

	clk.advance(time.Minute)
	newer := m.GetOrCreate("U1", "C1", "T2")
	b := action.NewCreateIssue(action.Issue{Repo: "o/r", Title: "y"})
	newer.SetPending(b)

	if got := m.FindPendingContext("U1", "C1", a.ID); got != older {
		t.Error("should match by action ID")
	}
	if got := m.FindPendingContext("U1", "C1", ""); got != newer {
		t.Error("should fall back to most recent")
	}
	if m.FindPendingContext("U2", "C1", "") != nil {
		t.Error("other user should have none")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	m, clk := newTestManager(t, store)

	c := m.GetOrCreate("U1", "C1", "T1")
	c.AddTurn(RoleUser, "what's on my calendar?")
	c.AddTurn(RoleAssistant, "Two meetings.")
	c.SetMetadata("last_agent", "calendar")
	c.SetPending(action.NewCreateIssue(action.Issue{Repo: "o/r", Title: "x"}))
	m.Update(c)
	if n := m.Flush(); n != 1 {
		t.Errorf("flushed = %d", n)
	}

	// A fresh manager restores history but not the pending action.
	m2 := NewManager(Config{}, store, discardLogger())
	m2.now = func() time.Time { return clk.t }
	got := m2.Get("U1", "C1", "T1")
	if got == nil {
		t.Fatal("conversation not restored")
	}
	h := got.History()
	if len(h) != 2 || h[1].Content != "Two meetings." {
		t.Errorf("history = %+v", h)
	}
	if v, _ := got.Metadata("last_agent"); v != "calendar" {
		t.Errorf("metadata = %v", v)
	}
	if got.Pending() != nil {
		t.Error("pending action must not survive a restart")
	}
}

func TestGet_ReloadsAfterIdle(t *testing.T) {
	store := newTestStore(t)
	m, clk := newTestManager(t, store)
	c := m.GetOrCreate("U1", "C1", "")
	c.AddTurn(RoleUser, "hello")
	c.SetPending(action.NewCreateIssue(action.Issue{Repo: "o/r", Title: "x"}))

	clk.advance(2 * time.Hour)
	got := m.Get("U1", "C1", "")
	if got == nil {
		t.Fatal("expected reload from store within persisted TTL")
	}
	if got == c {
		t.Error("expected a fresh context after eviction")
	}
	if len(got.History()) != 1 || got.Pending() != nil {
		t.Errorf("reloaded history=%d pending=%v", len(got.History()), got.Pending())
	}

	clk.advance(8 * 24 * time.Hour)
	m.Cleanup()
	if m.Get("U1", "C1", "") != nil {
		t.Error("conversation older than persisted TTL should be gone")
	}
}

func TestDeleteAndUserHistory(t *testing.T) {
	store := newTestStore(t)
	m, clk := newTestManager(t, store)
	for i, thread := range []string{"a", "b", "c"} {
		c := m.GetOrCreate("U1", "C1", thread)
		c.AddTurn(RoleUser, thread)
		clk.advance(time.Duration(i+1) * time.Minute)
	}
	m.PersistAll()

	hist := m.UserHistory("U1", 2)
	if len(hist) != 2 || hist[0].ThreadID != "c" {
		t.Errorf("history = %d, first = %v", len(hist), hist)
	}

	if !m.Delete("U1", "C1", "a") {
		t.Error("delete should report success")
	}
	if m.Delete("U1", "C1", "a") {
		t.Error("second delete should report nothing removed")
	}
	total, users, err := store.Stats()
	if err != nil || total != 2 || users != 1 {
		t.Errorf("store stats = %d %d %v", total, users, err)
	}
}

func TestRunPersistsOnShutdown(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(Config{PersistInterval: time.Hour, CleanupInterval: time.Hour}, store, discardLogger())
	c := m.GetOrCreate("U1", "C1", "")
	c.AddTurn(RoleUser, "hi")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	r, err := store.load(Key("U1", "C1", ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(r.History) != 1 {
		t.Errorf("history = %+v", r.History)
	}
}
