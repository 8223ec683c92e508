package feedback

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

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

func TestRelevanceScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.RecordResultClick(ctx, "U1", "budget", "m1", "email", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Record(ctx, Event{UserID: "U1", Query: "budget", Type: ResultSkip, ResultSource: "notion"}); err != nil {
		t.Fatal(err)
	}

	scores, err := s.RelevanceScores(ctx, "U1")
	if err != nil {
		t.Fatal(err)
	}
	// (3+1)/(3+0+2) and (0+1)/(0+1+2)
	if math.Abs(scores["email"]-0.8) > 1e-9 {
		t.Errorf("email = %v, want 0.8", scores["email"])
	}
	if math.Abs(scores["notion"]-1.0/3) > 1e-9 {
		t.Errorf("notion = %v, want 1/3", scores["notion"])
	}

	rank, err := s.SourceRanking(ctx, "U1")
	if err != nil || len(rank) != 2 || rank[0] != "email" {
		t.Errorf("ranking = %v, %v", rank, err)
	}
}

func TestRecordQueryPattern_EMA(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := NormalizePattern("  What's   on my CALENDAR ")
	if p != "what's on my calendar" {
		t.Fatalf("NormalizePattern = %q", p)
	}

	s.RecordQueryPattern(ctx, "U1", p, "calendar", true)
	s.RecordQueryPattern(ctx, "U1", p, "calendar", false)
	s.RecordQueryPattern(ctx, "U1", "list prs", "github", true)

	pats, err := s.CommonPatterns(ctx, "U1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pats) != 2 || pats[0].Pattern != p || pats[0].Count != 2 {
		t.Fatalf("patterns = %+v", pats)
	}
	if math.Abs(pats[0].SuccessRate-0.8) > 1e-9 {
		t.Errorf("success rate = %v, want 0.8", pats[0].SuccessRate)
	}
}

func TestCorrections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.RecordCorrection(ctx, "U1", "email bob", "bob@work.com", "contact", "bob@home.com"); err != nil {
		t.Fatal(err)
	}
	s.RecordCorrection(ctx, "U1", "meeting friday", "2024-01-12", "date", "")

	all, err := s.Corrections(ctx, "U1", "", 10)
	if err != nil || len(all) != 2 {
		t.Fatalf("corrections = %+v, %v", all, err)
	}
	contacts, _ := s.Corrections(ctx, "U1", "contact", 10)
	if len(contacts) != 1 || contacts[0].OriginalResult != "bob@home.com" {
		t.Errorf("contact corrections = %+v", contacts)
	}

	st, err := s.Stats(ctx, "U1")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalCorrections != 2 || st.TotalEvents != 2 || st.ByType[string(Correction)] != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBoost(t *testing.T) {
	type hit struct{ id, src string }
	results := []hit{{"a", "notion"}, {"b", "email"}, {"c", "github"}, {"d", "email"}}
	scores := map[string]float64{"email": 0.9, "notion": 0.2}

	got := Boost(scores, results, func(h hit) string { return h.src })
	var order string
	for _, h := range got {
		order += h.id
	}
	// email 0.89, 0.87; github neutral 0.48; notion 0.2
	if order != "bdca" {
		t.Errorf("order = %s, want bdca", order)
	}
	if len(Boost(nil, []hit{}, func(h hit) string { return h.src })) != 0 {
		t.Error("empty input should give empty output")
	}
}

func TestCleanupOldEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Record(ctx, Event{UserID: "U1", Query: "old", Type: ResultClick, Timestamp: now.Add(-100 * 24 * time.Hour)})
	s.Record(ctx, Event{UserID: "U1", Query: "new", Type: ResultClick})

	n, err := s.CleanupOldEvents(ctx, 90*24*time.Hour)
	if err != nil || n != 1 {
		t.Errorf("deleted = %d, %v", n, err)
	}
}
