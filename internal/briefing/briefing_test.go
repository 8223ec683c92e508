package briefing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hanig/hani-replica/internal/calendar"
	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/forge"
	"github.com/hanig/hani-replica/internal/todoist"
)

type fakeCal struct {
	events []calendar.Event
	err    error
}

func (f fakeCal) EventsForDate(context.Context, time.Time) ([]calendar.Event, error) {
	return f.events, f.err
}

type fakeMail struct{ counts email.UnreadCounts }

func (f fakeMail) UnreadCounts(context.Context) (email.UnreadCounts, error) { return f.counts, nil }

type fakeForge struct{ err error }

func (f fakeForge) MyPRs(context.Context, string, string, int) ([]forge.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []forge.SearchResult{{Kind: "issue", IsPR: true, Title: "Add thing", Number: 4}}, nil
}

func (f fakeForge) MyIssues(context.Context, string, string, int) ([]forge.SearchResult, error) {
	return []forge.SearchResult{{Kind: "issue", Title: "Bug", Number: 9}, {Kind: "issue", Title: "Bug 2", Number: 10}}, nil
}

type fakeTasks struct{ filter string }

func (f *fakeTasks) Tasks(_ context.Context, _, filter string) ([]todoist.Task, error) {
	f.filter = filter
	return []todoist.Task{{ID: "1", Content: "File taxes", Due: &todoist.Due{Date: "2024-01-01"}}}, nil
}

func TestBuild(t *testing.T) {
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	tasks := &fakeTasks{}
	b := &Builder{
		Calendar: fakeCal{events: []calendar.Event{{Title: "Standup", Start: now.Add(time.Hour)}}},
		Mail:     fakeMail{counts: email.UnreadCounts{Accounts: map[string]int{"work": 3, "home": 0}, Total: 3}},
		Forge:    fakeForge{},
		Tasks:    tasks,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	br := b.Build(context.Background(), now)

	if br.Date != "Wednesday, January 10, 2024" {
		t.Errorf("Date = %q", br.Date)
	}
	if len(br.Events) != 1 || br.TotalUnread != 3 || len(br.OpenPRs) != 1 || len(br.OpenIssues) != 2 {
		t.Errorf("briefing = %+v", br)
	}
	if tasks.filter != "overdue" {
		t.Errorf("task filter = %q", tasks.filter)
	}

	out := Format(br)
	for _, want := range []string{"1 event today", "09:00 Standup", "work: 3", "1 open PRs, 2 assigned issues", "File taxes (due 2024-01-01)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "home: 0") {
		t.Error("zero-count accounts should be omitted")
	}
}

func TestBuild_BestEffort(t *testing.T) {
	b := &Builder{
		Calendar: fakeCal{err: errors.New("caldav down")},
		Forge:    fakeForge{err: errors.New("rate limited")},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	br := b.Build(context.Background(), time.Now())
	if br.Events == nil || len(br.Events) != 0 {
		t.Errorf("Events = %v, want empty non-nil", br.Events)
	}
	if len(br.OpenPRs) != 0 || len(br.OpenIssues) != 2 {
		t.Errorf("forge parts = %d PRs %d issues", len(br.OpenPRs), len(br.OpenIssues))
	}
	if !strings.Contains(Format(br), "0 events today") {
		t.Error("empty calendar should still render")
	}
}
