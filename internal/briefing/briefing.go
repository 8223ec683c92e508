// Package briefing assembles the daily overview: today's calendar,
// unread mail, open pull requests and issues, and overdue tasks. Every
// part is best effort; a failing source is logged and left empty.
package briefing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/calendar"
	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/forge"
	"github.com/hanig/hani-replica/internal/todoist"
)

// Sources the briefing reads from. Any may be nil.
type (
	Calendar interface {
		EventsForDate(ctx context.Context, day time.Time) ([]calendar.Event, error)
	}
	Mail interface {
		UnreadCounts(ctx context.Context) (email.UnreadCounts, error)
	}
	Forge interface {
		MyPRs(ctx context.Context, account, state string, max int) ([]forge.SearchResult, error)
		MyIssues(ctx context.Context, account, state string, max int) ([]forge.SearchResult, error)
	}
	Tasks interface {
		Tasks(ctx context.Context, project, filter string) ([]todoist.Task, error)
	}
)

// Briefing is one day's overview.
type Briefing struct {
	Date         string               `json:"date"`
	Events       []calendar.Event     `json:"events"`
	UnreadCounts map[string]int       `json:"unread_counts"`
	TotalUnread  int                  `json:"total_unread"`
	OpenPRs      []forge.SearchResult `json:"open_prs"`
	OpenIssues   []forge.SearchResult `json:"open_issues"`
	OverdueTasks []todoist.Task       `json:"overdue_tasks"`
}

// Builder gathers a Briefing.
type Builder struct {
	Calendar Calendar
	Mail     Mail
	Forge    Forge
	Tasks    Tasks

	// MaxItems caps the PR and issue lists. Default 10.
	MaxItems int

	Logger *slog.Logger
}

// Build collects the briefing for the day containing now.
func (b *Builder) Build(ctx context.Context, now time.Time) Briefing {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	max := b.MaxItems
	if max <= 0 {
		max = 10
	}

	out := Briefing{
		Date:         now.Format("Monday, January 02, 2006"),
		Events:       []calendar.Event{},
		UnreadCounts: map[string]int{},
		OpenPRs:      []forge.SearchResult{},
		OpenIssues:   []forge.SearchResult{},
		OverdueTasks: []todoist.Task{},
	}

	if b.Calendar != nil {
		if evs, err := b.Calendar.EventsForDate(ctx, now); err != nil {
			logger.Warn("briefing calendar failed", "error", err)
		} else {
			out.Events = evs
		}
	}
	if b.Mail != nil {
		if uc, err := b.Mail.UnreadCounts(ctx); err != nil {
			logger.Warn("briefing unread counts failed", "error", err)
		} else {
			out.UnreadCounts = uc.Accounts
			out.TotalUnread = uc.Total
		}
	}
	if b.Forge != nil {
		if prs, err := b.Forge.MyPRs(ctx, "", "open", max); err != nil {
			logger.Warn("briefing pull requests failed", "error", err)
		} else {
			out.OpenPRs = prs
		}
		if issues, err := b.Forge.MyIssues(ctx, "", "open", max); err != nil {
			logger.Warn("briefing issues failed", "error", err)
		} else {
			out.OpenIssues = issues
		}
	}
	if b.Tasks != nil {
		if tasks, err := b.Tasks.Tasks(ctx, "", "overdue"); err != nil {
			logger.Warn("briefing overdue tasks failed", "error", err)
		} else {
			out.OverdueTasks = tasks
		}
	}
	return out
}

// Format renders the briefing as Markdown.
func Format(br Briefing) string {
	var sb strings.Builder
	sb.WriteString("## Daily Briefing\n")
	sb.WriteString("_" + br.Date + "_\n\n")

	fmt.Fprintf(&sb, "**Calendar:** %d %s today\n", len(br.Events), plural(len(br.Events), "event", "events"))
	for i, e := range br.Events {
		if i == 3 {
			fmt.Fprintf(&sb, "- ... and %d more\n", len(br.Events)-3)
			break
		}
		if e.AllDay {
			fmt.Fprintf(&sb, "- %s (all day)\n", e.Title)
		} else {
			fmt.Fprintf(&sb, "- %s %s\n", e.Start.Format("15:04"), e.Title)
		}
	}

	fmt.Fprintf(&sb, "\n**Unread email:** %d total\n", br.TotalUnread)
	accounts := make([]string, 0, len(br.UnreadCounts))
	for name, n := range br.UnreadCounts {
		if n > 0 {
			accounts = append(accounts, name)
		}
	}
	sort.Strings(accounts)
	if len(accounts) > 4 {
		accounts = accounts[:4]
	}
	if len(accounts) > 0 {
		parts := make([]string, len(accounts))
		for i, name := range accounts {
			parts[i] = fmt.Sprintf("%s: %d", name, br.UnreadCounts[name])
		}
		sb.WriteString("- " + strings.Join(parts, ", ") + "\n")
	}

	fmt.Fprintf(&sb, "\n**GitHub:** %d open PRs, %d assigned issues\n", len(br.OpenPRs), len(br.OpenIssues))

	fmt.Fprintf(&sb, "\n**Overdue tasks:** %d\n", len(br.OverdueTasks))
	for i, t := range br.OverdueTasks {
		if i == 3 {
			break
		}
		sb.WriteString("- " + t.Content)
		if d := t.DueText(); d != "" {
			sb.WriteString(" (due " + d + ")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
