package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hanig/hani-replica/internal/briefing"
	"github.com/hanig/hani-replica/internal/calendar"
	"github.com/hanig/hani-replica/internal/contacts"
	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/fetch"
	"github.com/hanig/hani-replica/internal/forge"
	"github.com/hanig/hani-replica/internal/notion"
	"github.com/hanig/hani-replica/internal/search"
	"github.com/hanig/hani-replica/internal/todoist"
)

// CalendarService reads calendars.
type CalendarService interface {
	EventsForDate(ctx context.Context, day time.Time) ([]calendar.Event, error)
	EventsBetween(ctx context.Context, start, end time.Time) ([]calendar.Event, error)
	FreeSlotsWithin(ctx context.Context, day time.Time, startHour, endHour, durationMin int) ([]calendar.Slot, error)
}

// MailService reads mailboxes.
type MailService interface {
	Search(ctx context.Context, account string, opts email.SearchOptions) ([]email.Envelope, error)
	UnreadCounts(ctx context.Context) (email.UnreadCounts, error)
}

// ForgeService reads the code forge.
type ForgeService interface {
	MyPRs(ctx context.Context, account, state string, max int) ([]forge.SearchResult, error)
	MyIssues(ctx context.Context, account, state string, max int) ([]forge.SearchResult, error)
	SearchCode(ctx context.Context, account, query, repo string, max int) ([]forge.SearchResult, error)
	SearchIssues(ctx context.Context, account, query string, max int) ([]forge.SearchResult, error)
}

// Directory looks up people.
type Directory interface {
	Find(query string, limit int) ([]*contacts.Contact, error)
	Get(id uuid.UUID) (*contacts.Contact, error)
	IsKnownEmail(addr string) bool
}

// WebSearcher searches the web.
type WebSearcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// PageReader downloads a web page as text.
type PageReader interface {
	Fetch(ctx context.Context, url string, maxChars int) (*fetch.Page, error)
}

// TaskService manages Todoist tasks.
type TaskService interface {
	Tasks(ctx context.Context, project, filter string) ([]todoist.Task, error)
	CreateTask(ctx context.Context, nt todoist.NewTask) (*todoist.Task, error)
	CompleteTask(ctx context.Context, id string) (string, error)
}

// NotionService reads and writes Notion.
type NotionService interface {
	Search(ctx context.Context, query string, max int) ([]notion.Page, error)
	PageWithText(ctx context.Context, id string, maxBlocks int) (*notion.Page, string, error)
	CreatePage(ctx context.Context, databaseID, title string, props map[string]any, content string) (*notion.Page, error)
}

// BriefingBuilder assembles the daily briefing.
type BriefingBuilder interface {
	Build(ctx context.Context, now time.Time) briefing.Briefing
}

// RelevanceSource supplies per-user source scores for ranking.
type RelevanceSource interface {
	RelevanceScores(ctx context.Context, userID string) (map[string]float64, error)
}

// Services are the collaborators tools call. Nil fields make the
// matching tools fail with a "not configured" error.
type Services struct {
	Calendar  CalendarService
	Mail      MailService
	Forge     ForgeService
	People    Directory
	Web       WebSearcher
	Pages     PageReader
	Todoist   TaskService
	Notion    NotionService
	Briefing  BriefingBuilder
	Relevance RelevanceSource

	// DirectSend registers SendEmailTool.
	DirectSend bool

	// Location is the user's time zone. Default UTC.
	Location *time.Location
	Now      func() time.Time
}

func (s *Services) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return now().In(loc)
}

// NewRegistry returns a registry holding every tool backed by svc.
func NewRegistry(svc Services) *Registry {
	r := NewEmptyRegistry()
	s := &svc
	r.registerCalendarTools(s)
	r.registerEmailTools(s)
	r.registerPeopleTools(s)
	r.registerForgeTools(s)
	r.registerSearchTools(s)
	r.registerTodoistTools(s)
	r.registerNotionTools(s)
	r.registerBriefingTool(s)
	r.registerRespondTool()
	return r
}
