// Package specialist defines the domain agents the orchestrator routes
// to. Each specialist is an agent loop restricted to one tool set, plus a
// heuristic that scores how well a message fits its domain.
package specialist

import (
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/hanig/hani-replica/internal/agent"
	"github.com/hanig/hani-replica/internal/config"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/prompts"
	"github.com/hanig/hani-replica/internal/tools"
)

// Type names a specialist.
type Type string

// Specialist types, in scoring tie-break order.
const (
	Calendar Type = "calendar"
	Email    Type = "email"
	GitHub   Type = "github"
	Research Type = "research"
)

// Types lists every specialist type in tie-break order.
var Types = []Type{Calendar, Email, GitHub, Research}

// Specialist is a domain agent.
type Specialist struct {
	Type          Type
	SystemPrompt  string
	ToolNames     []string
	MaxIterations int

	score func(msg string) float64
	loop  *agent.Loop
}

// Score returns the specialist's confidence in [0,1] that it can handle
// msg.
func (s *Specialist) Score(msg string) float64 { return s.score(msg) }

// Loop returns the specialist's agent loop.
func (s *Specialist) Loop() *agent.Loop { return s.loop }

// Deps are what every specialist loop is built from.
type Deps struct {
	Client   llm.Client
	Executor *tools.Executor
	Logger   *slog.Logger

	Model        string
	MaxTokens    int
	HistoryTurns int
	Location     *time.Location
	Routing      config.RoutingConfig

	Summarizer agent.MemorySummarizer
	Extractor  agent.MemoryExtractor
	People     agent.PeopleContext
}

// Tool sets.
var (
	calendarTools = []string{"GetCalendarEventsTool", "CheckAvailabilityTool", tools.RespondToUser}
	emailTools    = []string{"SearchEmailsTool", "GetUnreadCountsTool", "CreateEmailDraftTool", "SendEmailTool", "FindPersonTool", tools.RespondToUser}
	githubTools   = []string{"GetGitHubPRsTool", "GetGitHubIssuesTool", "SearchGitHubCodeTool", "CreateGitHubIssueTool", "CommentGitHubIssueTool", tools.RespondToUser}
	researchTools = []string{
		"SemanticSearchTool", "SearchWebTool", "ReadWebPageTool", "FindPersonTool", "GetPersonActivityTool", "GetDailyBriefingTool",
		"ListTodoistTasksTool", "CreateTodoistTaskTool", "CompleteTodoistTaskTool",
		"SearchNotionTool", "GetNotionPageTool", "CreateNotionPageTool",
		tools.RespondToUser,
	}
)

// NewAll builds the four specialists, keyed by type.
func NewAll(d Deps) map[Type]*Specialist {
	r := d.Routing
	r.ApplyDefaults()
	sc := newScorer(r)

	specs := []*Specialist{
		{Type: Calendar, SystemPrompt: prompts.CalendarSpecialist, ToolNames: calendarTools, MaxIterations: 4, score: sc.calendar},
		{Type: Email, SystemPrompt: prompts.EmailSpecialist, ToolNames: emailTools, MaxIterations: 5, score: sc.email},
		{Type: GitHub, SystemPrompt: prompts.GitHubSpecialist, ToolNames: githubTools, MaxIterations: 5, score: sc.github},
		{Type: Research, SystemPrompt: prompts.ResearchSpecialist, ToolNames: researchTools, MaxIterations: 6, score: sc.research},
	}

	out := make(map[Type]*Specialist, len(specs))
	for _, s := range specs {
		s.loop = agent.New(agent.Config{
			Type:          string(s.Type),
			SystemPrompt:  s.SystemPrompt,
			ToolNames:     s.ToolNames,
			MaxIterations: s.MaxIterations,
			HistoryTurns:  d.HistoryTurns,
			Model:         d.Model,
			MaxTokens:     d.MaxTokens,
			Location:      d.Location,
		}, d.Client, d.Executor, d.Logger)
		s.loop.SetMemory(d.Summarizer, d.Extractor)
		s.loop.SetPeople(d.People)
		out[s.Type] = s
	}
	return out
}

// NewGeneral builds the single-agent mode loop: the research prompt over
// every registered tool.
func NewGeneral(d Deps, maxIterations int) *agent.Loop {
	loop := agent.New(agent.Config{
		Type:          "general",
		SystemPrompt:  prompts.ResearchSpecialist,
		MaxIterations: maxIterations,
		HistoryTurns:  d.HistoryTurns,
		Model:         d.Model,
		MaxTokens:     d.MaxTokens,
		Location:      d.Location,
	}, d.Client, d.Executor, d.Logger)
	loop.SetMemory(d.Summarizer, d.Extractor)
	loop.SetPeople(d.People)
	return loop
}

var issueNumber = regexp.MustCompile(`#\d+`)

type scorer struct {
	calendar func(string) float64
	email    func(string) float64
	github   func(string) float64
	research func(string) float64
}

func newScorer(r config.RoutingConfig) *scorer {
	calendarKW := toSet(r.CalendarKeywords)
	emailKW := toSet(r.EmailKeywords)
	githubKW := toSet(r.GitHubKeywords)
	researchKW := toSet(r.ResearchKeywords)

	s := &scorer{}

	s.calendar = func(msg string) float64 {
		lower := strings.ToLower(msg)
		if n := overlap(Words(lower), calendarKW); n > 0 {
			return min(0.3+0.15*float64(n), 0.95)
		}
		if containsAny(lower, r.DateIndicators) {
			return 0.4
		}
		return 0
	}

	s.email = func(msg string) float64 {
		lower := strings.ToLower(msg)
		if n := overlap(Words(lower), emailKW); n > 0 {
			return min(0.3+0.15*float64(n), 0.95)
		}
		if strings.Contains(msg, "@") || strings.Contains(lower, "draft") {
			return 0.6
		}
		if strings.Contains(lower, "unread") || strings.Contains(lower, "inbox") {
			return 0.7
		}
		return 0
	}

	s.github = func(msg string) float64 {
		lower := strings.ToLower(msg)
		if n := overlap(Words(lower), githubKW); n > 0 {
			return min(0.3+0.2*float64(n), 0.95)
		}
		if strings.Contains(msg, "/") && strings.IndexFunc(msg, isAlnum) >= 0 {
			return 0.3
		}
		if issueNumber.MatchString(msg) {
			return 0.5
		}
		return 0
	}

	s.research = func(msg string) float64 {
		lower := strings.ToLower(msg)
		if containsAny(lower, r.TaskWords) {
			return 0.9
		}
		if strings.Contains(lower, "notion") {
			return 0.9
		}
		if n := overlap(Words(lower), researchKW); n > 0 {
			return min(0.2+0.1*float64(n), 0.7)
		}
		for _, q := range r.QuestionWords {
			if strings.HasPrefix(lower, q) {
				return r.QuestionBonus
			}
		}
		if strings.Contains(lower, "briefing") || strings.Contains(lower, "overview") {
			return 0.8
		}
		return 0.1
	}
	return s
}

// Words returns the set of lowercase words in s with surrounding
// punctuation stripped. Inner hyphens and apostrophes are kept so
// "to-do" and "what's" stay whole.
func Words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		w := strings.TrimFunc(f, func(r rune) bool { return !isAlnum(r) })
		if w != "" {
			out[w] = true
		}
	}
	return out
}

func isAlnum(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func toSet(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[strings.ToLower(w)] = true
	}
	return out
}

func overlap(words, keywords map[string]bool) int {
	n := 0
	for w := range words {
		if keywords[w] {
			n++
		}
	}
	return n
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
