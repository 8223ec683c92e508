// Package intent is the single-shot alternative to the agent loop: one
// small-model call picks an intent and its entities, then at most one or
// two tools run and their output is formatted directly.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/prompts"
)

// Intent names.
const (
	Chat                 = "chat"
	CalendarCheck        = "calendar_check"
	CalendarAvailability = "calendar_availability"
	CalendarCreate       = "calendar_create"
	EmailSearch          = "email_search"
	EmailDraft           = "email_draft"
	GitHubPRs            = "github_prs"
	GitHubIssues         = "github_issues"
	GitHubSearch         = "github_search"
	GitHubCreateIssue    = "github_create_issue"
	PersonLookup         = "person_lookup"
	PersonActivity       = "person_activity"
	SemanticSearch       = "semantic_search"
	Briefing             = "briefing"
	TasksList            = "tasks_list"
	TasksCreate          = "tasks_create"
	NotionSearch         = "notion_search"
	Help                 = "help"
)

// Intent is a classified message.
type Intent struct {
	Name       string         `json:"intent"`
	Entities   map[string]any `json:"entities"`
	Confidence float64        `json:"confidence"`
	// Fallback is set when the keyword classifier produced the intent.
	Fallback bool `json:"-"`
}

// Entity returns a string entity, or "".
func (i Intent) Entity(key string) string {
	switch v := i.Entities[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Classifier labels messages with the intent-tier model.
type Classifier struct {
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewClassifier returns a classifier. A nil client classifies by
// keywords only.
func NewClassifier(client llm.Client, model string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{client: client, model: model, logger: logger}
}

// Classify labels text, using the last few turns of history as context.
// Any model or parse failure falls back to keyword matching.
func (c *Classifier) Classify(ctx context.Context, text string, history []conversation.Turn) Intent {
	if c.client == nil {
		return KeywordFallback(text)
	}

	lines := make([]prompts.HistoryLine, 0, len(history))
	for _, t := range history {
		lines = append(lines, prompts.HistoryLine{Role: t.Role, Content: t.Content})
	}

	resp, err := c.client.Chat(ctx, llm.Request{
		Model:     c.model,
		System:    prompts.IntentSystem,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompts.IntentUserMessage(lines, text)}},
		MaxTokens: 200,
	})
	if err != nil {
		c.logger.Warn("intent classification failed, using keywords", "error", err)
		return KeywordFallback(text)
	}

	raw := llm.StripCodeFence(llm.FirstText(resp))
	var in Intent
	if err := json.Unmarshal([]byte(raw), &in); err != nil || in.Name == "" {
		c.logger.Warn("unparseable intent response, using keywords", "response", raw)
		return KeywordFallback(text)
	}
	if in.Entities == nil {
		in.Entities = map[string]any{}
	}
	if in.Confidence == 0 {
		in.Confidence = 0.8
	}
	c.logger.Debug("intent classified", "intent", in.Name, "confidence", in.Confidence)
	return in
}

var (
	greetings       = map[string]bool{"hi": true, "hello": true, "hey": true, "sup": true, "yo": true, "hiya": true, "howdy": true}
	greetingPhrases = []string{"good morning", "good afternoon", "good evening", "what's up", "whats up"}
	botQuestions    = []string{"who are you", "what are you", "what can you do", "how do you work"}
	thanksWords     = []string{"thanks", "thank you", "thx", "ty", "got it", "cool", "great"}
)

// KeywordFallback classifies text without a model.
func KeywordFallback(text string) Intent {
	lower := strings.ToLower(strings.TrimSpace(text))
	chat := func(conf float64) Intent {
		return Intent{Name: Chat, Entities: map[string]any{"message": text}, Confidence: conf, Fallback: true}
	}
	with := func(name string, entities map[string]any) Intent {
		if entities == nil {
			entities = map[string]any{}
		}
		return Intent{Name: name, Entities: entities, Confidence: 0.5, Fallback: true}
	}
	query := map[string]any{"query": text}

	if greetings[lower] {
		return chat(0.99)
	}
	if containsAny(lower, greetingPhrases...) {
		return chat(0.95)
	}
	if fields := strings.Fields(lower); len(fields) > 0 && greetings[strings.TrimRight(fields[0], "!,.")] {
		return chat(0.95)
	}
	if containsAny(lower, botQuestions...) {
		return chat(0.95)
	}
	for _, w := range thanksWords {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+"!") {
			return chat(0.9)
		}
	}
	if lower == "help" || containsAny(lower, "commands", "how do i use") {
		return with(Help, nil)
	}

	switch {
	case containsAny(lower, "email", "mail", "inbox"):
		if containsAny(lower, "draft", "write", "compose", "send") {
			return with(EmailDraft, query)
		}
		return with(EmailSearch, query)

	case containsAny(lower, "todo", "to-do", "task"):
		if containsAny(lower, "add", "create", "new", "remind") {
			return with(TasksCreate, merge(map[string]any{"title": text}, extractDate(lower)))
		}
		return with(TasksList, nil)

	case strings.Contains(lower, "notion"):
		return with(NotionSearch, query)

	case containsAny(lower, "schedule a", "book a", "set up a meeting", "create an event", "create a meeting"):
		return with(CalendarCreate, extractDate(lower))

	case containsAny(lower, "free", "available", "availability", "open slot"):
		return with(CalendarAvailability, extractDate(lower))

	case containsAny(lower, "calendar", "schedule", "meeting", "event"):
		return with(CalendarCheck, extractDate(lower))

	case containsAny(lower, "github", "repo", "issue", "pull request", "commit") || hasWord(lower, "pr", "prs"):
		switch {
		case strings.Contains(lower, "issue") && containsAny(lower, "create", "new", "open an", "file"):
			return with(GitHubCreateIssue, query)
		case hasWord(lower, "pr", "prs") || strings.Contains(lower, "pull request"):
			return with(GitHubPRs, nil)
		case strings.Contains(lower, "issue"):
			return with(GitHubIssues, nil)
		}
		return with(GitHubSearch, query)

	case containsAny(lower, "who is", "contact info", "phone number", "email address of"):
		return with(PersonLookup, map[string]any{"person": text})

	case containsAny(lower, "briefing", "summary", "catch up", "what did i miss"):
		return with(Briefing, extractDate(lower))
	}

	if len(strings.Fields(text)) <= 3 {
		return chat(0.5)
	}
	return with(SemanticSearch, merge(query, extractDate(lower)))
}

func extractDate(lower string) map[string]any {
	for _, d := range []string{"today", "tomorrow", "yesterday", "next week", "this week"} {
		if strings.Contains(lower, d) {
			return map[string]any{"date": d}
		}
	}
	return map[string]any{}
}

func merge(a, b map[string]any) map[string]any {
	for k, v := range b {
		a[k] = v
	}
	return a
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasWord(s string, words ...string) bool {
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, "?!.,;:'\"")
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}
