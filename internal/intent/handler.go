package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hanig/hani-replica/internal/agent"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/tools"
)

// AgentType labels results produced in intent mode.
const AgentType = "intent"

// HelpText is the reply to the help intent.
const HelpText = `*Here's what I can help with:*

*Calendar*
- "What's on my calendar today?"
- "When am I free tomorrow afternoon?"
- "Schedule a meeting with ada@example.com Friday at 2pm"

*Email*
- "Search emails about the quarterly report"
- "Draft an email to john@example.com about the offsite"

*GitHub*
- "Show my open PRs" / "What issues are assigned to me?"
- "Create an issue in acme/api about the memory leak"

*People*
- "Who is Ada Lovelace?" / "What's my recent activity with Ada?"

*Tasks and notes*
- "What's on my todo list?" / "Add a task to renew the domain tomorrow"
- "Search Notion for the roadmap"

*Everything else*
- "Find documents about the model architecture"
- "Give me my daily briefing"

Actions that change something (events, drafts, issues) always ask for confirmation first.`

const unknownReply = "I'm not sure how to help with that. Try asking about your calendar, emails, or searching for information."

// Chatter answers small talk.
type Chatter interface {
	Chat(ctx context.Context, msg string, history []conversation.Turn) *agent.Result
}

// Handler runs classified intents.
type Handler struct {
	classifier *Classifier
	exec       *tools.Executor
	chat       Chatter
	logger     *slog.Logger
}

// NewHandler returns an intent-mode handler.
func NewHandler(classifier *Classifier, exec *tools.Executor, chat Chatter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{classifier: classifier, exec: exec, chat: chat, logger: logger}
}

// Handle classifies text and acts on it. Tool failures become the reply
// text; Handle never fails.
func (h *Handler) Handle(ctx context.Context, text string, history []conversation.Turn) *agent.Result {
	in := h.classifier.Classify(ctx, text, history)
	res := h.dispatch(ctx, in, text, history)
	if res.Metadata == nil {
		res.Metadata = map[string]any{}
	}
	res.Metadata["intent"] = in.Name
	res.Metadata["confidence"] = in.Confidence
	if in.Fallback {
		res.Metadata["keyword_fallback"] = true
	}
	return res
}

// Run adapts Handle to the agent runner signature used by the message
// pipeline.
func (h *Handler) Run(ctx context.Context, msg string, history []conversation.Turn, _ agent.Options) *agent.Result {
	return h.Handle(ctx, msg, history)
}

// RunStream delivers the intent-mode answer as a single done event.
func (h *Handler) RunStream(ctx context.Context, msg string, history []conversation.Turn, opts agent.Options) <-chan agent.Event {
	return agent.Stream(ctx, func(emit agent.Emit) *agent.Result {
		emit(agent.Event{Kind: agent.EventThinking, AgentType: AgentType, Text: "Processing..."})
		return h.Run(ctx, msg, history, opts)
	})
}

func (h *Handler) dispatch(ctx context.Context, in Intent, text string, history []conversation.Turn) *agent.Result {
	switch in.Name {
	case Chat:
		if h.chat == nil {
			return answer("Hi! Ask me about your calendar, email, GitHub, tasks or notes.")
		}
		res := h.chat.Chat(ctx, text, history)
		res.AgentType = AgentType
		return res
	case Help:
		return answer(HelpText)
	case PersonActivity:
		return h.personActivity(ctx, in)
	}

	name, args, ok := toolCall(in, text)
	if !ok {
		h.logger.Info("unhandled intent", "intent", in.Name)
		return answer(unknownReply)
	}
	return h.runTool(ctx, name, args, in.Name)
}

func answer(text string) *agent.Result {
	return &agent.Result{Response: text, AgentType: AgentType, Success: true}
}

func (h *Handler) runTool(ctx context.Context, name string, args map[string]any, intentName string) *agent.Result {
	r := h.exec.Execute(ctx, name, args)
	res := &agent.Result{
		AgentType:  AgentType,
		Iterations: 1,
		Success:    r.Success,
		ToolCalls:  []agent.ToolCallRecord{{Tool: name, Input: args, Result: clip(r.Content(), 500), Success: r.Success}},
	}

	if !r.Success {
		res.Response = "Sorry, I couldn't do that: " + r.Error
		res.Error = r.Error
		return res
	}
	if conf, ok := r.Confirmation(); ok {
		res.Response = conf.Text
		res.Metadata = map[string]any{
			"requires_confirmation": true,
			"action_id":             conf.ActionID,
			"action_type":           conf.ActionType,
			"preview":               conf.Preview,
		}
		return res
	}
	res.Response = format(intentName, r.Data)
	return res
}

// personActivity resolves the person first so an ambiguous name gets a
// useful reply instead of an error.
func (h *Handler) personActivity(ctx context.Context, in Intent) *agent.Result {
	who := in.Entity("person")
	if who == "" {
		who = in.Entity("query")
	}
	if who == "" {
		return answer("Whose activity should I look up?")
	}
	return h.runTool(ctx, "GetPersonActivityTool", map[string]any{"person_id": who}, PersonActivity)
}

var emailAddr = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)

// toolCall maps a data or mutating intent onto a tool invocation.
func toolCall(in Intent, text string) (string, map[string]any, bool) {
	query := in.Entity("query")
	if query == "" {
		query = text
	}
	set := func(m map[string]any, k, v string) {
		if v != "" {
			m[k] = v
		}
	}

	args := map[string]any{}
	switch in.Name {
	case CalendarCheck:
		set(args, "date", in.Entity("date"))
		return "GetCalendarEventsTool", args, true

	case CalendarAvailability:
		set(args, "date", in.Entity("date"))
		return "CheckAvailabilityTool", args, true

	case CalendarCreate:
		set(args, "title", in.Entity("title"))
		set(args, "date", in.Entity("date"))
		set(args, "time", in.Entity("time"))
		if addrs := emailAddr.FindAllString(in.Entity("person")+" "+text, -1); len(addrs) > 0 {
			args["attendees"] = dedupe(addrs)
		}
		return "CreateCalendarEventTool", args, true

	case EmailSearch:
		args["query"] = query
		if p := in.Entity("person"); p != "" {
			args["from"] = p
			if in.Entity("query") == "" {
				delete(args, "query")
			}
		}
		return "SearchEmailsTool", args, true

	case EmailDraft:
		to := in.Entity("person")
		if to == "" {
			to = strings.Join(emailAddr.FindAllString(text, -1), ", ")
		}
		set(args, "to", to)
		set(args, "subject", in.Entity("title"))
		set(args, "body", in.Entity("body"))
		return "CreateEmailDraftTool", args, true

	case GitHubPRs:
		return "GetGitHubPRsTool", args, true

	case GitHubIssues:
		return "GetGitHubIssuesTool", args, true

	case GitHubSearch:
		args["query"] = query
		set(args, "repo", in.Entity("repo"))
		return "SearchGitHubCodeTool", args, true

	case GitHubCreateIssue:
		set(args, "repo", in.Entity("repo"))
		set(args, "title", in.Entity("title"))
		set(args, "body", in.Entity("body"))
		if l := in.Entity("labels"); l != "" {
			args["labels"] = splitList(l)
		}
		return "CreateGitHubIssueTool", args, true

	case PersonLookup:
		who := in.Entity("person")
		if who == "" {
			who = query
		}
		args["query"] = who
		return "FindPersonTool", args, true

	case SemanticSearch:
		args["query"] = query
		return "SemanticSearchTool", args, true

	case Briefing:
		return "GetDailyBriefingTool", args, true

	case TasksList:
		set(args, "filter", in.Entity("filter"))
		return "ListTodoistTasksTool", args, true

	case TasksCreate:
		content := in.Entity("title")
		if content == "" {
			content = query
		}
		args["content"] = content
		set(args, "due", strings.TrimSpace(in.Entity("date")+" "+in.Entity("time")))
		return "CreateTodoistTaskTool", args, true

	case NotionSearch:
		args["query"] = query
		return "SearchNotionTool", args, true
	}
	return "", nil, false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		k := strings.ToLower(s)
		if !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
