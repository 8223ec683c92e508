// Package agent implements the tool-using agent loop shared by every
// specialist.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/prompts"
	"github.com/hanig/hani-replica/internal/tools"
)

const (
	defaultMaxIterations = 10
	defaultHistoryTurns  = 4
	defaultMaxTokens     = 4096

	// maxRecordedResult caps the tool output kept in a ToolCallRecord.
	maxRecordedResult = 500

	extractTimeout = 30 * time.Second
)

// Response texts for the terminal states the model did not author.
const (
	MaxIterationsError    = "Max iterations reached"
	MaxIterationsResponse = "I reached the maximum number of steps. Please try a more specific request."
	completedResponse     = "Task completed."
)

// Config parameterizes a loop. Zero values take the defaults.
type Config struct {
	// Type tags every Result, e.g. "calendar".
	Type string

	// SystemPrompt may contain prompts.CurrentDate.
	SystemPrompt string

	// ToolNames restricts the loop to these tools. Empty means every
	// registered tool.
	ToolNames []string

	MaxIterations int
	HistoryTurns  int
	Model         string
	MaxTokens     int

	// Location is the user's time zone for the date in the prompt.
	Location *time.Location
}

// MemorySummarizer renders what is remembered about a user for the
// system prompt.
type MemorySummarizer interface {
	ContextSummary(ctx context.Context, userID string, max int) (string, error)
}

// MemoryExtractor learns from a finished exchange.
type MemoryExtractor interface {
	Extract(ctx context.Context, userID string, turns []conversation.Turn) error
}

// PeopleContext describes directory contacts a message mentions.
type PeopleContext interface {
	MentionedContext(message string, max int) string
}

// mentionedPeople caps the contacts described per prompt.
const mentionedPeople = 3

// Options are per-run settings.
type Options struct {
	UserID string

	// MaxIterations overrides the configured cap when positive.
	MaxIterations int
}

// ToolCallRecord is one tool execution made during a run.
type ToolCallRecord struct {
	Tool    string         `json:"tool"`
	Input   map[string]any `json:"input"`
	Result  string         `json:"result"`
	Success bool           `json:"success"`
}

// Result is the outcome of a run. Run never returns an error; failures
// are reported through Success and Error.
type Result struct {
	Response   string           `json:"response"`
	AgentType  string           `json:"agent_type"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	Iterations int              `json:"iterations"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// RequiresConfirmation reports whether the run parked an action that
// the user has to confirm.
func (r *Result) RequiresConfirmation() bool {
	v, _ := r.Metadata["requires_confirmation"].(bool)
	return v
}

// Loop drives a model through tool calls until it produces an answer.
type Loop struct {
	cfg       Config
	client    llm.Client
	exec      *tools.Executor
	logger    *slog.Logger
	summary   MemorySummarizer
	extractor MemoryExtractor
	people    PeopleContext
	now       func() time.Time
}

// New creates a loop. When cfg.ToolNames is set the loop sees only those
// tools, whatever the executor's registry holds.
func New(cfg Config, client llm.Client, exec *tools.Executor, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if len(cfg.ToolNames) > 0 {
		// Tools of unconfigured services are simply absent.
		for _, name := range cfg.ToolNames {
			if err := exec.Check(name); err != nil {
				logger.Debug("agent tool skipped", "agent", cfg.Type, "error", err)
			}
		}
		exec = exec.WithRegistry(exec.Registry().FilteredCopy(cfg.ToolNames))
	}
	return &Loop{
		cfg:    cfg,
		client: client,
		exec:   exec,
		logger: logger.With("agent", cfg.Type),
		now:    time.Now,
	}
}

// SetMemory attaches user memory. Either argument may be nil.
func (l *Loop) SetMemory(s MemorySummarizer, e MemoryExtractor) {
	l.summary = s
	l.extractor = e
}

// SetPeople attaches the contact directory used to describe people
// named in a message. p may be nil.
func (l *Loop) SetPeople(p PeopleContext) { l.people = p }

// Type returns the agent type tag.
func (l *Loop) Type() string { return l.cfg.Type }

// Run answers message given the prior conversation.
func (l *Loop) Run(ctx context.Context, message string, history []conversation.Turn, opts Options) *Result {
	return l.run(ctx, message, history, opts, nil)
}

// run is the loop shared by Run and RunStream. emit is nil for
// synchronous runs.
func (l *Loop) run(ctx context.Context, message string, history []conversation.Turn, opts Options, emit Emit) *Result {
	res := &Result{AgentType: l.cfg.Type, Metadata: map[string]any{}}
	if opts.UserID != "" {
		ctx = tools.WithUserID(ctx, opts.UserID)
	}

	maxIter := l.cfg.MaxIterations
	if opts.MaxIterations > 0 {
		maxIter = opts.MaxIterations
	}

	req := llm.Request{
		Model:     l.cfg.Model,
		System:    l.systemPrompt(ctx, opts.UserID, message),
		Messages:  l.messages(history, message),
		Tools:     l.exec.Registry().List(),
		MaxTokens: l.cfg.MaxTokens,
	}

	log := l.logger.With("user", opts.UserID)
	log.Debug("agent run started", "history", len(history), "tools", len(req.Tools), "max_iterations", maxIter)

	for res.Iterations < maxIter {
		res.Iterations++
		emit.send(Event{Kind: EventThinking, AgentType: l.cfg.Type, Iteration: res.Iterations, Text: "Thinking..."})

		resp, err := l.complete(ctx, req, emit, res.Iterations)
		if err != nil {
			log.Warn("model call failed", "iteration", res.Iterations, "error", err)
			return fail(res, err.Error())
		}

		if resp.StopReason != llm.StopToolUse || len(resp.Message.ToolCalls) == 0 {
			res.Response = resp.Message.Content
			if resp.StopReason != llm.StopEndTurn && strings.TrimSpace(res.Response) == "" {
				res.Response = completedResponse
			}
			res.Success = true
			l.remember(ctx, opts.UserID, history, message, res.Response)
			return res
		}

		req.Messages = append(req.Messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			name := tc.Function.Name
			if name == tools.RespondToUser {
				text, _ := tc.Function.Arguments["message"].(string)
				res.ToolCalls = append(res.ToolCalls, ToolCallRecord{Tool: name, Input: tc.Function.Arguments, Result: text, Success: true})
				res.Response = text
				res.Success = true
				l.remember(ctx, opts.UserID, history, message, text)
				return res
			}

			out := l.exec.Execute(ctx, name, tc.Function.Arguments)
			content := out.Content()
			res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
				Tool:    name,
				Input:   tc.Function.Arguments,
				Result:  truncate(content, maxRecordedResult),
				Success: out.Success,
			})
			emit.send(Event{
				Kind:       EventToolDone,
				AgentType:  l.cfg.Type,
				Iteration:  res.Iterations,
				Tool:       name,
				Input:      tc.Function.Arguments,
				ToolResult: truncate(content, maxStreamedResult),
			})

			if conf, ok := out.Confirmation(); ok {
				log.Info("action awaiting confirmation", "tool", name, "action_type", conf.ActionType, "action_id", conf.ActionID)
				res.Response = conf.Text
				res.Success = true
				res.Metadata["requires_confirmation"] = true
				res.Metadata["action_id"] = conf.ActionID
				res.Metadata["action_type"] = conf.ActionType
				res.Metadata["preview"] = conf.Preview
				l.remember(ctx, opts.UserID, history, message, conf.Text)
				return res
			}

			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	log.Warn("agent hit iteration cap", "iterations", res.Iterations, "tool_calls", len(res.ToolCalls))
	res.Success = false
	res.Error = MaxIterationsError
	res.Response = MaxIterationsResponse
	return res
}

// complete makes one model call, streaming when emit is set.
func (l *Loop) complete(ctx context.Context, req llm.Request, emit Emit, iteration int) (*llm.ChatResponse, error) {
	if emit == nil {
		return l.client.Chat(ctx, req)
	}
	return l.client.ChatStream(ctx, req, func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			emit.send(Event{Kind: EventTextDelta, AgentType: l.cfg.Type, Iteration: iteration, Text: ev.Token})
		case llm.KindToolCallStart:
			if ev.ToolCall != nil {
				emit.send(Event{Kind: EventToolStart, AgentType: l.cfg.Type, Iteration: iteration, Tool: ev.ToolCall.Function.Name})
			}
		}
	})
}

func fail(res *Result, msg string) *Result {
	res.Success = false
	res.Error = msg
	res.Response = "I encountered an error: " + msg
	return res
}

func (l *Loop) systemPrompt(ctx context.Context, userID, message string) string {
	date := l.now().In(l.cfg.Location).Format("2006-01-02 Monday")
	prompt := strings.ReplaceAll(l.cfg.SystemPrompt, prompts.CurrentDate, date)

	if l.summary != nil && userID != "" {
		summary, err := l.summary.ContextSummary(ctx, userID, 0)
		if err != nil {
			l.logger.Debug("memory summary unavailable", "user", userID, "error", err)
		} else if summary != "" {
			prompt += "\n\nUser context:\n" + summary
		}
	}
	if l.people != nil {
		if people := l.people.MentionedContext(message, mentionedPeople); people != "" {
			prompt += "\n\n" + people
		}
	}
	return prompt
}

func (l *Loop) messages(history []conversation.Turn, message string) []llm.Message {
	if len(history) > l.cfg.HistoryTurns {
		history = history[len(history)-l.cfg.HistoryTurns:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
}

// remember hands the exchange to the extractor without waiting for it.
func (l *Loop) remember(ctx context.Context, userID string, history []conversation.Turn, message, response string) {
	if l.extractor == nil || userID == "" {
		return
	}
	if len(history) > l.cfg.HistoryTurns {
		history = history[len(history)-l.cfg.HistoryTurns:]
	}
	now := l.now()
	turns := make([]conversation.Turn, 0, len(history)+2)
	turns = append(turns, history...)
	turns = append(turns,
		conversation.Turn{Role: conversation.RoleUser, Content: message, Timestamp: now},
		conversation.Turn{Role: conversation.RoleAssistant, Content: response, Timestamp: now},
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), extractTimeout)
		defer cancel()
		if err := l.extractor.Extract(ctx, userID, turns); err != nil {
			l.logger.Debug("memory extraction failed", "user", userID, "error", err)
		}
	}()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// String summarizes the result for logs.
func (r *Result) String() string {
	return fmt.Sprintf("%s: success=%t iterations=%d tools=%d", r.AgentType, r.Success, r.Iterations, len(r.ToolCalls))
}
