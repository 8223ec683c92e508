// Package orchestrator routes each message to the specialist best suited
// to it, answers small talk directly, and merges the answers when a
// request spans two domains.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/agent"
	"github.com/hanig/hani-replica/internal/config"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/events"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/prompts"
	"github.com/hanig/hani-replica/internal/specialist"
)

// AgentType tags results the orchestrator authors itself.
const AgentType = "orchestrator"

const (
	chatMaxTokens      = 1024
	synthesisMaxTokens = 2048

	chatEmptyFallback = "Hi! How can I help you today?"
	chatErrorFallback = "Hi! I'm here to help. What can I do for you?"
)

var greetings = []string{"hi", "hello", "hey", "sup", "yo", "good morning", "good afternoon", "good evening"}

var conversationalPatterns = []string{
	"how are you", "what's up", "who are you", "what can you do",
	"thanks", "thank you", "great", "awesome", "cool", "ok", "okay",
	"help", "bye", "goodbye", "see you",
}

// TaskPlan is the routing decision for one message.
type TaskPlan struct {
	NeedsSpecialist  bool              `json:"needs_specialist"`
	Specialists      []specialist.Type `json:"specialists,omitempty"`
	IsConversational bool              `json:"is_conversational"`
	Reasoning        string            `json:"reasoning"`
}

// Config configures an Orchestrator.
type Config struct {
	// Model is used for small talk and synthesis.
	Model    string
	Routing  config.RoutingConfig
	Location *time.Location

	// HistoryTurns is how much history small talk sees. Default 4.
	HistoryTurns int

	// Events receives a routing event per message. Optional.
	Events *events.Bus
}

// Orchestrator is safe for concurrent use; it holds no per-message
// state.
type Orchestrator struct {
	specialists map[specialist.Type]*specialist.Specialist
	client      llm.Client
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an orchestrator over the given specialists. The research
// specialist must be present; it is the catch-all.
func New(specs map[specialist.Type]*specialist.Specialist, client llm.Client, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Routing.ApplyDefaults()
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 4
	}
	return &Orchestrator{
		specialists: specs,
		client:      client,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Specialist returns the specialist of type t, or nil.
func (o *Orchestrator) Specialist(t specialist.Type) *specialist.Specialist {
	return o.specialists[t]
}

// IsConversational reports whether msg is small talk: a greeting, a
// known conversational phrase, or two words or fewer without a question
// mark.
func IsConversational(msg string) bool {
	lower := strings.ToLower(strings.TrimSpace(msg))
	for _, g := range greetings {
		if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+",") {
			return true
		}
	}
	if containsPhrase(lower, conversationalPatterns) {
		return true
	}
	return len(strings.Fields(lower)) <= 2 && !strings.Contains(msg, "?")
}

// Classify is IsConversational for callers holding an Orchestrator.
func (o *Orchestrator) Classify(msg string) bool { return IsConversational(msg) }

type scored struct {
	typ   specialist.Type
	score float64
}

// scores returns every specialist's score, highest first. Ties keep
// specialist.Types order.
func (o *Orchestrator) scores(msg string) []scored {
	out := make([]scored, 0, len(o.specialists))
	for _, t := range specialist.Types {
		if s, ok := o.specialists[t]; ok {
			out = append(out, scored{t, s.Score(msg)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// PlanTask decides how msg is handled.
func (o *Orchestrator) PlanTask(msg string) TaskPlan {
	if IsConversational(msg) {
		return TaskPlan{IsConversational: true, Reasoning: "Conversational message - responding directly"}
	}

	var relevant []scored
	for _, s := range o.scores(msg) {
		if s.score >= o.cfg.Routing.Threshold {
			relevant = append(relevant, s)
		}
	}

	switch {
	case len(relevant) == 0:
		return TaskPlan{
			NeedsSpecialist: true,
			Specialists:     []specialist.Type{specialist.Research},
			Reasoning:       "No strong match - using research agent for general search",
		}
	case len(relevant) == 1:
		return TaskPlan{
			NeedsSpecialist: true,
			Specialists:     []specialist.Type{relevant[0].typ},
			Reasoning:       "Single domain match: " + string(relevant[0].typ),
		}
	case containsPhrase(strings.ToLower(msg), o.cfg.Routing.Connectives):
		top := []specialist.Type{relevant[0].typ, relevant[1].typ}
		return TaskPlan{
			NeedsSpecialist: true,
			Specialists:     top,
			Reasoning:       fmt.Sprintf("Multi-domain request: %s, %s", top[0], top[1]),
		}
	default:
		return TaskPlan{
			NeedsSpecialist: true,
			Specialists:     []specialist.Type{relevant[0].typ},
			Reasoning:       fmt.Sprintf("Best match: %s (score: %.2f)", relevant[0].typ, relevant[0].score),
		}
	}
}

// SelectSpecialist returns the single best specialist for msg, or ""
// for small talk. Weak matches fall back to research.
func (o *Orchestrator) SelectSpecialist(msg string) specialist.Type {
	if IsConversational(msg) {
		return ""
	}
	all := o.scores(msg)
	if len(all) == 0 || all[0].score < o.cfg.Routing.SelectThreshold {
		return specialist.Research
	}
	return all[0].typ
}

// Run handles one message to completion.
func (o *Orchestrator) Run(ctx context.Context, msg string, history []conversation.Turn, opts agent.Options) *agent.Result {
	plan := o.PlanTask(msg)
	o.routed(opts.UserID, plan)

	if plan.IsConversational {
		return o.Chat(ctx, msg, history)
	}
	if len(plan.Specialists) == 1 {
		return o.delegate(plan.Specialists[0]).Run(ctx, msg, history, opts)
	}

	results := make([]*agent.Result, 0, len(plan.Specialists))
	for _, t := range plan.Specialists {
		res := o.delegate(t).Run(ctx, msg, history, opts)
		if res.RequiresConfirmation() {
			return res
		}
		results = append(results, res)
	}
	return o.synthesize(ctx, msg, results)
}

// RunStream is Run with progress events. A single delegate streams
// through; multi-specialist runs report each delegation and then the
// merged answer.
func (o *Orchestrator) RunStream(ctx context.Context, msg string, history []conversation.Turn, opts agent.Options) <-chan agent.Event {
	return agent.Stream(ctx, func(emit agent.Emit) *agent.Result {
		plan := o.PlanTask(msg)
		o.routed(opts.UserID, plan)

		if plan.IsConversational {
			emit(agent.Event{Kind: agent.EventThinking, AgentType: AgentType, Text: "Processing..."})
			return o.Chat(ctx, msg, history)
		}

		if len(plan.Specialists) == 1 {
			t := plan.Specialists[0]
			if !emit(agent.Event{Kind: agent.EventThinking, AgentType: AgentType, Text: fmt.Sprintf("Routing to %s specialist...", t)}) {
				return nil
			}
			var final *agent.Result
			for ev := range o.delegate(t).RunStream(ctx, msg, history, opts) {
				switch ev.Kind {
				case agent.EventDone:
					final = ev.Final
				case agent.EventError:
					// Stream re-emits it from the final result.
				default:
					if !emit(ev) {
						return final
					}
				}
			}
			return final
		}

		results := make([]*agent.Result, 0, len(plan.Specialists))
		for _, t := range plan.Specialists {
			if !emit(agent.Event{Kind: agent.EventThinking, AgentType: AgentType, Text: fmt.Sprintf("Consulting %s specialist...", t)}) {
				return nil
			}
			res := o.delegate(t).Run(ctx, msg, history, opts)
			if res.RequiresConfirmation() {
				return res
			}
			results = append(results, res)
			emit(agent.Event{
				Kind:       agent.EventToolDone,
				AgentType:  string(t),
				Text:       fmt.Sprintf("%s complete", t),
				ToolResult: clip(res.Response, 100),
			})
		}
		emit(agent.Event{Kind: agent.EventThinking, AgentType: AgentType, Text: "Combining results..."})
		return o.synthesize(ctx, msg, results)
	})
}

func (o *Orchestrator) delegate(t specialist.Type) *agent.Loop {
	if s, ok := o.specialists[t]; ok {
		return s.Loop()
	}
	return o.specialists[specialist.Research].Loop()
}

func (o *Orchestrator) routed(userID string, plan TaskPlan) {
	o.logger.Info("task planned",
		"user_id", userID,
		"conversational", plan.IsConversational,
		"specialists", plan.Specialists,
		"reasoning", plan.Reasoning,
	)
	specs := make([]string, len(plan.Specialists))
	for i, s := range plan.Specialists {
		specs[i] = string(s)
	}
	o.cfg.Events.Emit(events.SourceBot, events.KindAgentRouted, map[string]any{
		"user_id":     userID,
		"specialists": specs,
		"reasoning":   plan.Reasoning,
	})
}

// Chat answers small talk with a tool-free completion.
func (o *Orchestrator) Chat(ctx context.Context, msg string, history []conversation.Turn) *agent.Result {
	if len(history) > o.cfg.HistoryTurns {
		history = history[len(history)-o.cfg.HistoryTurns:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: msg})

	res := &agent.Result{
		AgentType:  AgentType,
		Iterations: 1,
		Success:    true,
		Metadata:   map[string]any{"conversational": true},
	}

	resp, err := o.client.Chat(ctx, llm.Request{
		Model:     o.cfg.Model,
		System:    prompts.ChatSystemPrompt(o.now().In(o.cfg.Location).Format("2006-01-02 Monday")),
		Messages:  msgs,
		MaxTokens: chatMaxTokens,
	})
	if err != nil {
		o.logger.Error("chat response failed", "error", err)
		res.Response = chatErrorFallback
		return res
	}
	res.Response = strings.TrimSpace(llm.FirstText(resp))
	if res.Response == "" {
		res.Response = chatEmptyFallback
	}
	return res
}

// synthesize merges specialist answers with one more model call,
// falling back to concatenation when the call fails.
func (o *Orchestrator) synthesize(ctx context.Context, msg string, results []*agent.Result) *agent.Result {
	out := &agent.Result{AgentType: AgentType, Metadata: map[string]any{}}
	outputs := make([]prompts.SpecialistOutput, 0, len(results))
	used := make([]string, 0, len(results))
	raw := make([]string, 0, len(results))
	for _, r := range results {
		out.ToolCalls = append(out.ToolCalls, r.ToolCalls...)
		out.Iterations += r.Iterations
		out.Success = out.Success || r.Success
		outputs = append(outputs, prompts.SpecialistOutput{Agent: r.AgentType, Response: r.Response})
		used = append(used, r.AgentType)
		raw = append(raw, r.Response)
	}
	out.Metadata["specialists_used"] = used

	resp, err := o.client.Chat(ctx, llm.Request{
		Model:     o.cfg.Model,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompts.SynthesisPrompt(msg, outputs)}},
		MaxTokens: synthesisMaxTokens,
	})
	if err != nil {
		o.logger.Error("synthesis failed, concatenating", "error", err, "specialists", used)
		out.Response = strings.Join(raw, "\n\n")
		return out
	}

	out.Response = llm.FirstText(resp)
	out.Iterations++
	out.Metadata["synthesized"] = true
	return out
}

// containsPhrase reports whether any phrase occurs in s on word
// boundaries, so "and" does not match "calendar".
func containsPhrase(s string, phrases []string) bool {
	padded := " " + strings.Join(strings.FieldsFunc(s, isSeparator), " ") + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	switch {
	case r == '\'' || r == '-':
		return false
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r >= 0x80:
		return false
	}
	return true
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
