// Package bot is the message pipeline shared by every transport: it
// authorizes, rate limits and sanitizes an inbound message, runs it
// through the configured agent runner inside the user's conversation,
// and settles any action the run proposed.
package bot

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hanig/hani-replica/internal/action"
	"github.com/hanig/hani-replica/internal/agent"
	"github.com/hanig/hani-replica/internal/audit"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/events"
	"github.com/hanig/hani-replica/internal/feedback"
	"github.com/hanig/hani-replica/internal/intent"
	"github.com/hanig/hani-replica/internal/security"
	"github.com/hanig/hani-replica/internal/tools"
)

// Canned replies.
const (
	MsgUnauthorized = "Sorry, you're not authorized to use this bot."
	MsgSecurity     = "Your message couldn't be processed due to security concerns. Please rephrase your request."
	MsgFallback     = "I'm not sure how to help with that. Try asking about your calendar, emails, or searching for information."
)

// actionAgent labels replies produced by the pending action flow.
const actionAgent = "action"

// Runner answers one message. Implemented by *orchestrator.Orchestrator,
// *agent.Loop and *intent.Handler.
type Runner interface {
	Run(ctx context.Context, msg string, history []conversation.Turn, opts agent.Options) *agent.Result
	RunStream(ctx context.Context, msg string, history []conversation.Turn, opts agent.Options) <-chan agent.Event
}

// Inbound is a message from a transport.
type Inbound struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
	Text      string `json:"text"`
}

// Reply is what the transport sends back.
type Reply struct {
	Text      string `json:"text"`
	AgentType string `json:"agent_type,omitempty"`
	Success   bool   `json:"success"`

	// Confirmation is set when an action is ready for the user's
	// confirm or cancel.
	Confirmation *action.Confirmation `json:"confirmation,omitempty"`

	ToolCalls []agent.ToolCallRecord `json:"tool_calls,omitempty"`
	Metadata  map[string]any         `json:"metadata,omitempty"`

	errMsg string
}

// Result renders r as the final result of a stream.
func (r Reply) Result() *agent.Result {
	meta := r.Metadata
	if r.Confirmation != nil {
		meta = make(map[string]any, len(r.Metadata)+4)
		for k, v := range r.Metadata {
			meta[k] = v
		}
		meta["requires_confirmation"] = true
		meta["action_id"] = r.Confirmation.ActionID
		meta["action_type"] = r.Confirmation.ActionType
		meta["preview"] = r.Confirmation.Preview
	}
	return &agent.Result{
		Response:  r.Text,
		AgentType: r.AgentType,
		ToolCalls: r.ToolCalls,
		Success:   r.Success,
		Error:     r.errMsg,
		Metadata:  meta,
	}
}

// Config wires a Handler. Audit, Feedback and Events may be nil.
type Config struct {
	Runner        Runner
	Conversations *conversation.Manager
	Guard         *security.Guard
	Confirmer     *action.Confirmer
	Audit         *audit.Logger
	Feedback      *feedback.Store
	Events        *events.Bus

	// Mode names the runner for the audit trail, e.g. "multi_agent".
	Mode string

	// AuthorizedUsers restricts the bot when non-empty.
	AuthorizedUsers []string

	// MaxIterations overrides the runner's cap when positive.
	MaxIterations int

	Logger *slog.Logger
}

// Handler runs the pipeline. It is safe for concurrent use.
type Handler struct {
	cfg        Config
	authorized map[string]bool
	logger     *slog.Logger
	now        func() time.Time

	lastRequest atomic.Int64 // unix nanos
}

// New returns a Handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{cfg: cfg, logger: cfg.Logger, now: time.Now}
	if len(cfg.AuthorizedUsers) > 0 {
		h.authorized = make(map[string]bool, len(cfg.AuthorizedUsers))
		for _, u := range cfg.AuthorizedUsers {
			h.authorized[u] = true
		}
	}
	return h
}

// LastRequestTime is when the last message or confirmation arrived.
func (h *Handler) LastRequestTime() time.Time {
	n := h.lastRequest.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (h *Handler) touch() { h.lastRequest.Store(h.now().UnixNano()) }

// turn is the state of one message between admission and reply.
type turn struct {
	in      Inbound
	text    string
	ctx     context.Context // carries the user ID and the action slot
	slot    *action.Slot
	conv    *conversation.Context
	history []conversation.Turn
	start   time.Time
}

// Handle answers one message.
func (h *Handler) Handle(ctx context.Context, in Inbound) Reply {
	t, reply := h.admit(ctx, in)
	if reply == nil {
		reply = h.continuePending(t)
	}
	if reply == nil {
		h.cfg.Audit.LogAgentInvoked(ctx, h.cfg.Mode, in.UserID, in.ChannelID, t.text)
		res := h.cfg.Runner.Run(t.ctx, t.text, t.history, h.options(in.UserID))
		reply = h.finish(ctx, t, res)
	}
	h.sent(ctx, in, *reply, t)
	return *reply
}

// HandleStream answers one message with progress events. The runner's
// own done and error events are replaced by one describing the reply.
func (h *Handler) HandleStream(ctx context.Context, in Inbound) <-chan agent.Event {
	return agent.Stream(ctx, func(emit agent.Emit) *agent.Result {
		t, reply := h.admit(ctx, in)
		if reply == nil {
			reply = h.continuePending(t)
		}
		if reply == nil {
			h.cfg.Audit.LogAgentInvoked(ctx, h.cfg.Mode, in.UserID, in.ChannelID, t.text)
			events := h.cfg.Runner.RunStream(t.ctx, t.text, t.history, h.options(in.UserID))
			res := agent.Collect(events, func(ev agent.Event) {
				if ev.Kind != agent.EventDone && ev.Kind != agent.EventError {
					emit(ev)
				}
			})
			reply = h.finish(ctx, t, res)
		}
		h.sent(ctx, in, *reply, t)
		return reply.Result()
	})
}

func (h *Handler) options(userID string) agent.Options {
	return agent.Options{UserID: userID, MaxIterations: h.cfg.MaxIterations}
}

// admit runs the checks that happen before any model call. It returns
// a reply when the message ends here.
func (h *Handler) admit(ctx context.Context, in Inbound) (*turn, *Reply) {
	h.touch()
	t := &turn{in: in, start: h.now()}
	h.cfg.Audit.LogMessageReceived(ctx, in.UserID, in.ChannelID, in.ThreadID, in.Text)

	if h.authorized != nil && !h.authorized[in.UserID] {
		h.logger.Warn("unauthorized user", "user_id", in.UserID, "channel_id", in.ChannelID)
		h.cfg.Audit.LogSecurity(ctx, audit.Unauthorized, in.UserID, "Unauthorized access attempt",
			map[string]any{"channel_id": in.ChannelID}, true)
		return t, &Reply{Text: MsgUnauthorized}
	}

	if ok, ev := h.cfg.Guard.CheckRateLimit(in.UserID); !ok {
		return t, &Reply{Text: h.rateLimitText(ev)}
	}

	if strings.TrimSpace(in.Text) == "" {
		return t, &Reply{Text: intent.HelpText, AgentType: intent.AgentType, Success: true}
	}

	text, threats := h.cfg.Guard.SanitizeInput(in.Text, in.UserID)
	if text == "" || anyBlocked(threats) {
		h.logger.Warn("message blocked", "user_id", in.UserID, "threats", len(threats))
		return t, &Reply{Text: MsgSecurity}
	}
	t.text = text

	t.conv = h.cfg.Conversations.GetOrCreate(in.UserID, in.ChannelID, in.ThreadID)
	t.history = t.conv.History()
	t.conv.AddTurn("user", text)

	t.slot = &action.Slot{}
	t.ctx = action.WithSlot(tools.WithUserID(ctx, in.UserID), t.slot)
	return t, nil
}

func (h *Handler) rateLimitText(ev *security.Event) string {
	secs := int(h.cfg.Guard.BlockDuration().Seconds())
	if ev != nil {
		if n, ok := ev.Metadata["remaining_seconds"].(int); ok && n > 0 {
			secs = n
		}
	}
	return "You're sending messages too quickly. Please wait " + strconv.Itoa(secs) + " seconds."
}

func anyBlocked(evs []security.Event) bool {
	for _, e := range evs {
		if e.Blocked {
			return true
		}
	}
	return false
}

// continuePending feeds the message to a pending action that is still
// collecting fields. It returns nil when no action is waiting for input.
func (h *Handler) continuePending(t *turn) *Reply {
	prompt, conf, ok := t.conv.UpdatePending(t.text)
	if !ok {
		return nil
	}
	reply := &Reply{Text: prompt, AgentType: actionAgent, Success: true, Confirmation: conf}
	h.commit(t, reply.Text)
	return reply
}

// finish parks a proposed action, applies the fallback and records the
// turn.
func (h *Handler) finish(ctx context.Context, t *turn, res *agent.Result) *Reply {
	if res == nil {
		res = &agent.Result{Error: "no result"}
	}
	reply := &Reply{
		Text:      res.Response,
		AgentType: res.AgentType,
		Success:   res.Success,
		ToolCalls: res.ToolCalls,
		Metadata:  res.Metadata,
		errMsg:    res.Error,
	}

	if a := t.slot.Take(); a != nil {
		h.park(ctx, t, a, reply)
	}

	if !res.Success {
		h.cfg.Audit.LogError(ctx, t.in.UserID, t.in.ChannelID, res.Error,
			map[string]any{"agent_type": res.AgentType})
	}
	if strings.TrimSpace(reply.Text) == "" {
		reply.Text = MsgFallback
	}

	h.cfg.Audit.LogAgentCompleted(ctx, res.AgentType, t.in.UserID, res.Iterations, len(res.ToolCalls),
		h.now().Sub(t.start), res.Success, res.Error)
	h.commit(t, reply.Text)
	h.recordPattern(ctx, t, res)
	return reply
}

func (h *Handler) park(ctx context.Context, t *turn, a *action.Action, reply *Reply) {
	t.conv.SetPending(a)
	if a.IsReady() {
		c := a.Confirmation()
		reply.Confirmation = &c
	}
	h.logger.Info("action pending", "user_id", t.in.UserID, "action_id", a.ID, "action_type", a.Kind, "ready", a.IsReady())
	h.cfg.Audit.LogAction(ctx, audit.ActionRequested, t.in.UserID, string(a.Kind),
		map[string]any{"action_id": a.ID}, true, "")
	h.cfg.Events.Emit(events.SourceAction, events.KindActionProposed, map[string]any{
		"user_id":     t.in.UserID,
		"action_id":   a.ID,
		"action_type": string(a.Kind),
	})
}

func (h *Handler) commit(t *turn, text string) {
	t.conv.AddTurn("assistant", text)
	h.cfg.Conversations.Update(t.conv)
}

func (h *Handler) recordPattern(ctx context.Context, t *turn, res *agent.Result) {
	if h.cfg.Feedback == nil {
		return
	}
	label, _ := res.Metadata["intent"].(string)
	if label == "" {
		label = res.AgentType
	}
	pattern := feedback.NormalizePattern(t.text)
	if err := h.cfg.Feedback.RecordQueryPattern(ctx, t.in.UserID, pattern, label, res.Success); err != nil {
		h.logger.Warn("record query pattern failed", "user_id", t.in.UserID, "error", err)
	}
}

func (h *Handler) sent(ctx context.Context, in Inbound, reply Reply, t *turn) {
	elapsed := h.now().Sub(t.start)
	h.cfg.Audit.LogMessageSent(ctx, in.UserID, in.ChannelID, in.ThreadID, reply.Text)
	h.cfg.Events.Emit(events.SourceBot, events.KindMessageHandled, map[string]any{
		"user_id":    in.UserID,
		"agent_type": reply.AgentType,
		"success":    reply.Success,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	h.logger.Info("message handled",
		"user_id", in.UserID,
		"channel_id", in.ChannelID,
		"agent_type", reply.AgentType,
		"success", reply.Success,
		"elapsed", elapsed.Round(time.Millisecond),
	)
}
