package bot

import (
	"context"

	"github.com/hanig/hani-replica/internal/action"
	"github.com/hanig/hani-replica/internal/audit"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/events"
	"github.com/hanig/hani-replica/internal/tools"
)

// Confirm executes the pending action actionID in the user's channel.
func (h *Handler) Confirm(ctx context.Context, userID, channelID, actionID string) Reply {
	h.touch()
	conv := h.cfg.Conversations.FindPendingContext(userID, channelID, actionID)
	if conv == nil {
		h.cfg.Audit.LogAction(ctx, audit.ActionConfirmed, userID, "",
			map[string]any{"action_id": actionID}, false, string(action.StatusExpired))
		return Reply{Text: action.MsgExpired, AgentType: actionAgent, Metadata: status(action.StatusExpired)}
	}

	ctx = tools.WithUserID(ctx, userID)
	d := h.cfg.Confirmer.Confirm(ctx, userID, conv, actionID)
	kind := actionKind(d.Action)
	details := map[string]any{"action_id": actionID}

	switch d.Status {
	case action.StatusExecuted, action.StatusFailed:
		h.cfg.Audit.LogAction(ctx, audit.ActionConfirmed, userID, kind, details, true, "")
		errMsg := ""
		if d.Status == action.StatusFailed {
			errMsg = d.Text
		}
		h.cfg.Audit.LogAction(ctx, audit.ActionExecuted, userID, kind, details, d.Status == action.StatusExecuted, errMsg)
	case action.StatusBlocked:
		h.cfg.Audit.LogSecurity(ctx, audit.SecurityBlocked, userID, "Action blocked: "+kind, details, true)
	default:
		h.cfg.Audit.LogAction(ctx, audit.ActionConfirmed, userID, kind, details, false, string(d.Status))
	}

	h.settle(conv, d.Text)
	h.cfg.Events.Emit(events.SourceAction, events.KindActionConfirmed, map[string]any{
		"user_id":     userID,
		"action_id":   actionID,
		"action_type": kind,
		"success":     d.Status == action.StatusExecuted,
	})
	return decisionReply(d)
}

// Cancel discards the pending action actionID.
func (h *Handler) Cancel(ctx context.Context, userID, channelID, actionID string) Reply {
	h.touch()
	conv := h.cfg.Conversations.FindPendingContext(userID, channelID, actionID)
	if conv == nil {
		return Reply{Text: action.MsgExpired, AgentType: actionAgent, Metadata: status(action.StatusExpired)}
	}

	d := h.cfg.Confirmer.Cancel(userID, conv, actionID)
	kind := actionKind(d.Action)
	if d.Status == action.StatusCancelled {
		h.cfg.Audit.LogAction(ctx, audit.ActionCancelled, userID, kind,
			map[string]any{"action_id": actionID}, true, "")
		h.cfg.Events.Emit(events.SourceAction, events.KindActionCancelled, map[string]any{
			"user_id":     userID,
			"action_id":   actionID,
			"action_type": kind,
		})
	}
	h.settle(conv, d.Text)
	return decisionReply(d)
}

// settle records the outcome in the conversation so the next turn sees
// it.
func (h *Handler) settle(conv *conversation.Context, text string) {
	conv.AddTurn("assistant", text)
	h.cfg.Conversations.Update(conv)
}

func decisionReply(d action.Decision) Reply {
	r := Reply{
		Text:      d.Text,
		AgentType: actionAgent,
		Success:   d.Status == action.StatusExecuted || d.Status == action.StatusCancelled,
		Metadata:  status(d.Status),
	}
	if d.Outcome != nil && len(d.Outcome.Payload) > 0 {
		r.Metadata["result"] = d.Outcome.Payload
	}
	return r
}

func status(s action.Status) map[string]any { return map[string]any{"status": string(s)} }

func actionKind(a *action.Action) string {
	if a == nil {
		return ""
	}
	return string(a.Kind)
}
