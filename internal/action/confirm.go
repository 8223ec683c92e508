package action

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hanig/hani-replica/internal/security"
)

// Claim errors returned by a Holder.
var (
	// ErrExpired means no action is pending.
	ErrExpired = errors.New("pending action expired")
	// ErrMismatch means the pending action has a different ID. The
	// holder clears its slot before returning it.
	ErrMismatch = errors.New("pending action id mismatch")
)

// Holder owns at most one pending action. Implemented by
// *conversation.Context.
type Holder interface {
	// ClaimPending atomically removes the pending action when its ID is
	// actionID. It returns ErrExpired for an empty slot and ErrMismatch
	// (after clearing the slot) for any other ID. Only one of several
	// racing claims for the same action can succeed.
	ClaimPending(actionID string) (*Action, error)
}

// Validator vets an action type and its text before execution.
// Implemented by *security.Guard.
type Validator interface {
	ValidateAction(actionType, userID string, details map[string]any) (bool, *security.Event)
}

// Status is the outcome class of a confirm or cancel.
type Status string

const (
	StatusExpired   Status = "expired"
	StatusInvalid   Status = "invalid"
	StatusBlocked   Status = "blocked"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// User-visible replies.
const (
	MsgExpired   = "This action has expired."
	MsgInvalid   = "This action is no longer valid."
	MsgBlocked   = "This action was blocked for security reasons."
	MsgCancelled = "Action cancelled."
)

// Decision reports what a confirm or cancel did.
type Decision struct {
	Status  Status
	Text    string
	Action  *Action
	Outcome *Outcome
	Threat  *security.Event
}

// Confirmer turns confirm and cancel signals into at most one execution
// per action.
type Confirmer struct {
	services Services
	guard    Validator
	logger   *slog.Logger
}

// NewConfirmer returns a confirmer. guard may be nil to skip validation.
func NewConfirmer(services Services, guard Validator, logger *slog.Logger) *Confirmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Confirmer{services: services, guard: guard, logger: logger}
}

// Services returns the collaborators actions execute against.
func (c *Confirmer) Services() Services { return c.services }

func (c *Confirmer) claim(h Holder, actionID string) (*Action, *Decision) {
	a, err := h.ClaimPending(actionID)
	switch {
	case errors.Is(err, ErrMismatch):
		return nil, &Decision{Status: StatusInvalid, Text: MsgInvalid}
	case err != nil || a == nil:
		return nil, &Decision{Status: StatusExpired, Text: MsgExpired}
	}
	return a, nil
}

// Confirm claims the pending action with actionID from h, validates it
// and executes it.
func (c *Confirmer) Confirm(ctx context.Context, userID string, h Holder, actionID string) Decision {
	a, reject := c.claim(h, actionID)
	if reject != nil {
		c.logger.Info("confirmation rejected", "user_id", userID, "action_id", actionID, "status", reject.Status)
		return *reject
	}

	if c.guard != nil {
		ok, threat := c.guard.ValidateAction(string(a.Kind), userID, map[string]any{"body": a.Text()})
		if !ok {
			c.logger.Warn("action blocked", "user_id", userID, "action_id", a.ID, "action_type", a.Kind)
			return Decision{Status: StatusBlocked, Text: MsgBlocked, Action: a, Threat: threat}
		}
	}

	out := a.Execute(ctx, c.services)
	d := Decision{Action: a, Outcome: &out}
	if out.Success {
		d.Status = StatusExecuted
		d.Text = "Action completed: " + out.Message
	} else {
		d.Status = StatusFailed
		d.Text = out.Message
	}
	c.logger.Info("action executed", "user_id", userID, "action_id", a.ID, "action_type", a.Kind, "success", out.Success)
	return d
}

// Cancel claims and discards the pending action with actionID.
func (c *Confirmer) Cancel(userID string, h Holder, actionID string) Decision {
	a, reject := c.claim(h, actionID)
	if reject != nil {
		return *reject
	}
	c.logger.Info("action cancelled", "user_id", userID, "action_id", a.ID, "action_type", a.Kind)
	return Decision{Status: StatusCancelled, Text: MsgCancelled, Action: a}
}
