package action

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSlot is returned by Propose when the context carries no slot,
// i.e. the caller cannot present a confirmation to a user.
var ErrNoSlot = errors.New("confirmations are not available in this context")

// Slot receives the action proposed while handling one request. The
// message pipeline attaches a Slot to the request context; mutating
// tools park their action in it; the pipeline moves it into the
// conversation once the turn finishes.
type Slot struct {
	mu     sync.Mutex
	action *Action
}

type slotKey struct{}

// WithSlot returns a context carrying s.
func WithSlot(ctx context.Context, s *Slot) context.Context {
	return context.WithValue(ctx, slotKey{}, s)
}

// SlotFrom returns the slot carried by ctx, or nil.
func SlotFrom(ctx context.Context) *Slot {
	s, _ := ctx.Value(slotKey{}).(*Slot)
	return s
}

// Propose parks a in the request's slot, replacing any earlier proposal
// from the same request.
func Propose(ctx context.Context, a *Action) error {
	s := SlotFrom(ctx)
	if s == nil {
		return ErrNoSlot
	}
	s.mu.Lock()
	s.action = a
	s.mu.Unlock()
	return nil
}

// Take returns the proposed action and empties the slot.
func (s *Slot) Take() *Action {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.action
	s.action = nil
	return a
}
