package agent

import (
	"context"

	"github.com/hanig/hani-replica/internal/conversation"
)

// maxStreamedResult caps tool output carried by tool_done events.
const maxStreamedResult = 200

// EventKind identifies a streaming event.
type EventKind string

// Event kinds. Every stream ends with exactly one EventDone.
const (
	EventThinking  EventKind = "thinking"
	EventTextDelta EventKind = "text_delta"
	EventToolStart EventKind = "tool_start"
	EventToolDone  EventKind = "tool_done"
	EventError     EventKind = "error"
	EventDone      EventKind = "done"
)

// Event is one progress update from a streaming run.
type Event struct {
	Kind       EventKind      `json:"type"`
	Text       string         `json:"content,omitempty"`
	AgentType  string         `json:"agent_type,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	ToolResult string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Iteration  int            `json:"iteration,omitempty"`

	// Final is set on EventDone.
	Final *Result `json:"final,omitempty"`
}

// Emit delivers an event to the consumer. It returns false once the
// consumer has gone away.
type Emit func(Event) bool

func (e Emit) send(ev Event) bool {
	if e == nil {
		return true
	}
	return e(ev)
}

// Stream runs produce on its own goroutine and returns the events it
// emits. The result of produce becomes the closing EventDone, preceded
// by an EventError when it failed. Sends give up when ctx is done, so an
// abandoned channel never blocks the producer.
func Stream(ctx context.Context, produce func(emit Emit) *Result) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		emit := Emit(func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})

		res := produce(emit)
		if res == nil {
			res = &Result{Success: false, Error: "no result"}
		}
		if !res.Success && res.Error != "" {
			if !emit(Event{Kind: EventError, AgentType: res.AgentType, Error: res.Error}) {
				return
			}
		}
		emit(Event{Kind: EventDone, AgentType: res.AgentType, Text: res.Response, Final: res})
	}()
	return ch
}

// RunStream is Run with progress events. Text deltas arrive in model
// order before the iteration's tool or done events.
func (l *Loop) RunStream(ctx context.Context, message string, history []conversation.Turn, opts Options) <-chan Event {
	return Stream(ctx, func(emit Emit) *Result {
		return l.run(ctx, message, history, opts, emit)
	})
}

// Collect drains a stream and returns its final result. Events are
// passed to fn when it is non-nil.
func Collect(events <-chan Event, fn func(Event)) *Result {
	var final *Result
	for ev := range events {
		if fn != nil {
			fn(ev)
		}
		if ev.Kind == EventDone {
			final = ev.Final
		}
	}
	return final
}
