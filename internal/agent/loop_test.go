package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hanig/hani-replica/internal/action"
	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/tools"
)

// mockLLM returns pre-configured responses in sequence and records each
// request.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	calls     []llm.Request

	// tokens are streamed before each ChatStream response.
	tokens []string
}

func (m *mockLLM) next(req llm.Request) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.calls) > len(m.responses) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", len(m.calls))
	}
	return m.responses[len(m.calls)-1], nil
}

func (m *mockLLM) Chat(_ context.Context, req llm.Request) (*llm.ChatResponse, error) {
	return m.next(req)
}

func (m *mockLLM) ChatStream(_ context.Context, req llm.Request, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}
	for _, tok := range m.tokens {
		cb(llm.StreamEvent{Kind: llm.KindToken, Token: tok})
	}
	for i := range resp.Message.ToolCalls {
		tc := resp.Message.ToolCalls[i]
		cb(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &llm.ToolCall{ID: tc.ID, Function: llm.FunctionCall{Name: tc.Function.Name}}})
	}
	cb(llm.StreamEvent{Kind: llm.KindDone, Response: resp})
	return resp, nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:    llm.Message{Role: llm.RoleAssistant, Content: text},
		StopReason: llm.StopEndTurn,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:    llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		StopReason: llm.StopToolUse,
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testExecutor registers lookup (echoes its query), broken (always
// fails), park (asks for confirmation) and the respond tool.
func testExecutor() *tools.Executor {
	reg := tools.NewEmptyRegistry()
	reg.Register(&tools.Tool{
		Name: "lookup",
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return "found " + fmt.Sprint(args["q"]), nil
		},
	})
	reg.Register(&tools.Tool{
		Name: "broken",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("backend down")
		},
	})
	reg.Register(&tools.Tool{
		Name: "park",
		Handler: func(context.Context, map[string]any) (any, error) {
			return map[string]any{
				"requires_confirmation": true,
				"confirmation": action.Confirmation{
					Text:       "Please confirm: Create Draft\n\nTo: a@b.c",
					ActionType: "create_draft",
					Preview:    "To: a@b.c",
					ActionID:   "act-1",
				},
			}, nil
		},
	})
	reg.Register(&tools.Tool{
		Name: tools.RespondToUser,
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	})
	return tools.NewExecutor(reg, discardLogger())
}

func buildTestLoop(mock *mockLLM, cfg Config) *Loop {
	if cfg.Type == "" {
		cfg.Type = "research"
	}
	l := New(cfg, mock, testExecutor(), discardLogger())
	l.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	return l
}

func TestNew_LogsUnregisteredTools(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	New(Config{Type: "email", ToolNames: []string{"lookup", "SendEmailTool"}}, &mockLLM{}, testExecutor(), logger)

	out := logs.String()
	if !strings.Contains(out, "agent tool skipped") || !strings.Contains(out, "SendEmailTool") {
		t.Errorf("missing tool not logged:\n%s", out)
	}
	if strings.Contains(out, `\"lookup\"`) {
		t.Errorf("registered tool logged as missing:\n%s", out)
	}
}

func TestRun_EndTurn(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("All clear.")}}
	loop := buildTestLoop(mock, Config{SystemPrompt: "Today is {current_date}.", Location: time.UTC})

	res := loop.Run(context.Background(), "anything new?", nil, Options{})
	if !res.Success || res.Response != "All clear." {
		t.Fatalf("result = %+v", res)
	}
	if res.AgentType != "research" || res.Iterations != 1 {
		t.Errorf("agent type %q, iterations %d", res.AgentType, res.Iterations)
	}
	if got := mock.calls[0].System; got != "Today is 2026-03-10 Tuesday." {
		t.Errorf("system prompt = %q", got)
	}
}

func TestRun_ToolThenAnswer(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse(call("c1", "lookup", map[string]any{"q": "budget"}), call("c2", "broken", nil)),
		textResponse("Here is the budget."),
	}}
	loop := buildTestLoop(mock, Config{})

	res := loop.Run(context.Background(), "find the budget", nil, Options{})
	if !res.Success || res.Response != "Here is the budget." || res.Iterations != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(res.ToolCalls))
	}
	if rec := res.ToolCalls[0]; rec.Tool != "lookup" || rec.Result != "found budget" || !rec.Success {
		t.Errorf("first record = %+v", rec)
	}
	if rec := res.ToolCalls[1]; rec.Success || rec.Result != "Error: backend down" {
		t.Errorf("failed tool record = %+v", rec)
	}

	// Second call sees the assistant tool turn and both results.
	msgs := mock.calls[1].Messages
	if len(msgs) != 4 {
		t.Fatalf("second call has %d messages, want 4", len(msgs))
	}
	if msgs[1].Role != llm.RoleAssistant || len(msgs[1].ToolCalls) != 2 {
		t.Errorf("assistant turn = %+v", msgs[1])
	}
	if msgs[2].Role != llm.RoleTool || msgs[2].ToolCallID != "c1" || msgs[3].ToolCallID != "c2" {
		t.Errorf("tool results = %+v, %+v", msgs[2], msgs[3])
	}
}

func TestRun_RespondToUserShortCircuits(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse(
			call("c1", tools.RespondToUser, map[string]any{"message": "Done and dusted."}),
			call("c2", "lookup", map[string]any{"q": "never"}),
		),
	}}
	loop := buildTestLoop(mock, Config{})

	res := loop.Run(context.Background(), "wrap up", nil, Options{})
	if !res.Success || res.Response != "Done and dusted." {
		t.Fatalf("result = %+v", res)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Tool != tools.RespondToUser {
		t.Errorf("later calls in the turn should be skipped: %+v", res.ToolCalls)
	}
	if len(mock.calls) != 1 {
		t.Errorf("model calls = %d, want 1", len(mock.calls))
	}
}

func TestRun_ConfirmationShortCircuits(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse(call("c1", "park", nil), call("c2", "lookup", nil)),
	}}
	loop := buildTestLoop(mock, Config{})

	res := loop.Run(context.Background(), "draft it", nil, Options{})
	if !res.Success || !res.RequiresConfirmation() {
		t.Fatalf("result = %+v", res)
	}
	if res.Response != "Please confirm: Create Draft\n\nTo: a@b.c" {
		t.Errorf("response = %q", res.Response)
	}
	for k, want := range map[string]any{"action_id": "act-1", "action_type": "create_draft", "preview": "To: a@b.c"} {
		if res.Metadata[k] != want {
			t.Errorf("metadata[%s] = %v, want %v", k, res.Metadata[k], want)
		}
	}
	if len(res.ToolCalls) != 1 {
		t.Errorf("tool calls = %d, want 1", len(res.ToolCalls))
	}
}

func TestRun_ModelError(t *testing.T) {
	mock := &mockLLM{err: errors.New("overloaded")}
	res := buildTestLoop(mock, Config{}).Run(context.Background(), "hi", nil, Options{})

	if res.Success || res.Error != "overloaded" || res.Response != "I encountered an error: overloaded" {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_MaxIterations(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse(call("c1", "lookup", map[string]any{"q": "a"})),
		toolResponse(call("c2", "lookup", map[string]any{"q": "b"})),
		toolResponse(call("c3", "lookup", map[string]any{"q": "c"})),
	}}
	loop := buildTestLoop(mock, Config{MaxIterations: 5})

	res := loop.Run(context.Background(), "loop forever", nil, Options{MaxIterations: 2})
	if res.Success || res.Error != MaxIterationsError || res.Response != MaxIterationsResponse {
		t.Fatalf("result = %+v", res)
	}
	if res.Iterations != 2 || len(res.ToolCalls) != 2 {
		t.Errorf("iterations %d, tool calls %d; want 2 and 2", res.Iterations, len(res.ToolCalls))
	}
}

func TestRun_OtherStopReason(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{{StopReason: llm.StopMaxTokens}}}
	res := buildTestLoop(mock, Config{}).Run(context.Background(), "long one", nil, Options{})
	if !res.Success || res.Response != "Task completed." {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_RestrictedTools(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse(call("c1", "broken", nil)),
		textResponse("ok"),
	}}
	loop := buildTestLoop(mock, Config{ToolNames: []string{"lookup", tools.RespondToUser}})

	res := loop.Run(context.Background(), "x", nil, Options{})
	if len(mock.calls[0].Tools) != 2 {
		t.Errorf("model saw %d tools, want 2", len(mock.calls[0].Tools))
	}
	if res.ToolCalls[0].Result != "Error: Unknown tool: broken" {
		t.Errorf("out-of-scope tool result = %q", res.ToolCalls[0].Result)
	}
}

func TestRun_HistoryWindowAndTruncation(t *testing.T) {
	long := strings.Repeat("x", 600)
	reg := tools.NewEmptyRegistry()
	reg.Register(&tools.Tool{Name: "big", Handler: func(context.Context, map[string]any) (any, error) { return long, nil }})

	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolResponse(call("c1", "big", nil)),
		textResponse("done"),
	}}
	loop := New(Config{HistoryTurns: 2}, mock, tools.NewExecutor(reg, discardLogger()), discardLogger())

	history := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "one"},
		{Role: conversation.RoleAssistant, Content: "two"},
		{Role: conversation.RoleUser, Content: "three"},
	}
	res := loop.Run(context.Background(), "four", history, Options{})

	msgs := mock.calls[0].Messages
	if len(msgs) != 3 || msgs[0].Content != "two" || msgs[2].Content != "four" {
		t.Errorf("messages = %+v", msgs)
	}
	if n := len([]rune(res.ToolCalls[0].Result)); n != 500 {
		t.Errorf("recorded result length = %d, want 500", n)
	}
}

type fakeMemory struct {
	summary string
	got     chan []conversation.Turn
}

func (f *fakeMemory) ContextSummary(context.Context, string, int) (string, error) {
	return f.summary, nil
}

func (f *fakeMemory) Extract(_ context.Context, _ string, turns []conversation.Turn) error {
	f.got <- turns
	return errors.New("ignored")
}

func TestRun_Memory(t *testing.T) {
	mem := &fakeMemory{summary: "- Prefers mornings", got: make(chan []conversation.Turn, 1)}
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("Sure.")}}
	loop := buildTestLoop(mock, Config{SystemPrompt: "Base."})
	loop.SetMemory(mem, mem)

	res := loop.Run(context.Background(), "book it", nil, Options{UserID: "U1"})
	if !res.Success {
		t.Fatalf("extraction failure leaked into result: %+v", res)
	}
	if got := mock.calls[0].System; got != "Base.\n\nUser context:\n- Prefers mornings" {
		t.Errorf("system prompt = %q", got)
	}

	select {
	case turns := <-mem.got:
		if len(turns) != 2 || turns[0].Content != "book it" || turns[1].Content != "Sure." {
			t.Errorf("extracted turns = %+v", turns)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("extractor was not called")
	}
}

type fakePeople struct{ got string }

func (f *fakePeople) MentionedContext(message string, max int) string {
	f.got = message
	if max != mentionedPeople || !strings.Contains(message, "Jane") {
		return ""
	}
	return "People mentioned:\n- Jane Doe (colleague)\n"
}

func TestRun_PeopleContext(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("Done."), textResponse("Ok.")}}
	loop := buildTestLoop(mock, Config{SystemPrompt: "Base."})
	people := &fakePeople{}
	loop.SetPeople(people)

	loop.Run(context.Background(), "email Jane about lunch", nil, Options{})
	if people.got != "email Jane about lunch" {
		t.Errorf("looked up %q", people.got)
	}
	if got := mock.calls[0].System; got != "Base.\n\nPeople mentioned:\n- Jane Doe (colleague)\n" {
		t.Errorf("system prompt = %q", got)
	}

	loop.Run(context.Background(), "what's the weather", nil, Options{})
	if got := mock.calls[1].System; got != "Base." {
		t.Errorf("system prompt without mentions = %q", got)
	}
}

func TestRunStream_Events(t *testing.T) {
	mock := &mockLLM{
		responses: []*llm.ChatResponse{
			toolResponse(call("c1", "lookup", map[string]any{"q": "pr"})),
			textResponse("Two PRs."),
		},
		tokens: []string{"Two ", "PRs."},
	}
	loop := buildTestLoop(mock, Config{Type: "github"})

	var kinds []EventKind
	var text strings.Builder
	final := Collect(loop.RunStream(context.Background(), "prs?", nil, Options{}), func(ev Event) {
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventTextDelta {
			text.WriteString(ev.Text)
		}
	})

	want := []EventKind{
		EventThinking, EventTextDelta, EventTextDelta, EventToolStart, EventToolDone,
		EventThinking, EventTextDelta, EventTextDelta, EventDone,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("event kinds = %v, want %v", kinds, want)
	}
	if final == nil || !final.Success || final.Response != "Two PRs." || final.AgentType != "github" {
		t.Errorf("final = %+v", final)
	}
	if text.String() != "Two PRs.Two PRs." {
		t.Errorf("deltas = %q", text.String())
	}
}

func TestRunStream_ErrorThenDone(t *testing.T) {
	mock := &mockLLM{err: errors.New("boom")}
	var kinds []EventKind
	final := Collect(buildTestLoop(mock, Config{}).RunStream(context.Background(), "x", nil, Options{}), func(ev Event) {
		kinds = append(kinds, ev.Kind)
	})
	if fmt.Sprint(kinds) != fmt.Sprint([]EventKind{EventThinking, EventError, EventDone}) {
		t.Errorf("event kinds = %v", kinds)
	}
	if final == nil || final.Success || final.Error != "boom" {
		t.Errorf("final = %+v", final)
	}
}

func TestStream_AbandonedConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})

	events := Stream(ctx, func(emit Emit) *Result {
		defer close(finished)
		for i := 0; i < 100; i++ {
			if !emit(Event{Kind: EventTextDelta, Text: "x"}) {
				return &Result{Success: true}
			}
		}
		return &Result{Success: true}
	})
	<-events
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked after consumer left")
	}
}
