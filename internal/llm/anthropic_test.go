package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "What's on my calendar?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a helpful assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropic_MergesToolResults(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Check my calendar and inbox."},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: FunctionCall{Name: "GetCalendarEventsTool", Arguments: map[string]any{"date": "today"}}},
				{ID: "toolu_2", Function: FunctionCall{Name: "GetUnreadCountsTool"}},
			},
		},
		{Role: RoleTool, Content: `{"count":2}`, ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: `{"total":5}`, ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 {
		t.Fatalf("expected user, assistant, user; got %d messages", len(result))
	}

	assistant, ok := result[1].Content.([]anthropicContent)
	if !ok || len(assistant) != 2 {
		t.Fatalf("assistant content = %#v, want 2 tool_use blocks", result[1].Content)
	}
	if assistant[1].Input == nil {
		t.Error("nil arguments should be sent as an empty object")
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok {
		t.Fatal("expected tool results to be []anthropicContent")
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 tool_result blocks in one turn, got %d", len(results))
	}
	if results[0].ToolUseID != "toolu_1" || results[1].ToolUseID != "toolu_2" {
		t.Errorf("tool_use ids = %q, %q", results[0].ToolUseID, results[1].ToolUseID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "SearchEmailsTool",
				"description": "Search email",
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
				},
			},
		},
		{"type": "function"}, // malformed, skipped
	}

	result := convertToolsToAnthropic(tools)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	if result[0].Name != "SearchEmailsTool" || result[0].Description != "Search email" {
		t.Errorf("unexpected tool %+v", result[0])
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model: "claude-sonnet-4-20250514",
		Role:  RoleAssistant,
		Content: []anthropicContent{
			{Type: "text", Text: "Let me look."},
			{Type: "tool_use", ID: "toolu_xyz", Name: "GetGitHubPRsTool", Input: map[string]any{"state": "open"}},
		},
		StopReason: StopToolUse,
	}

	result := convertFromAnthropic(resp)

	if result.Message.Content != "Let me look." {
		t.Errorf("unexpected content: %q", result.Message.Content)
	}
	if result.StopReason != StopToolUse {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopToolUse)
	}
	if len(result.Message.ToolCalls) != 1 || result.Message.ToolCalls[0].Function.Name != "GetGitHubPRsTool" {
		t.Fatalf("unexpected tool calls %+v", result.Message.ToolCalls)
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"model":"m","role":"assistant","stop_reason":"end_turn",
			"content":[{"type":"text","text":"All clear."}],
			"usage":{"input_tokens":10,"output_tokens":3}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL}, slog.Default())
	resp, err := c.Chat(context.Background(), Request{
		Model:     "m",
		System:    "be brief",
		Messages:  []Message{{Role: RoleUser, Content: "status?"}},
		MaxTokens: 1024,
	})
	if err != nil {
		t.Fatal(err)
	}

	if got.System != "be brief" || got.MaxTokens != 1024 || got.Stream {
		t.Errorf("request = %+v", got)
	}
	if resp.Message.Content != "All clear." || resp.StopReason != StopEndTurn {
		t.Errorf("response = %+v", resp)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 3 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicClient_ChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, 529)
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL}, slog.Default())
	_, err := c.Chat(context.Background(), Request{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "529") {
		t.Fatalf("err = %v, want API error 529", err)
	}
}

const sseToolStream = `event: message_start
data: {"type":"message_start","message":{"model":"m","usage":{"input_tokens":12}}}

data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Check"}}

data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ing..."}}

data: {"type":"content_block_stop","index":0}

data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_9","name":"GetCalendarEventsTool"}}

data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"date\":"}}

data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"today\"}"}}

data: {"type":"content_block_stop","index":1}

data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":20}}

data: {"type":"message_stop"}
`

func TestAnthropicClient_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseToolStream)
	}))
	defer srv.Close()

	var order []string
	c := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL}, slog.Default())
	resp, err := c.ChatStream(context.Background(), Request{Model: "m"}, func(ev StreamEvent) {
		switch ev.Kind {
		case KindToken:
			order = append(order, "token:"+ev.Token)
		case KindToolCallStart:
			order = append(order, "tool:"+ev.ToolCall.Function.Name)
			if ev.ToolCall.Function.Arguments != nil {
				t.Error("arguments must not be known at tool start")
			}
		case KindDone:
			order = append(order, "done")
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"token:Check", "token:ing...", "tool:GetCalendarEventsTool", "done"}
	if strings.Join(order, "|") != strings.Join(want, "|") {
		t.Errorf("event order = %v, want %v", order, want)
	}
	if resp.StopReason != StopToolUse {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
	if resp.Message.Content != "Checking..." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Arguments["date"] != "today" {
		t.Errorf("tool calls = %+v", resp.Message.ToolCalls)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 20 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestParseStream_ErrorEvent(t *testing.T) {
	body := `data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` + "\n"
	if _, err := parseStream(strings.NewReader(body), nil); err == nil {
		t.Fatal("expected error from stream error event")
	}
}

func TestAnthropicClientImplementsInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
}
