package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hanig/hani-replica/internal/httpkit"
)

const (
	// DefaultAnthropicURL is the Messages API endpoint.
	DefaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the Messages endpoint (proxies, tests).
	BaseURL string `yaml:"base_url"`
	// PingModel is the model used by Ping.
	PingModel string `yaml:"ping_model"`
}

// Configured reports whether an API key is set.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	url        string
	pingModel  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	url := cfg.BaseURL
	if url == "" {
		url = DefaultAnthropicURL
	}
	ping := cfg.PingModel
	if ping == "" {
		ping = "claude-3-haiku-20240307"
	}
	return &AnthropicClient{
		apiKey:    cfg.APIKey,
		url:       url,
		pingModel: ping,
		logger:    logger.With("provider", "anthropic"),
		// Streaming responses are long-lived; callers bound them with ctx.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
	Error        *anthropicError    `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Chat sends a non-streaming request.
func (c *AnthropicClient) Chat(ctx context.Context, req Request) (*ChatResponse, error) {
	body, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	result := convertFromAnthropic(&resp)

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// ChatStream sends a streaming request. Text fragments and tool_use block
// starts are delivered to callback as they arrive; the assembled response
// is returned once the stream ends.
func (c *AnthropicClient) ChatStream(ctx context.Context, req Request, callback StreamCallback) (*ChatResponse, error) {
	body, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	resp, err := parseStream(body, callback)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	if callback != nil {
		callback(StreamEvent{Kind: KindDone, Response: resp})
	}
	return resp, nil
}

// Ping sends a one-token request to verify the API key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	body, err := c.do(ctx, Request{
		Model:     c.pingModel,
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: 1,
	}, false)
	if err != nil {
		return err
	}
	httpkit.DrainAndClose(body, 64*1024)
	return nil
}

func (c *AnthropicClient) do(ctx context.Context, req Request, stream bool) (io.ReadCloser, error) {
	msgs, system := convertToAnthropic(req.Messages)
	if req.System != "" {
		if system != "" {
			system = req.System + "\n\n" + system
		} else {
			system = req.System
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := anthropicRequest{
		Model:     req.Model,
		Messages:  msgs,
		System:    system,
		MaxTokens: maxTokens,
		Stream:    stream,
		Tools:     convertToolsToAnthropic(req.Tools),
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(msgs),
		"tools", len(payload.Tools),
		"stream", stream,
		"system_len", len(system),
	)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(data))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}
	return resp.Body, nil
}

// parseStream consumes an SSE body. Tool arguments arrive as JSON
// fragments and are decoded when their block closes.
func parseStream(body io.Reader, callback StreamCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		text        strings.Builder
		toolCalls   []ToolCall
		currentTool *anthropicContent
		toolJSON    strings.Builder
		stopReason  string
		usage       anthropicUsage
		model       string
	)

	emit := func(ev StreamEvent) {
		if callback != nil {
			callback(ev)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage = event.Message.Usage
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentTool = event.ContentBlock
				toolJSON.Reset()
				emit(StreamEvent{
					Kind: KindToolCallStart,
					ToolCall: &ToolCall{
						ID:       currentTool.ID,
						Function: FunctionCall{Name: currentTool.Name},
					},
				})
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				text.WriteString(event.Delta.Text)
				emit(StreamEvent{Kind: KindToken, Token: event.Delta.Text})
			case "input_json_delta":
				toolJSON.WriteString(event.Delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool == nil {
				continue
			}
			args := map[string]any{}
			if toolJSON.Len() > 0 {
				if err := json.Unmarshal([]byte(toolJSON.String()), &args); err != nil {
					args = map[string]any{"_raw": toolJSON.String()}
				}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       currentTool.ID,
				Function: FunctionCall{Name: currentTool.Name, Arguments: args},
			})
			currentTool = nil

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "error":
			if event.Error != nil {
				return nil, fmt.Errorf("anthropic stream error: %s: %s", event.Error.Type, event.Error.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	return &ChatResponse{
		Model: model,
		Message: Message{
			Role:      RoleAssistant,
			Content:   text.String(),
			ToolCalls: toolCalls,
		},
		StopReason:   stopReason,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}, nil
}

// convertToAnthropic converts messages to the Anthropic wire format.
// System messages are lifted into the system prompt and runs of tool
// results are merged into one user turn, which the API requires when an
// assistant turn carries several tool_use blocks.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)

		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, anthropicMessage{Role: RoleAssistant, Content: msg.Content})
				continue
			}
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for i, tc := range msg.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s_%d", tc.Function.Name, i)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    id,
					Name:  tc.Function.Name,
					Input: args,
				})
			}
			result = append(result, anthropicMessage{Role: RoleAssistant, Content: blocks})

		case RoleTool:
			block := anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if n := len(result); n > 0 && result[n-1].Role == RoleUser {
				if prev, ok := result[n-1].Content.([]anthropicContent); ok && len(prev) > 0 && prev[0].Type == "tool_result" {
					result[n-1].Content = append(prev, block)
					continue
				}
			}
			result = append(result, anthropicMessage{Role: RoleUser, Content: []anthropicContent{block}})

		case RoleUser:
			result = append(result, anthropicMessage{Role: RoleUser, Content: msg.Content})
		}
	}

	return result, strings.Join(systemParts, "\n\n")
}

// convertToolsToAnthropic converts OpenAI-format tool definitions.
func convertToolsToAnthropic(tools []map[string]any) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	var result []anthropicTool
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params := fn["parameters"]
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        name,
			Description: desc,
			InputSchema: params,
		})
	}
	return result
}

func convertFromAnthropic(resp *anthropicResponse) *ChatResponse {
	var text strings.Builder
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       block.ID,
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}

	role := resp.Role
	if role == "" {
		role = RoleAssistant
	}
	return &ChatResponse{
		Model: resp.Model,
		Message: Message{
			Role:      role,
			Content:   text.String(),
			ToolCalls: toolCalls,
		},
		StopReason:   resp.StopReason,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
