// Package llm talks to the model API. The rest of the code depends only on
// the Client interface, so tests substitute scripted fakes.
package llm

import (
	"context"
	"strings"
)

// Client is the interface all model providers implement.
type Client interface {
	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, req Request) (*ChatResponse, error)

	// ChatStream sends a request in streaming mode, invoking callback for
	// each fragment before returning the assembled response.
	ChatStream(ctx context.Context, req Request, callback StreamCallback) (*ChatResponse, error)

	// Ping checks that the provider is reachable and the key is valid.
	Ping(ctx context.Context) error
}

// FirstText returns the response text, or "" for a nil response.
func FirstText(resp *ChatResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Message.Content
}

// StripCodeFence removes a markdown code fence wrapped around a JSON
// reply, which small models add even when told not to.
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
