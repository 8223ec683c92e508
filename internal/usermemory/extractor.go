package usermemory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hanig/hani-replica/internal/conversation"
	"github.com/hanig/hani-replica/internal/llm"
	"github.com/hanig/hani-replica/internal/prompts"
)

// SourceConversation marks memories learned from chat transcripts.
const SourceConversation = "conversation"

// extractionConfidence is lower than a memory the user stated directly.
const extractionConfidence = 0.8

// LLMExtractor learns memories from finished exchanges using the small
// model tier.
type LLMExtractor struct {
	store  *Store
	client llm.Client
	model  string
	logger *slog.Logger
}

// NewLLMExtractor returns an extractor that writes into store.
func NewLLMExtractor(store *Store, client llm.Client, model string, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{store: store, client: client, model: model, logger: logger}
}

type extracted struct {
	Type  Type   `json:"type"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Extract asks the model for durable facts in turns and stores them.
// Contacts whose value is an address become aliases.
func (e *LLMExtractor) Extract(ctx context.Context, userID string, turns []conversation.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	var transcript strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&transcript, "%s: %s\n", t.Role, t.Content)
	}

	resp, err := e.client.Chat(ctx, llm.Request{
		Model:     e.model,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompts.MemoryExtractionPrompt(transcript.String())}},
		MaxTokens: 512,
	})
	if err != nil {
		return fmt.Errorf("extract memories: %w", err)
	}

	items, err := parseExtracted(llm.FirstText(resp))
	if err != nil {
		return err
	}

	stored := 0
	for _, it := range items {
		if !it.Type.Valid() || strings.TrimSpace(it.Key) == "" || strings.TrimSpace(it.Value) == "" {
			continue
		}
		if it.Type == TypeContact && strings.Contains(it.Value, "@") {
			if err := e.store.AddContactAlias(ctx, userID, it.Key, it.Value, "", SourceConversation); err != nil {
				return err
			}
			stored++
			continue
		}
		if _, err := e.store.Remember(ctx, userID, it.Key, it.Value, it.Type, SourceConversation, extractionConfidence); err != nil {
			return err
		}
		stored++
	}

	if stored > 0 {
		e.logger.Debug("memories extracted", "user_id", userID, "count", stored)
	}
	return nil
}

func parseExtracted(content string) ([]extracted, error) {
	content = llm.StripCodeFence(content)
	if content == "" {
		return nil, nil
	}
	var items []extracted
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil, fmt.Errorf("parse extracted memories: %w", err)
	}
	return items, nil
}
