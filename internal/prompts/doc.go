// Package prompts contains the LLM prompt templates used by the assistant.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. User-facing configuration lives in config.yaml;
// this package holds the instructions we send to models (specialist system
// prompts, synthesis, intent classification, memory extraction).
//
// Convention: each prompt category gets its own file (specialists.go,
// chat.go, intent.go, extraction.go) with an exported function or constant
// per prompt.
package prompts
