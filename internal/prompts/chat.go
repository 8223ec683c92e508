package prompts

import (
	"fmt"
	"strings"
)

// chatTemplate is the system prompt for conversational replies that need
// no tools. The single format verb is the current date.
const chatTemplate = `You are the user's friendly personal AI assistant.

Today's date: %s

You're having a casual conversation. Respond naturally and helpfully.
Keep responses concise but warm. You can help with:
- Calendar (check schedule, find availability, create events)
- Email (search, create drafts)
- GitHub (PRs, issues, code search)
- Tasks, Notion pages, people and general questions

If asked what you can do, briefly explain your capabilities.
For greetings, respond warmly and offer to help.`

// ChatSystemPrompt returns the system prompt for a no-tools
// conversational completion.
func ChatSystemPrompt(currentDate string) string {
	return fmt.Sprintf(chatTemplate, currentDate)
}

// SpecialistOutput is one specialist's answer fed to synthesis.
type SpecialistOutput struct {
	Agent    string
	Response string
}

// synthesisTemplate merges specialist answers. The format verbs are the
// original request and the labelled specialist outputs.
const synthesisTemplate = `The user asked: "%s"

Multiple specialist agents provided the following information:

%s

Please synthesize these results into a single, coherent response that:
1. Addresses all parts of the user's question
2. Organizes information logically
3. Avoids repetition
4. Is concise but complete

Provide the synthesized response:`

// SynthesisPrompt returns the prompt asking the model to merge several
// specialist answers into one.
func SynthesisPrompt(message string, outputs []SpecialistOutput) string {
	sections := make([]string, 0, len(outputs))
	for _, o := range outputs {
		sections = append(sections, fmt.Sprintf("=== %s AGENT ===\n%s", strings.ToUpper(o.Agent), o.Response))
	}
	return fmt.Sprintf(synthesisTemplate, message, strings.Join(sections, "\n\n"))
}
