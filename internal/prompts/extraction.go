package prompts

import "fmt"

// memoryExtractionTemplate asks the intent-tier model for durable facts
// about the user. The single format verb is the conversation transcript.
const memoryExtractionTemplate = `Extract durable facts about the user from this conversation that would be
useful in future conversations. Focus on:
- Preferences (preferred calendar or account, meeting times, formats)
- Contacts (who a nickname refers to, with their email address)
- Facts the user shared about themselves (role, employer, projects)
- Corrections the user made to the assistant

Valid types: preference, contact, fact, correction

Return a JSON array only. Each element is {"type": ..., "key": ..., "value": ...}.
Keys are short snake_case identifiers. For contacts the key is the lowercase
nickname and the value is the email address.

Examples:

[{"type": "preference", "key": "default_calendar", "value": "work"}]

[{"type": "contact", "key": "jen", "value": "jennifer@example.com"},
 {"type": "fact", "key": "employer", "value": "Works at Example Labs"}]

If nothing is worth remembering, return [].

Conversation:
%s

JSON:`

// MemoryExtractionPrompt returns the fact extraction prompt for a
// "role: content" transcript.
func MemoryExtractionPrompt(transcript string) string {
	return fmt.Sprintf(memoryExtractionTemplate, transcript)
}
