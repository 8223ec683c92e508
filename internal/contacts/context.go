package contacts

import (
	"fmt"
	"strings"
)

// MentionedContext returns a short description of directory contacts
// whose name appears in message, for inclusion in the system prompt.
// At most max contacts are described.
func (s *Store) MentionedContext(message string, max int) string {
	if message == "" || max <= 0 {
		return ""
	}
	lower := strings.ToLower(message)

	all, err := s.ListAll()
	if err != nil {
		s.logger.Warn("list contacts for context failed", "error", err)
		return ""
	}

	var sb strings.Builder
	included := 0
	for _, c := range all {
		if included >= max || !mentions(lower, c.Name) {
			continue
		}
		facts, _ := s.Facts(c.ID)

		sb.WriteString("- " + c.Name)
		if c.Relationship != "" {
			fmt.Fprintf(&sb, " (%s)", c.Relationship)
		}
		if org := facts[FactOrg]; len(org) > 0 {
			fmt.Fprintf(&sb, ", %s", org[0])
		}
		if emails := facts[FactEmail]; len(emails) > 0 {
			fmt.Fprintf(&sb, " <%s>", emails[0])
		}
		if c.Summary != "" {
			sb.WriteString(": " + c.Summary)
		}
		sb.WriteString("\n")
		included++
	}
	if included == 0 {
		return ""
	}
	return "People mentioned:\n" + sb.String()
}

// mentions reports whether the full name, or its first name when at
// least three letters, occurs as a word in lower.
func mentions(lower, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if containsWord(lower, name) {
		return true
	}
	first, _, _ := strings.Cut(name, " ")
	return len(first) >= 3 && first != name && containsWord(lower, first)
}

func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}
