package email

import (
	"fmt"
	"strings"
)

// ContactChecker reports whether an address belongs to a known person.
// It is implemented by the contacts directory without this package
// importing it.
type ContactChecker interface {
	IsKnownEmail(addr string) bool
}

// UnknownRecipients returns the bare addresses in addrs that the
// checker does not recognize, in input order without duplicates. A nil
// checker recognizes nobody and nothing is reported.
func UnknownRecipients(cc ContactChecker, addrs ...[]string) []string {
	if cc == nil {
		return nil
	}
	seen := make(map[string]bool)
	var unknown []string
	for _, list := range addrs {
		for _, a := range list {
			bare := strings.ToLower(extractAddress(strings.TrimSpace(a)))
			if bare == "" || seen[bare] {
				continue
			}
			seen[bare] = true
			if !cc.IsKnownEmail(bare) {
				unknown = append(unknown, bare)
			}
		}
	}
	return unknown
}

// RecipientWarning formats a one-line note about unknown recipients,
// or "" when there are none.
func RecipientWarning(unknown []string) string {
	switch len(unknown) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("Note: %s is not in your contacts.", unknown[0])
	default:
		return fmt.Sprintf("Note: %s are not in your contacts.", strings.Join(unknown, ", "))
	}
}
