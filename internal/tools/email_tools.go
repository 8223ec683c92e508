package tools

import (
	"context"
	"strings"

	"github.com/hanig/hani-replica/internal/action"
	"github.com/hanig/hani-replica/internal/email"
)

func (r *Registry) registerEmailTools(s *Services) {
	r.Register(&Tool{
		Name:        "SearchEmailsTool",
		Description: "Search email across all accounts. Matches sender, subject and body text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Text to search for"},
				"from":        map[string]any{"type": "string", "description": "Filter by sender address or name"},
				"account":     map[string]any{"type": "string", "description": "Search a single account (default: all)"},
				"unread_only": map[string]any{"type": "boolean", "description": "Only unread messages"},
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of results (default 20)"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Mail == nil {
				return nil, errNotConfigured("email")
			}
			query := argString(args, "query")
			max := maxResults(args, 20)
			envs, err := s.Mail.Search(ctx, argString(args, "account"), email.SearchOptions{
				Query:    query,
				From:     argString(args, "from"),
				Unseen:   argBool(args, "unread_only"),
				Limit:    max,
				Snippets: true,
			})
			if err != nil {
				return nil, err
			}
			envs = truncate(envs, max)
			if envs == nil {
				envs = []email.Envelope{}
			}
			return map[string]any{
				"query":        query,
				"result_count": len(envs),
				"emails":       envs,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "GetUnreadCountsTool",
		Description: "Get unread email counts for all accounts.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			if s.Mail == nil {
				return nil, errNotConfigured("email")
			}
			counts, err := s.Mail.UnreadCounts(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"total_unread": counts.Total,
				"by_account":   counts.Accounts,
			}, nil
		},
	})

	mailParams := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":      map[string]any{"type": "string", "description": "Recipient email address(es), comma separated"},
			"subject": map[string]any{"type": "string", "description": "Email subject line"},
			"body":    map[string]any{"type": "string", "description": "Email body (markdown)"},
			"cc":      map[string]any{"type": "string", "description": "CC recipients, comma separated (optional)"},
			"account": map[string]any{"type": "string", "description": "Account to use (default: primary)"},
		},
		"required": []string{"to", "subject", "body"},
	}
	mailFromArgs := func(args map[string]any) action.Mail {
		return action.Mail{
			To:      argString(args, "to"),
			Cc:      argString(args, "cc"),
			Subject: argString(args, "subject"),
			Body:    argString(args, "body"),
			Account: argString(args, "account"),
		}
	}

	r.Register(&Tool{
		Name:        "CreateEmailDraftTool",
		Description: "Create an email draft. Never sends. The user is asked to confirm before the draft is saved.",
		Parameters:  mailParams,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			a := action.NewCreateDraft(mailFromArgs(args))
			a.Warning = recipientWarning(s, a.Mail)
			return propose(ctx, a)
		},
	})

	if !s.DirectSend {
		return
	}
	r.Register(&Tool{
		Name:        "SendEmailTool",
		Description: "Send an email immediately after the user confirms. Use with caution: this actually sends the email.",
		Parameters:  mailParams,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			a := action.NewSendEmail(mailFromArgs(args))
			a.Warning = recipientWarning(s, a.Mail)
			return propose(ctx, a)
		},
	})
}

// recipientWarning flags addresses missing from the contact directory.
func recipientWarning(s *Services, m *action.Mail) string {
	if s.People == nil {
		return ""
	}
	split := func(v string) []string {
		return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' })
	}
	return email.RecipientWarning(email.UnknownRecipients(s.People, split(m.To), split(m.Cc)))
}
