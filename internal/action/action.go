// Package action implements confirmable actions: operations with side
// effects (creating calendar events, drafting or sending mail, opening or
// commenting on issues) that are collected field by field across turns,
// previewed, and executed only after the user explicitly confirms.
//
// An Action is a closed sum type. Kind selects which of the variant
// field sets is populated and every operation dispatches on it.
package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags the action variant.
type Kind string

const (
	KindCreateEvent  Kind = "create_event"
	KindCreateDraft  Kind = "create_draft"
	KindSendEmail    Kind = "send_email"
	KindCreateIssue  Kind = "create_issue"
	KindCommentIssue Kind = "comment_issue"
)

// Kinds lists every action kind.
var Kinds = []Kind{KindCreateEvent, KindCreateDraft, KindSendEmail, KindCreateIssue, KindCommentIssue}

// Label is the human-readable action type shown on confirmation prompts.
func (k Kind) Label() string {
	switch k {
	case KindCreateEvent:
		return "Create Calendar Event"
	case KindCreateDraft:
		return "Create Email Draft"
	case KindSendEmail:
		return "Send Email"
	case KindCreateIssue:
		return "Create GitHub Issue"
	case KindCommentIssue:
		return "Comment on GitHub Issue"
	default:
		return string(k)
	}
}

// Event holds the fields of a calendar event creation. Date and Time are
// kept as the user phrased them and resolved at execute time.
type Event struct {
	Title           string   `json:"title"`
	Date            string   `json:"date"`
	Time            string   `json:"time"`
	DurationMinutes int      `json:"duration_minutes"`
	Attendees       []string `json:"attendees,omitempty"`
	Location        string   `json:"location,omitempty"`
	Description     string   `json:"description,omitempty"`
	Account         string   `json:"account,omitempty"`
}

// Mail holds the fields of a draft or a direct send. To and Cc are comma
// separated address lists.
type Mail struct {
	To          string `json:"to"`
	Cc          string `json:"cc,omitempty"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Account     string `json:"account,omitempty"`
	SubjectHint string `json:"subject_hint,omitempty"`
}

// Issue holds the fields of a new forge issue.
type Issue struct {
	Repo    string   `json:"repo"`
	Title   string   `json:"title"`
	Body    string   `json:"body,omitempty"`
	Labels  []string `json:"labels,omitempty"`
	Account string   `json:"account,omitempty"`
}

// Comment holds the fields of an issue comment. Number is collected as
// text ("#42" or "42") and parsed at execute time.
type Comment struct {
	Repo    string `json:"repo"`
	Number  string `json:"number"`
	Body    string `json:"body"`
	Account string `json:"account,omitempty"`
}

// Action is a pending, not yet confirmed operation. Exactly one of the
// variant pointers is non-nil, matching Kind.
type Action struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	Event   *Event   `json:"event,omitempty"`
	Mail    *Mail    `json:"mail,omitempty"`
	Issue   *Issue   `json:"issue,omitempty"`
	Comment *Comment `json:"comment,omitempty"`

	// Warning is appended to the preview, e.g. for unknown recipients.
	Warning string `json:"warning,omitempty"`
}

func newAction(k Kind) *Action {
	return &Action{ID: uuid.NewString(), Kind: k, CreatedAt: time.Now()}
}

// NewCreateEvent returns an event creation action. A zero duration
// defaults to one hour.
func NewCreateEvent(e Event) *Action {
	if e.DurationMinutes <= 0 {
		e.DurationMinutes = 60
	}
	a := newAction(KindCreateEvent)
	a.Event = &e
	return a
}

// NewCreateDraft returns a draft creation action.
func NewCreateDraft(m Mail) *Action {
	a := newAction(KindCreateDraft)
	a.Mail = &m
	return a
}

// NewSendEmail returns a direct send action.
func NewSendEmail(m Mail) *Action {
	a := newAction(KindSendEmail)
	a.Mail = &m
	return a
}

// NewCreateIssue returns an issue creation action.
func NewCreateIssue(i Issue) *Action {
	a := newAction(KindCreateIssue)
	a.Issue = &i
	return a
}

// NewCommentIssue returns an issue comment action.
func NewCommentIssue(c Comment) *Action {
	a := newAction(KindCommentIssue)
	a.Comment = &c
	return a
}

// field is one required, user-supplied value in collection order.
type field struct {
	name   string
	prompt string
	value  *string
}

// fields returns the required fields of the variant in the order they
// are asked for. Optional fields are not listed.
func (a *Action) fields() []field {
	switch a.Kind {
	case KindCreateEvent:
		e := a.Event
		return []field{
			{"title", "What should the event be called?", &e.Title},
			{"date", "What date should this event be on? (e.g., tomorrow, Monday, 2024-01-15)", &e.Date},
			{"time", "What time should it start? (e.g., 2pm, 14:00, noon)", &e.Time},
		}
	case KindCreateDraft, KindSendEmail:
		m := a.Mail
		subject := "What should the subject line be?"
		if m.SubjectHint != "" {
			subject = fmt.Sprintf("What should the subject line be? (suggested: '%s')", m.SubjectHint)
		}
		return []field{
			{"to", "Who should I address this email to? (email address)", &m.To},
			{"subject", subject, &m.Subject},
			{"body", "What should the email say?", &m.Body},
		}
	case KindCreateIssue:
		i := a.Issue
		return []field{
			{"repo", "Which repository should the issue be filed in? (owner/repo)", &i.Repo},
			{"title", "What should the issue title be?", &i.Title},
		}
	case KindCommentIssue:
		c := a.Comment
		return []field{
			{"repo", "Which repository is the issue in? (owner/repo)", &c.Repo},
			{"number", "Which issue number should I comment on?", &c.Number},
			{"body", "What should the comment say?", &c.Body},
		}
	}
	return nil
}

// NextField returns the name of the first unset required field, or ""
// when the action is ready.
func (a *Action) NextField() string {
	for _, f := range a.fields() {
		if strings.TrimSpace(*f.value) == "" {
			return f.name
		}
	}
	return ""
}

// IsReady reports whether every required field is set.
func (a *Action) IsReady() bool { return a.NextField() == "" }

// UpdateFromInput assigns text to the first unset required field.
// It is a no-op once the action is ready.
func (a *Action) UpdateFromInput(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, f := range a.fields() {
		if strings.TrimSpace(*f.value) == "" {
			*f.value = text
			return
		}
	}
}

// NextPrompt returns the question for the next unset field, or "" when
// ready.
func (a *Action) NextPrompt() string {
	for _, f := range a.fields() {
		if strings.TrimSpace(*f.value) == "" {
			return f.prompt
		}
	}
	return ""
}

// Preview renders the collected fields for the confirmation prompt.
func (a *Action) Preview() string {
	var b strings.Builder
	switch a.Kind {
	case KindCreateEvent:
		e := a.Event
		fmt.Fprintf(&b, "*Event:* %s\n*When:* %s at %s", e.Title, e.Date, e.Time)
		if e.DurationMinutes != 60 {
			fmt.Fprintf(&b, " (%d min)", e.DurationMinutes)
		}
		if e.Location != "" {
			fmt.Fprintf(&b, "\n*Location:* %s", e.Location)
		}
		if len(e.Attendees) > 0 {
			fmt.Fprintf(&b, "\n*Attendees:* %s", strings.Join(e.Attendees, ", "))
			b.WriteString("\n_(Calendar invites will be sent to attendees)_")
		}
		if e.Description != "" {
			fmt.Fprintf(&b, "\n*Description:* %s", clip(e.Description, 100))
		}
		fmt.Fprintf(&b, "\n*Account:* %s", orDefault(e.Account))
	case KindCreateDraft, KindSendEmail:
		m := a.Mail
		fmt.Fprintf(&b, "*To:* %s\n*Subject:* %s", m.To, m.Subject)
		if m.Cc != "" {
			fmt.Fprintf(&b, "\n*CC:* %s", m.Cc)
		}
		fmt.Fprintf(&b, "\n*Account:* %s", orDefault(m.Account))
		fmt.Fprintf(&b, "\n\n*Body:*\n%s", clip(m.Body, 300))
		if a.Kind == KindCreateDraft {
			b.WriteString("\n\n_This will create a draft - it will NOT be sent automatically._")
		} else {
			b.WriteString("\n\n_This email will be sent immediately after you confirm._")
		}
	case KindCreateIssue:
		i := a.Issue
		fmt.Fprintf(&b, "*Repository:* %s\n*Title:* %s", i.Repo, i.Title)
		if len(i.Labels) > 0 {
			fmt.Fprintf(&b, "\n*Labels:* %s", strings.Join(i.Labels, ", "))
		}
		if i.Body != "" {
			fmt.Fprintf(&b, "\n\n*Body:*\n%s", clip(i.Body, 300))
		}
	case KindCommentIssue:
		c := a.Comment
		fmt.Fprintf(&b, "*Issue:* %s#%s\n\n*Comment:*\n%s", c.Repo, strings.TrimPrefix(c.Number, "#"), clip(c.Body, 300))
	}
	if a.Warning != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Warning)
	}
	return b.String()
}

// Text returns the free text the action would publish. The security
// guard re-scans it before execution.
func (a *Action) Text() string {
	switch a.Kind {
	case KindCreateEvent:
		return strings.TrimSpace(a.Event.Title + "\n" + a.Event.Description)
	case KindCreateDraft, KindSendEmail:
		return strings.TrimSpace(a.Mail.Subject + "\n" + a.Mail.Body)
	case KindCreateIssue:
		return strings.TrimSpace(a.Issue.Title + "\n" + a.Issue.Body)
	case KindCommentIssue:
		return a.Comment.Body
	}
	return ""
}

// Confirmation is what a transport renders as an approve/reject prompt.
type Confirmation struct {
	Text       string `json:"text"`
	ActionType string `json:"action_type"`
	Preview    string `json:"preview"`
	ActionID   string `json:"action_id"`
}

// Confirmation returns the prompt for a ready action.
func (a *Action) Confirmation() Confirmation {
	return Confirmation{
		Text:       "Please confirm: " + a.Kind.Label() + "\n\n" + a.Preview(),
		ActionType: string(a.Kind),
		Preview:    a.Preview(),
		ActionID:   a.ID,
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orDefault(account string) string {
	if account == "" {
		return "default"
	}
	return account
}

// splitAddrs splits a comma or semicolon separated address list.
func splitAddrs(s string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
