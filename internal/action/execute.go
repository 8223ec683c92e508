package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/calendar"
	"github.com/hanig/hani-replica/internal/email"
	"github.com/hanig/hani-replica/internal/forge"
)

// EventCreator creates calendar events. Implemented by *calendar.Service.
type EventCreator interface {
	CreateEvent(ctx context.Context, account string, ne calendar.NewEvent) (*calendar.Event, error)
}

// DraftCreator stores mail drafts. Implemented by *email.Service.
type DraftCreator interface {
	CreateDraft(ctx context.Context, account string, d email.Draft) (*email.DraftResult, error)
}

// MailSender delivers mail. Implemented by *email.Service.
type MailSender interface {
	Send(ctx context.Context, account string, d email.Draft) (*email.DraftResult, error)
}

// IssueCreator opens forge issues. Implemented by *forge.Service.
type IssueCreator interface {
	CreateIssue(ctx context.Context, account, repo, title, body string, labels []string) (*forge.Issue, error)
}

// IssueCommenter comments on forge issues. Implemented by *forge.Service.
type IssueCommenter interface {
	Comment(ctx context.Context, account, repo string, number int, body string) (*forge.Comment, error)
}

// Services are the collaborators an action may call. A nil collaborator
// makes the corresponding kind fail with "not configured".
type Services struct {
	Calendar EventCreator
	Drafts   DraftCreator
	Mailer   MailSender
	Issues   IssueCreator
	Comments IssueCommenter

	// Location resolves event dates. Nil means time.Local.
	Location *time.Location
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

func (s Services) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Outcome is the result of executing an action.
type Outcome struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Payload map[string]any `json:"payload,omitempty"`
}

func failed(what string, err error) Outcome {
	return Outcome{Message: fmt.Sprintf("Failed to %s: %v", what, err)}
}

// Execute performs the action's side effect. It never returns an error;
// failures come back as an unsuccessful Outcome. Callers guarantee it
// runs at most once per action.
func (a *Action) Execute(ctx context.Context, svc Services) Outcome {
	if !a.IsReady() {
		return Outcome{Message: "Failed: missing " + a.NextField()}
	}
	switch a.Kind {
	case KindCreateEvent:
		return a.createEvent(ctx, svc)
	case KindCreateDraft:
		return a.createDraft(ctx, svc)
	case KindSendEmail:
		return a.sendEmail(ctx, svc)
	case KindCreateIssue:
		return a.createIssue(ctx, svc)
	case KindCommentIssue:
		return a.commentIssue(ctx, svc)
	}
	return Outcome{Message: fmt.Sprintf("Failed: unknown action kind %q", a.Kind)}
}

func (a *Action) createEvent(ctx context.Context, svc Services) Outcome {
	if svc.Calendar == nil {
		return failed("create event", errNotConfigured("calendar"))
	}
	e := a.Event
	start, err := ResolveDateTime(e.Date, e.Time, svc.now())
	if err != nil {
		return failed("create event", err)
	}
	ev, err := svc.Calendar.CreateEvent(ctx, e.Account, calendar.NewEvent{
		Title:       e.Title,
		Start:       start,
		End:         start.Add(time.Duration(e.DurationMinutes) * time.Minute),
		Description: e.Description,
		Location:    e.Location,
		Attendees:   e.Attendees,
	})
	if err != nil {
		return failed("create event", err)
	}

	msg := fmt.Sprintf("Created event '%s' on %s at %s.", e.Title, e.Date, e.Time)
	if n := len(e.Attendees); n > 0 {
		msg += fmt.Sprintf(" Invites sent to %d attendee(s).", n)
	}
	if ev.URL != "" {
		msg += "\n" + ev.URL
	}
	return Outcome{Success: true, Message: msg, Payload: map[string]any{"event": ev}}
}

func (a *Action) draft() email.Draft {
	return email.Draft{
		To:      splitAddrs(a.Mail.To),
		Cc:      splitAddrs(a.Mail.Cc),
		Subject: a.Mail.Subject,
		Body:    a.Mail.Body,
	}
}

func (a *Action) createDraft(ctx context.Context, svc Services) Outcome {
	if svc.Drafts == nil {
		return failed("create draft", errNotConfigured("email"))
	}
	res, err := svc.Drafts.CreateDraft(ctx, a.Mail.Account, a.draft())
	if err != nil {
		return failed("create draft", err)
	}
	id := res.MessageID
	if id == "" {
		id = strconv.FormatUint(uint64(res.UID), 10)
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Created draft (ID: %s) in %s. Open your mail client to review and send.", id, res.Account),
		Payload: map[string]any{"draft": res, "draft_id": id},
	}
}

func (a *Action) sendEmail(ctx context.Context, svc Services) Outcome {
	if svc.Mailer == nil {
		return failed("send email", errNotConfigured("email"))
	}
	res, err := svc.Mailer.Send(ctx, a.Mail.Account, a.draft())
	if err != nil {
		return failed("send email", err)
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Email sent to %s from %s account.", a.Mail.To, res.Account),
		Payload: map[string]any{"message_id": res.MessageID, "account": res.Account},
	}
}

func (a *Action) createIssue(ctx context.Context, svc Services) Outcome {
	if svc.Issues == nil {
		return failed("create issue", errNotConfigured("forge"))
	}
	i := a.Issue
	issue, err := svc.Issues.CreateIssue(ctx, i.Account, i.Repo, i.Title, i.Body, i.Labels)
	if err != nil {
		return failed("create issue", err)
	}
	return Outcome{
		Success: true,
		Message: "Issue created: " + issue.URL,
		Payload: map[string]any{"issue_number": issue.Number, "url": issue.URL, "title": issue.Title},
	}
}

func (a *Action) commentIssue(ctx context.Context, svc Services) Outcome {
	if svc.Comments == nil {
		return failed("add comment", errNotConfigured("forge"))
	}
	c := a.Comment
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(c.Number), "#"))
	if err != nil || n <= 0 {
		return failed("add comment", fmt.Errorf("invalid issue number %q", c.Number))
	}
	comment, err := svc.Comments.Comment(ctx, c.Account, c.Repo, n, c.Body)
	if err != nil {
		return failed("add comment", err)
	}
	return Outcome{
		Success: true,
		Message: "Comment added: " + comment.URL,
		Payload: map[string]any{"comment_id": comment.ID, "url": comment.URL, "issue_number": n},
	}
}

func errNotConfigured(what string) error {
	return fmt.Errorf("%s is not configured", what)
}
