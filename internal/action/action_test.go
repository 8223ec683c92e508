package action

import (
	"strings"
	"testing"
)

func TestDraftCollection(t *testing.T) {
	a := NewCreateDraft(Mail{})

	steps := []struct {
		input      string
		wantPrompt string
	}{
		{"", "Who should I address this email to? (email address)"},
		{"jane@x.com", "What should the subject line be?"},
		{"Lunch", "What should the email say?"},
		{"Are you free Thursday?", ""},
	}
	for i, s := range steps {
		a.UpdateFromInput(s.input)
		if got := a.NextPrompt(); got != s.wantPrompt {
			t.Fatalf("step %d: NextPrompt() = %q, want %q", i, got, s.wantPrompt)
		}
	}

	if !a.IsReady() {
		t.Fatal("draft should be ready after three fields")
	}
	if a.Mail.To != "jane@x.com" || a.Mail.Subject != "Lunch" || a.Mail.Body != "Are you free Thursday?" {
		t.Errorf("fields = %+v", a.Mail)
	}

	// Further input must not overwrite collected fields.
	a.UpdateFromInput("extra")
	if a.Mail.Body != "Are you free Thursday?" {
		t.Errorf("body overwritten: %q", a.Mail.Body)
	}
}

func TestIsReadyIdempotent(t *testing.T) {
	actions := []*Action{
		NewCreateEvent(Event{Title: "Standup"}),
		NewCreateDraft(Mail{To: "a@b.c", Subject: "s", Body: "b"}),
		NewSendEmail(Mail{}),
		NewCreateIssue(Issue{Repo: "o/r"}),
		NewCommentIssue(Comment{Repo: "o/r", Number: "4", Body: "lgtm"}),
	}
	for _, a := range actions {
		first := a.IsReady()
		for i := 0; i < 5; i++ {
			if a.IsReady() != first {
				t.Fatalf("%s: IsReady changed without input", a.Kind)
			}
		}
	}
}

func TestSubjectHintPrompt(t *testing.T) {
	a := NewCreateDraft(Mail{To: "a@b.c", SubjectHint: "Project update"})
	want := "What should the subject line be? (suggested: 'Project update')"
	if got := a.NextPrompt(); got != want {
		t.Errorf("NextPrompt() = %q, want %q", got, want)
	}
}

func TestEventDefaultsAndFields(t *testing.T) {
	a := NewCreateEvent(Event{})
	if a.Event.DurationMinutes != 60 {
		t.Errorf("DurationMinutes = %d, want 60", a.Event.DurationMinutes)
	}
	for _, in := range []string{"Dentist", "tomorrow", "2pm"} {
		if a.IsReady() {
			t.Fatalf("ready before %q", in)
		}
		a.UpdateFromInput(in)
	}
	if !a.IsReady() || a.NextField() != "" {
		t.Errorf("event not ready: %+v", a.Event)
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name   string
		action *Action
		want   []string
		absent []string
	}{
		{
			name:   "draft",
			action: NewCreateDraft(Mail{To: "jane@x.com", Subject: "Hi", Body: strings.Repeat("x", 400), Account: "work"}),
			want:   []string{"*To:* jane@x.com", "*Subject:* Hi", "*Account:* work", "...", "NOT be sent"},
		},
		{
			name:   "send",
			action: NewSendEmail(Mail{To: "jane@x.com", Subject: "Hi", Body: "b"}),
			want:   []string{"sent immediately", "*Account:* default"},
			absent: []string{"NOT be sent"},
		},
		{
			name: "event",
			action: NewCreateEvent(Event{
				Title: "Review", Date: "friday", Time: "3pm", DurationMinutes: 30,
				Attendees: []string{"a@x.com", "b@x.com"}, Location: "Room 1",
			}),
			want: []string{"*Event:* Review", "*When:* friday at 3pm (30 min)", "*Location:* Room 1", "a@x.com, b@x.com", "invites"},
		},
		{
			name:   "event default duration",
			action: NewCreateEvent(Event{Title: "Lunch", Date: "today", Time: "noon"}),
			absent: []string{"min)", "Attendees"},
		},
		{
			name:   "issue",
			action: NewCreateIssue(Issue{Repo: "o/r", Title: "Bug", Labels: []string{"bug"}}),
			want:   []string{"*Repository:* o/r", "*Title:* Bug", "*Labels:* bug"},
		},
		{
			name:   "comment",
			action: NewCommentIssue(Comment{Repo: "o/r", Number: "#12", Body: "Fixed"}),
			want:   []string{"*Issue:* o/r#12", "Fixed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.action.Preview()
			for _, w := range tt.want {
				if !strings.Contains(p, w) {
					t.Errorf("preview missing %q:\n%s", w, p)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(p, a) {
					t.Errorf("preview should not contain %q:\n%s", a, p)
				}
			}
		})
	}
}

func TestConfirmation(t *testing.T) {
	a := NewCreateIssue(Issue{Repo: "o/r", Title: "Bug"})
	a.Warning = "Note: new recipient"
	c := a.Confirmation()
	if c.ActionID != a.ID || c.ActionType != "create_issue" {
		t.Errorf("confirmation = %+v", c)
	}
	if !strings.HasPrefix(c.Text, "Please confirm: Create GitHub Issue") {
		t.Errorf("Text = %q", c.Text)
	}
	if !strings.Contains(c.Preview, "Note: new recipient") {
		t.Errorf("warning missing from preview: %q", c.Preview)
	}
}

func TestSplitAddrs(t *testing.T) {
	got := splitAddrs(" a@x.com, b@x.com;c@x.com ,, ")
	if strings.Join(got, "|") != "a@x.com|b@x.com|c@x.com" {
		t.Errorf("splitAddrs = %v", got)
	}
}
