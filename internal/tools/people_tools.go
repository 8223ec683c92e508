package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hanig/hani-replica/internal/contacts"
	"github.com/hanig/hani-replica/internal/email"
)

// person is the model-facing view of a contact.
type person struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Emails          []string `json:"emails,omitempty"`
	Organization    string   `json:"organization,omitempty"`
	Title           string   `json:"title,omitempty"`
	Relationship    string   `json:"relationship,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	LastInteraction string   `json:"last_interaction,omitempty"`
}

func toPerson(c *contacts.Contact) person {
	p := person{
		ID:           c.ID.String(),
		Name:         c.Name,
		Emails:       c.Facts[contacts.FactEmail],
		Relationship: c.Relationship,
		Summary:      c.Summary,
	}
	if v := c.Facts[contacts.FactOrg]; len(v) > 0 {
		p.Organization = v[0]
	}
	if v := c.Facts[contacts.FactTitle]; len(v) > 0 {
		p.Title = v[0]
	}
	if !c.LastInteraction.IsZero() {
		p.LastInteraction = c.LastInteraction.Format(time.RFC3339)
	}
	return p
}

// activity is one dated interaction with a person.
type activity struct {
	Type    string    `json:"type"`
	Date    time.Time `json:"date"`
	Title   string    `json:"title"`
	Detail  string    `json:"detail,omitempty"`
	Account string    `json:"account,omitempty"`
}

func (r *Registry) registerPeopleTools(s *Services) {
	r.Register(&Tool{
		Name:        "FindPersonTool",
		Description: "Find people in the contact directory by name, email or phone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Name or email to search for"},
			},
			"required": []string{"query"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			if s.People == nil {
				return nil, errNotConfigured("contact directory")
			}
			query, err := requireString(args, "query")
			if err != nil {
				return nil, err
			}
			found, err := s.People.Find(query, 10)
			if err != nil {
				return nil, err
			}
			people := make([]person, 0, len(found))
			for _, c := range found {
				people = append(people, toPerson(c))
			}
			return map[string]any{
				"query":        query,
				"result_count": len(people),
				"people":       people,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "GetPersonActivityTool",
		Description: "Get recent activity involving a person: emails from them and meetings with them over the last 30 days.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"person_id": map[string]any{"type": "string", "description": "Person ID from FindPersonTool, or a name or email"},
				"content_types": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string", "enum": []string{"email", "event"}},
					"description": "Restrict to these kinds of activity (default: all)",
				},
				"max_results": map[string]any{"type": "integer", "description": "Maximum number of results (default 20)"},
			},
			"required": []string{"person_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.People == nil {
				return nil, errNotConfigured("contact directory")
			}
			ref, err := requireString(args, "person_id")
			if err != nil {
				return nil, err
			}
			c, err := resolvePerson(s.People, ref)
			if err != nil {
				return nil, err
			}
			return personActivity(ctx, s, c, argStrings(args, "content_types"), maxResults(args, 20)), nil
		},
	})
}

func resolvePerson(dir Directory, ref string) (*contacts.Contact, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return dir.Get(id)
	}
	found, err := dir.Find(ref, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no person matching %q", ref)
	}
	return found[0], nil
}

// personActivity gathers emails and meetings involving c. Sources that
// fail are skipped.
func personActivity(ctx context.Context, s *Services, c *contacts.Contact, types []string, max int) map[string]any {
	want := func(t string) bool {
		if len(types) == 0 {
			return true
		}
		for _, x := range types {
			if strings.EqualFold(x, t) {
				return true
			}
		}
		return false
	}
	now := s.now()
	since := now.AddDate(0, 0, -30)
	addrs := c.Facts[contacts.FactEmail]
	var items []activity

	if want("email") && s.Mail != nil {
		for _, addr := range addrs {
			envs, err := s.Mail.Search(ctx, "", email.SearchOptions{From: addr, Since: since, Limit: max})
			if err != nil {
				continue
			}
			for _, e := range envs {
				items = append(items, activity{Type: "email", Date: e.Date, Title: e.Subject, Detail: e.From, Account: e.Account})
			}
		}
	}

	if want("event") && s.Calendar != nil && len(addrs) > 0 {
		if events, err := s.Calendar.EventsBetween(ctx, since, now.AddDate(0, 0, 14)); err == nil {
			known := make(map[string]bool, len(addrs))
			for _, a := range addrs {
				known[strings.ToLower(a)] = true
			}
			for _, e := range events {
				for _, att := range e.Attendees {
					if known[strings.ToLower(strings.TrimPrefix(att, "mailto:"))] {
						items = append(items, activity{Type: "event", Date: e.Start, Title: e.Title, Detail: e.Location})
						break
					}
				}
			}
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Date.After(items[j].Date) })
	items = truncate(items, max)
	if items == nil {
		items = []activity{}
	}
	return map[string]any{
		"person_id":      c.ID.String(),
		"name":           c.Name,
		"activity_count": len(items),
		"activity":       items,
	}
}
