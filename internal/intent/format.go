package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/briefing"
)

// maxListed caps the items rendered in one reply.
const maxListed = 10

// format renders a tool's data for the user. Tool outputs are maps of
// concrete types; they are reshaped through JSON so the formatter only
// depends on the wire field names.
func format(intentName string, data any) string {
	if br, ok := data.(briefing.Briefing); ok {
		return briefing.Format(br)
	}

	switch intentName {
	case CalendarCheck:
		var v struct {
			Date   string `json:"date"`
			Events []struct {
				Title    string    `json:"title"`
				Location string    `json:"location"`
				Start    time.Time `json:"start"`
				End      time.Time `json:"end"`
				AllDay   bool      `json:"all_day"`
			} `json:"events"`
		}
		reshape(data, &v)
		if len(v.Events) == 0 {
			return fmt.Sprintf("No events on %s.", v.Date)
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "*Events on %s:*\n", v.Date)
		for _, e := range v.Events {
			when := "All day"
			if !e.AllDay {
				when = e.Start.Format("15:04") + "-" + e.End.Format("15:04")
			}
			fmt.Fprintf(&sb, "- %s  %s", when, e.Title)
			if e.Location != "" {
				fmt.Fprintf(&sb, " (%s)", e.Location)
			}
			sb.WriteByte('\n')
		}
		return strings.TrimRight(sb.String(), "\n")

	case CalendarAvailability:
		var v struct {
			Date  string `json:"date"`
			Slots []struct {
				Start           time.Time `json:"start"`
				End             time.Time `json:"end"`
				DurationMinutes int       `json:"duration_minutes"`
			} `json:"free_slots"`
		}
		reshape(data, &v)
		if len(v.Slots) == 0 {
			return fmt.Sprintf("No free slots on %s.", v.Date)
		}
		lines := []string{fmt.Sprintf("*Free on %s:*", v.Date)}
		for _, s := range v.Slots {
			lines = append(lines, fmt.Sprintf("- %s-%s (%d min)", s.Start.Format("15:04"), s.End.Format("15:04"), s.DurationMinutes))
		}
		return strings.Join(lines, "\n")

	case EmailSearch:
		var v struct {
			Emails []struct {
				From    string    `json:"from"`
				Subject string    `json:"subject"`
				Date    time.Time `json:"date"`
				Unread  bool      `json:"unread"`
			} `json:"emails"`
		}
		reshape(data, &v)
		if len(v.Emails) == 0 {
			return "No matching emails found."
		}
		lines := []string{fmt.Sprintf("*Found %d emails:*", len(v.Emails))}
		for i, e := range v.Emails {
			if i == maxListed {
				lines = append(lines, fmt.Sprintf("_...and %d more_", len(v.Emails)-maxListed))
				break
			}
			mark := ""
			if e.Unread {
				mark = "* "
			}
			lines = append(lines, fmt.Sprintf("- %s%s from %s (%s)", mark, orDefault(e.Subject, "(no subject)"), e.From, e.Date.Format("Jan 2")))
		}
		return strings.Join(lines, "\n")

	case GitHubPRs, GitHubIssues, GitHubSearch:
		var v struct {
			PRs     []forgeItem `json:"pull_requests"`
			Issues  []forgeItem `json:"issues"`
			Results []forgeItem `json:"results"`
		}
		reshape(data, &v)
		items, label := v.Results, "results"
		switch intentName {
		case GitHubPRs:
			items, label = v.PRs, "pull requests"
		case GitHubIssues:
			items, label = v.Issues, "issues"
		}
		if len(items) == 0 {
			return "No " + label + " found."
		}
		lines := []string{fmt.Sprintf("*%d %s:*", len(items), label)}
		for i, it := range items {
			if i == maxListed {
				break
			}
			lines = append(lines, "- "+it.line())
		}
		return strings.Join(lines, "\n")

	case PersonLookup:
		var v struct {
			People []struct {
				Name         string   `json:"name"`
				Emails       []string `json:"emails"`
				Organization string   `json:"organization"`
				Title        string   `json:"title"`
			} `json:"people"`
		}
		reshape(data, &v)
		if len(v.People) == 0 {
			return "I couldn't find anyone matching that."
		}
		lines := make([]string, 0, len(v.People))
		for _, p := range v.People {
			line := "- *" + p.Name + "*"
			if len(p.Emails) > 0 {
				line += " " + strings.Join(p.Emails, ", ")
			}
			if role := strings.TrimSpace(p.Title + " " + atOrg(p.Organization)); role != "" {
				line += " (" + role + ")"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case PersonActivity:
		var v struct {
			Name     string `json:"name"`
			Activity []struct {
				Type  string    `json:"type"`
				Date  time.Time `json:"date"`
				Title string    `json:"title"`
			} `json:"activity"`
		}
		reshape(data, &v)
		if len(v.Activity) == 0 {
			return fmt.Sprintf("No recent activity with %s.", v.Name)
		}
		lines := []string{fmt.Sprintf("*Recent activity with %s:*", v.Name)}
		for i, a := range v.Activity {
			if i == maxListed {
				break
			}
			lines = append(lines, fmt.Sprintf("- %s %s: %s", a.Date.Format("Jan 2"), a.Type, a.Title))
		}
		return strings.Join(lines, "\n")

	case SemanticSearch, NotionSearch:
		var v struct {
			Results []struct {
				Source  string `json:"source"`
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
				URL     string `json:"url"`
			} `json:"results"`
		}
		reshape(data, &v)
		if len(v.Results) == 0 {
			return "No results found."
		}
		lines := []string{fmt.Sprintf("*Found %d results:*", len(v.Results))}
		for i, r := range v.Results {
			if i == maxListed {
				break
			}
			line := "- " + r.Title
			if r.Source != "" {
				line = "- [" + r.Source + "] " + r.Title
			}
			if r.URL != "" {
				line += " <" + r.URL + ">"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")

	case TasksList:
		var v struct {
			Tasks []struct {
				Content string `json:"content"`
				Due     string `json:"due"`
			} `json:"tasks"`
		}
		reshape(data, &v)
		if len(v.Tasks) == 0 {
			return "No open tasks."
		}
		lines := []string{fmt.Sprintf("*%d open tasks:*", len(v.Tasks))}
		for i, t := range v.Tasks {
			if i == maxListed {
				break
			}
			line := "- " + t.Content
			if t.Due != "" {
				line += " (due " + t.Due + ")"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}

	// Tools that report their own outcome.
	if m, ok := data.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	b, _ := json.MarshalIndent(data, "", "  ")
	return string(b)
}

type forgeItem struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Repo   string `json:"repo"`
	Path   string `json:"path"`
	URL    string `json:"url"`
}

func (f forgeItem) line() string {
	if f.Path != "" {
		return fmt.Sprintf("%s: %s", f.Repo, f.Path)
	}
	return fmt.Sprintf("%s#%d %s", f.Repo, f.Number, f.Title)
}

func atOrg(org string) string {
	if org == "" {
		return ""
	}
	return "at " + org
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func reshape(data, into any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, into)
}
