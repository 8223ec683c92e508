package notion

import (
	"encoding/json"
	"strings"
)

type richText []struct {
	PlainText string `json:"plain_text"`
}

func (rt richText) String() string {
	var sb strings.Builder
	for _, t := range rt {
		sb.WriteString(t.PlainText)
	}
	return sb.String()
}

// rawObject decodes both pages and databases.
type rawObject struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	URL            string                     `json:"url"`
	LastEditedTime string                     `json:"last_edited_time"`
	Archived       bool                       `json:"archived"`
	Title          richText                   `json:"title"`
	Parent         map[string]any             `json:"parent"`
	Properties     map[string]json.RawMessage `json:"properties"`
}

func (o rawObject) page() Page { return o.pageTitled("Untitled") }

// pageTitled decodes the object, using fallback when it has no title.
func (o rawObject) pageTitled(fallback string) Page {
	p := Page{
		ID:         o.ID,
		Object:     o.Object,
		URL:        o.URL,
		LastEdited: o.LastEditedTime,
		Archived:   o.Archived,
	}
	if p.Object == "" {
		p.Object = "page"
	}
	if t, ok := o.Parent["type"].(string); ok {
		p.ParentType = t
		p.ParentID, _ = o.Parent[t].(string)
	}

	if o.Object == "database" {
		p.Title = o.Title.String()
	} else if len(o.Properties) > 0 {
		p.Properties = make(map[string]any, len(o.Properties))
		for name, raw := range o.Properties {
			v, isTitle := propertyValue(raw)
			p.Properties[name] = v
			if isTitle {
				p.Title, _ = v.(string)
			}
		}
	}
	if p.Title == "" {
		p.Title = fallback
	}
	return p
}

type named struct {
	Name string `json:"name"`
}

type dateProp struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// propertyValue flattens a page property to a plain Go value.
func propertyValue(raw json.RawMessage) (any, bool) {
	var prop struct {
		Type        string    `json:"type"`
		Title       richText  `json:"title"`
		RichText    richText  `json:"rich_text"`
		Number      *float64  `json:"number"`
		Checkbox    bool      `json:"checkbox"`
		URL         *string   `json:"url"`
		Email       *string   `json:"email"`
		Select      *named    `json:"select"`
		Status      *named    `json:"status"`
		MultiSelect []named   `json:"multi_select"`
		Date        *dateProp `json:"date"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return nil, false
	}

	switch prop.Type {
	case "title":
		return prop.Title.String(), true
	case "rich_text":
		return prop.RichText.String(), false
	case "number":
		if prop.Number != nil {
			return *prop.Number, false
		}
	case "checkbox":
		return prop.Checkbox, false
	case "url":
		if prop.URL != nil {
			return *prop.URL, false
		}
	case "email":
		if prop.Email != nil {
			return *prop.Email, false
		}
	case "select":
		if prop.Select != nil {
			return prop.Select.Name, false
		}
	case "status":
		if prop.Status != nil {
			return prop.Status.Name, false
		}
	case "multi_select":
		names := make([]string, 0, len(prop.MultiSelect))
		for _, s := range prop.MultiSelect {
			names = append(names, s.Name)
		}
		return names, false
	case "date":
		if prop.Date != nil {
			if prop.Date.End != "" {
				return prop.Date.Start + " - " + prop.Date.End, false
			}
			return prop.Date.Start, false
		}
	}
	return nil, false
}

type rawBlock struct {
	ID          string                     `json:"id"`
	Type        string                     `json:"type"`
	HasChildren bool                       `json:"has_children"`
	Data        map[string]json.RawMessage `json:"-"`
}

func (b *rawBlock) UnmarshalJSON(data []byte) error {
	type plain rawBlock
	if err := json.Unmarshal(data, (*plain)(b)); err != nil {
		return err
	}
	return json.Unmarshal(data, &b.Data)
}

func (b rawBlock) block() Block {
	out := Block{ID: b.ID, Type: b.Type}

	var body struct {
		RichText richText `json:"rich_text"`
		Caption  richText `json:"caption"`
		Title    string   `json:"title"`
		Checked  bool     `json:"checked"`
		Language string   `json:"language"`
		File     *struct {
			URL string `json:"url"`
		} `json:"file"`
		External *struct {
			URL string `json:"url"`
		} `json:"external"`
	}
	if raw, ok := b.Data[b.Type]; ok {
		_ = json.Unmarshal(raw, &body)
	}

	switch {
	case len(body.RichText) > 0:
		out.Text = body.RichText.String()
	case len(body.Caption) > 0:
		out.Text = body.Caption.String()
	case b.Type == "child_page" || b.Type == "child_database":
		out.Text = body.Title
	}

	switch b.Type {
	case "to_do":
		out.Checked = body.Checked
	case "code":
		out.Language = body.Language
	case "image", "file", "pdf", "video":
		if body.File != nil {
			out.URL = body.File.URL
		} else if body.External != nil {
			out.URL = body.External.URL
		}
	}
	return out
}

// BlocksToText renders blocks as Markdown-ish plain text. Children
// are indented two spaces.
func BlocksToText(blocks []Block) string {
	var lines []string
	for _, b := range blocks {
		if b.Text != "" {
			lines = append(lines, formatBlock(b))
		}
		if len(b.Children) > 0 {
			if child := BlocksToText(b.Children); child != "" {
				lines = append(lines, "  "+strings.ReplaceAll(child, "\n", "\n  "))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func formatBlock(b Block) string {
	switch {
	case strings.HasPrefix(b.Type, "heading_") && len(b.Type) == len("heading_1"):
		level := int(b.Type[len(b.Type)-1] - '0')
		return strings.Repeat("#", level) + " " + b.Text
	case b.Type == "to_do":
		if b.Checked {
			return "[x] " + b.Text
		}
		return "[ ] " + b.Text
	case b.Type == "bulleted_list_item":
		return "• " + b.Text
	case b.Type == "numbered_list_item":
		return "- " + b.Text
	case b.Type == "code":
		return "```" + b.Language + "\n" + b.Text + "\n```"
	case b.Type == "quote":
		return "> " + b.Text
	}
	return b.Text
}
