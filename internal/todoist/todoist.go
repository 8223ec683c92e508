// Package todoist reads and writes tasks through the Todoist REST API.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hanig/hani-replica/internal/httpkit"
)

const defaultBaseURL = "https://api.todoist.com/rest/v2"

// Config holds the "todoist" YAML section.
type Config struct {
	APIToken string `yaml:"api_token"`
	BaseURL  string `yaml:"base_url"`
}

// Configured reports whether a token is set.
func (c Config) Configured() bool { return c.APIToken != "" }

// Due is a task's due date as Todoist reports it.
type Due struct {
	Date        string `json:"date"`
	String      string `json:"string,omitempty"`
	Datetime    string `json:"datetime,omitempty"`
	IsRecurring bool   `json:"is_recurring,omitempty"`
}

// Task is an active or completed task.
type Task struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	Project     string   `json:"project,omitempty"`
	Priority    int      `json:"priority"`
	Labels      []string `json:"labels,omitempty"`
	Due         *Due     `json:"due,omitempty"`
	URL         string   `json:"url,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
}

// DueText is the human form of the due date, or "".
func (t Task) DueText() string {
	if t.Due == nil {
		return ""
	}
	if t.Due.String != "" {
		return t.Due.String
	}
	return t.Due.Date
}

// Project is a Todoist project.
type Project struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsInbox bool   `json:"is_inbox_project,omitempty"`
	URL     string `json:"url,omitempty"`
}

// NewTask describes a task to create. Due is natural language
// ("tomorrow", "next monday").
type NewTask struct {
	Content     string
	Description string
	Project     string
	Due         string
	Priority    int
	Labels      []string
}

// Client talks to the Todoist API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for cfg.
func New(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(base, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithHeader("Authorization", "Bearer "+cfg.APIToken),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("todoist: encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("todoist: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("todoist: %s %s: %w", method, path, err)
	}
	return httpkit.DecodeJSON("todoist", resp, out)
}

// Projects lists all projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tasks lists active tasks, optionally restricted to a project name
// and a Todoist filter expression ("today", "overdue", "@label").
// Each task's Project is filled in.
func (c *Client) Tasks(ctx context.Context, project, filter string) ([]Task, error) {
	projects, err := c.Projects(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	if project != "" {
		p, ok := findProject(projects, project)
		if !ok {
			return nil, fmt.Errorf("todoist project %q not found", project)
		}
		q.Set("project_id", p.ID)
	}
	if filter != "" {
		q.Set("filter", filter)
	}

	var tasks []Task
	if err := c.do(ctx, http.MethodGet, "/tasks", q, nil, &tasks); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}
	for i := range tasks {
		if name, ok := names[tasks[i].ProjectID]; ok {
			tasks[i].Project = name
		} else {
			tasks[i].Project = "Inbox"
		}
	}
	return tasks, nil
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask adds a task. An unknown project name is an error; an
// empty one means the inbox.
func (c *Client) CreateTask(ctx context.Context, nt NewTask) (*Task, error) {
	if strings.TrimSpace(nt.Content) == "" {
		return nil, errors.New("task content is required")
	}
	body := map[string]any{"content": nt.Content}
	if nt.Description != "" {
		body["description"] = nt.Description
	}
	if nt.Due != "" {
		body["due_string"] = nt.Due
	}
	if nt.Priority >= 1 && nt.Priority <= 4 {
		body["priority"] = nt.Priority
	}
	if len(nt.Labels) > 0 {
		body["labels"] = nt.Labels
	}
	if nt.Project != "" {
		projects, err := c.Projects(ctx)
		if err != nil {
			return nil, err
		}
		p, ok := findProject(projects, nt.Project)
		if !ok {
			return nil, fmt.Errorf("todoist project %q not found", nt.Project)
		}
		body["project_id"] = p.ID
	}

	var t Task
	if err := c.do(ctx, http.MethodPost, "/tasks", nil, body, &t); err != nil {
		return nil, err
	}
	c.logger.Info("todoist task created", "task_id", t.ID)
	return &t, nil
}

// CompleteTask closes a task and returns its content, or "Unknown
// task" when it could not be read first.
func (c *Client) CompleteTask(ctx context.Context, id string) (string, error) {
	content := "Unknown task"
	if t, err := c.Task(ctx, id); err == nil {
		content = t.Content
	}
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/close", nil, nil, nil); err != nil {
		return "", err
	}
	c.logger.Info("todoist task completed", "task_id", id)
	return content, nil
}

func findProject(projects []Project, name string) (Project, bool) {
	for _, p := range projects {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Project{}, false
}
