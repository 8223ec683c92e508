package tools

import (
	"context"

	"github.com/hanig/hani-replica/internal/todoist"
)

// task is the model-facing view of a Todoist task.
type task struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Project  string   `json:"project"`
	Due      string   `json:"due,omitempty"`
	Priority int      `json:"priority"`
	Labels   []string `json:"labels,omitempty"`
	URL      string   `json:"url,omitempty"`
}

func (r *Registry) registerTodoistTools(s *Services) {
	r.Register(&Tool{
		Name:        "ListTodoistTasksTool",
		Description: "List active Todoist tasks, optionally filtered by project or a Todoist filter such as 'today' or 'overdue'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project": map[string]any{"type": "string", "description": "Project name (optional)"},
				"filter":  map[string]any{"type": "string", "description": "Todoist filter: 'today', 'overdue', 'p1', '@label' (optional)"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Todoist == nil {
				return nil, errNotConfigured("Todoist")
			}
			tasks, err := s.Todoist.Tasks(ctx, argString(args, "project"), argString(args, "filter"))
			if err != nil {
				return nil, err
			}
			out := make([]task, 0, len(tasks))
			for _, t := range tasks {
				out = append(out, task{
					ID:       t.ID,
					Content:  t.Content,
					Project:  t.Project,
					Due:      t.DueText(),
					Priority: t.Priority,
					Labels:   t.Labels,
					URL:      t.URL,
				})
			}
			return map[string]any{
				"task_count": len(out),
				"tasks":      out,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "CreateTodoistTaskTool",
		Description: "Create a Todoist task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":     map[string]any{"type": "string", "description": "Task title"},
				"description": map[string]any{"type": "string", "description": "Longer description (optional)"},
				"project":     map[string]any{"type": "string", "description": "Project name (default: Inbox)"},
				"due":         map[string]any{"type": "string", "description": "Natural language due date, e.g. 'tomorrow 5pm' (optional)"},
				"priority":    map[string]any{"type": "integer", "description": "Priority 1 (normal) to 4 (urgent)"},
				"labels":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Labels (optional)"},
			},
			"required": []string{"content"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Todoist == nil {
				return nil, errNotConfigured("Todoist")
			}
			content, err := requireString(args, "content")
			if err != nil {
				return nil, err
			}
			t, err := s.Todoist.CreateTask(ctx, todoist.NewTask{
				Content:     content,
				Description: argString(args, "description"),
				Project:     argString(args, "project"),
				Due:         argString(args, "due"),
				Priority:    argInt(args, "priority", 1),
				Labels:      argStrings(args, "labels"),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"task_id": t.ID,
				"content": t.Content,
				"url":     t.URL,
				"message": "Task created: " + t.Content,
			}, nil
		},
	})

	r.Register(&Tool{
		Name:        "CompleteTodoistTaskTool",
		Description: "Mark a Todoist task as complete.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{"type": "string", "description": "Task ID from ListTodoistTasksTool"},
			},
			"required": []string{"task_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			if s.Todoist == nil {
				return nil, errNotConfigured("Todoist")
			}
			id, err := requireString(args, "task_id")
			if err != nil {
				return nil, err
			}
			content, err := s.Todoist.CompleteTask(ctx, id)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"task_id": id,
				"message": "Completed: " + content,
			}, nil
		},
	})
}
