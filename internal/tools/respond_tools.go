package tools

import "context"

// RespondToUser is the tool the agent loop treats as a final answer.
const RespondToUser = "RespondToUserTool"

func (r *Registry) registerBriefingTool(s *Services) {
	r.Register(&Tool{
		Name:        "GetDailyBriefingTool",
		Description: "Get a daily briefing: today's calendar, unread email, open PRs and assigned issues, and overdue tasks.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			if s.Briefing == nil {
				return nil, errNotConfigured("briefing")
			}
			return s.Briefing.Build(ctx, s.now()), nil
		},
	})
}

func (r *Registry) registerRespondTool() {
	r.Register(&Tool{
		Name:        RespondToUser,
		Description: "Respond directly to the user when no other tool is needed, or to give the final answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string", "description": "The message to send to the user"},
			},
			"required": []string{"message"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			msg, err := requireString(args, "message")
			if err != nil {
				return nil, err
			}
			return map[string]any{"message": msg}, nil
		},
	})
}
