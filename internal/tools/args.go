package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hanig/hani-replica/internal/action"
)

func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

func requireString(args map[string]any, key string) (string, error) {
	v := argString(args, key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// argInt accepts JSON numbers and numeric strings.
func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func argBool(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// argStrings accepts a JSON array or a comma separated string.
func argStrings(args map[string]any, key string) []string {
	var raw []string
	switch v := args[key].(type) {
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.Split(v, ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// maxResults reads max_results, clamped to [1, 50].
func maxResults(args map[string]any, def int) int {
	n := argInt(args, "max_results", def)
	switch {
	case n < 1:
		return def
	case n > 50:
		return 50
	}
	return n
}

func truncate[T any](xs []T, n int) []T {
	if len(xs) > n {
		return xs[:n]
	}
	return xs
}

// propose parks a in the request's pending slot and returns the
// confirmation payload. An action still missing fields is parked too;
// its confirmation text is the prompt for the next field.
func propose(ctx context.Context, a *action.Action) (any, error) {
	if err := action.Propose(ctx, a); err != nil {
		return nil, err
	}
	conf := a.Confirmation()
	if !a.IsReady() {
		conf = action.Confirmation{
			Text:       a.NextPrompt(),
			ActionType: string(a.Kind),
			ActionID:   a.ID,
		}
	}
	return map[string]any{
		"requires_confirmation": true,
		"confirmation":          conf,
	}, nil
}
