package tools

import (
	"fmt"
	"strconv"
)

// Argument readers over schema-validated maps. Validation already rejected
// wrong types; these only normalize JSON's number/string looseness.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func argFloat(args map[string]any, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return fallback
}

// argURLs accepts either a "urls" array or a single "url" string.
func argURLs(args map[string]any) ([]string, error) {
	if raw, ok := args["urls"].([]any); ok {
		urls := make([]string, 0, len(raw))
		for _, item := range raw {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("urls entries must be non-empty strings")
			}
			urls = append(urls, s)
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("urls must not be empty")
		}
		return urls, nil
	}
	if u := argString(args, "url"); u != "" {
		return []string{u}, nil
	}
	return nil, fmt.Errorf("either url or urls is required")
}

// argSessionID converts the tool-boundary string form to the internal
// int64. Empty means no session.
func argSessionID(args map[string]any) (int64, error) {
	s := argString(args, "session_id")
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("session_id must be a positive integer string, got %q", s)
	}
	return id, nil
}
