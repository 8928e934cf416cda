package llm

import (
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned by RepairJSON when the text holds no JSON value.
var ErrNoJSON = errors.New("llm: no json in completion")

// RepairJSON extracts the JSON value from a completion: markdown fences and
// surrounding prose are dropped, then cosmetic defects (trailing commas,
// single quotes, unquoted keys) are repaired. It does not validate shape.
func RepairJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimPrefix(s, "JSON")
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	s = s[start:]
	if end := strings.LastIndexAny(s, "}]"); end >= 0 {
		s = s[:end+1]
	}
	return jsonrepair.JSONRepair(s)
}
