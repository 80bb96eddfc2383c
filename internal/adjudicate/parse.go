package adjudicate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Model output is mostly clean JSON but occasionally arrives fenced or with
// surrounding prose; strip both before decoding.
var codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ParseRuling decodes the adjudicator's JSON verdict, tolerating code fences
// and leading/trailing prose.
func ParseRuling(text string) (Ruling, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Ruling{}, fmt.Errorf("empty adjudication response")
	}

	if match := codeFenceRegex.FindStringSubmatch(trimmed); len(match) == 2 {
		trimmed = strings.TrimSpace(match[1])
	}

	if !strings.HasPrefix(trimmed, "{") {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return Ruling{}, fmt.Errorf("no JSON object in adjudication response")
		}
		trimmed = trimmed[start : end+1]
	}

	var ruling Ruling
	if err := json.Unmarshal([]byte(trimmed), &ruling); err != nil {
		return Ruling{}, fmt.Errorf("decode adjudication JSON: %w", err)
	}

	switch Decision(strings.ToLower(strings.TrimSpace(string(ruling.Decision)))) {
	case DecisionNew:
		ruling.Decision = DecisionNew
	case DecisionSkip:
		ruling.Decision = DecisionSkip
	case DecisionUpdate:
		ruling.Decision = DecisionUpdate
	default:
		return Ruling{}, fmt.Errorf("unknown adjudication decision %q", ruling.Decision)
	}

	if ruling.Decision == DecisionUpdate && strings.TrimSpace(ruling.ChangeSummary) == "" {
		return Ruling{}, fmt.Errorf("update ruling is missing change_summary")
	}

	return ruling, nil
}
