package todo

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// planPayload tolerates both {"tasks": [...]} and a bare array, with items
// as strings or {title} objects.
type planPayload struct {
	Tasks []json.RawMessage `json:"tasks"`
}

// parsePlan extracts task titles from a model planning reply. Fenced code
// blocks are unwrapped and malformed JSON is repaired before giving up.
func parsePlan(reply string) []string {
	text := strings.TrimSpace(reply)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	items := rawTasks(text)
	if items == nil {
		if fixed, err := jsonrepair.JSONRepair(text); err == nil {
			items = rawTasks(fixed)
		}
	}

	var titles []string
	for _, raw := range items {
		if title := taskTitle(raw); title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}

func rawTasks(text string) []json.RawMessage {
	var payload planPayload
	if err := json.Unmarshal([]byte(text), &payload); err == nil && payload.Tasks != nil {
		return payload.Tasks
	}
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		return arr
	}
	return nil
}

func taskTitle(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Title)
	}
	return ""
}

// imperativeSplitRe breaks an objective on connective words between steps.
var imperativeSplitRe = regexp.MustCompile(`(?i)\s*(?:,\s*(?:then|and)\s+|\s+then\s+|\s+and\s+|;\s*)`)

// fallbackPlan splits the objective deterministically when the model plan
// is unusable.
func fallbackPlan(objective string) []string {
	parts := imperativeSplitRe.Split(strings.TrimSpace(objective), -1)
	var tasks []string
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(p, ".,;"))
		if p != "" {
			tasks = append(tasks, p)
		}
	}
	if len(tasks) == 0 {
		return []string{strings.TrimSpace(objective)}
	}
	return tasks
}
