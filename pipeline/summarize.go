package pipeline

import "strings"

// Progress categories for runtime output lines shown in live surfaces.
const (
	CatRunningCommand = "running command"
	CatReadingFiles   = "reading files"
	CatWritingFiles   = "writing files"
	CatApplyingPatch  = "applying patch"
	CatSearchingWeb   = "searching web"
	CatPlanning       = "planning"
	CatThinking       = "thinking"
	CatError          = "error"
	CatFinalizing     = "finalizing"
)

// categoryMarkers is checked in order; first hit wins.
var categoryMarkers = []struct {
	category string
	markers  []string
}{
	{CatError, []string{"error", "failed", "fatal", "panic", "exception"}},
	{CatApplyingPatch, []string{"patch", "diff --", "applying", "+++", "---"}},
	{CatRunningCommand, []string{"$ ", "exec", "running", "spawn", "command"}},
	{CatWritingFiles, []string{"writing", "wrote", "creating file", "saved", "create mode"}},
	{CatReadingFiles, []string{"reading", "read file", "opening", "cat ", "scanning"}},
	{CatSearchingWeb, []string{"search", "fetching http", "browsing", "web"}},
	{CatPlanning, []string{"plan", "step 1", "breaking down", "todo"}},
	{CatFinalizing, []string{"finaliz", "summary", "done", "complete", "finished"}},
}

// SummarizeProgress maps a raw runtime output line to a display category.
func SummarizeProgress(line string) string {
	lower := strings.ToLower(line)
	for _, group := range categoryMarkers {
		for _, marker := range group.markers {
			if strings.Contains(lower, marker) {
				return group.category
			}
		}
	}
	return CatThinking
}
