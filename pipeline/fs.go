package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"relay/policy"
)

// FsActionKind is a concrete filesystem operation the pipeline can run.
type FsActionKind string

const (
	FsCreateDir  FsActionKind = "create-dir"
	FsCreateFile FsActionKind = "create-file"
	FsAppend     FsActionKind = "append"
	FsMove       FsActionKind = "move"
	FsDelete     FsActionKind = "delete"
)

// FsAction is a parsed filesystem intent.
type FsAction struct {
	Kind    FsActionKind
	Path    string
	Dest    string // move target
	Content string // append/create payload
}

var (
	pathRe    = regexp.MustCompile(`(?:~?/[\w@%+=:,.\-]+(?:/[\w@%+=:,.\-]*)*|(?:\./|\.\./)[\w@%+=:,.\-/]+|\b[\w\-.]+\.(?:txt|md|json|yaml|yml|toml|go|py|js|ts|sh|log|csv|html|css)\b)`)
	folderRe  = regexp.MustCompile(`(?i)\b(?:folder|directory|dir)\b`)
	deleteRe  = regexp.MustCompile(`(?i)\b(?:delete|remove|hapus)\b`)
	moveRe    = regexp.MustCompile(`(?i)\b(?:move|rename|pindah)\b`)
	appendRe  = regexp.MustCompile(`(?i)\b(?:append|add)\b.*\bto\b`)
	quotedRe  = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)
	contentRe = regexp.MustCompile(`(?i)\b(?:with|containing|content|isi)\b\s+(.+)$`)
)

// ParseFsAction extracts a filesystem action from a prompt classified as
// fs-intent. Returns false when no path token is present.
func ParseFsAction(prompt string) (FsAction, bool) {
	paths := pathRe.FindAllString(prompt, 2)
	if len(paths) == 0 {
		return FsAction{}, false
	}

	action := FsAction{Path: paths[0]}
	switch {
	case moveRe.MatchString(prompt) && len(paths) >= 2:
		action.Kind = FsMove
		action.Dest = paths[1]
	case deleteRe.MatchString(prompt):
		action.Kind = FsDelete
	case appendRe.MatchString(prompt):
		action.Kind = FsAppend
		action.Content = payloadFrom(prompt)
	case folderRe.MatchString(prompt) && !strings.Contains(paths[0], "."):
		action.Kind = FsCreateDir
	default:
		action.Kind = FsCreateFile
		action.Content = payloadFrom(prompt)
	}
	return action, true
}

// payloadFrom extracts quoted or trailing "with ..." content for file writes.
func payloadFrom(prompt string) string {
	if m := quotedRe.FindStringSubmatch(prompt); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	if m := contentRe.FindStringSubmatch(prompt); m != nil {
		candidate := strings.TrimSpace(m[1])
		if !pathRe.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

func (a FsAction) policyKind() policy.FSIntentKind {
	switch a.Kind {
	case FsCreateDir:
		return policy.FSCreateFolder
	case FsCreateFile:
		return policy.FSCreateFile
	default:
		return policy.FSWriteFile
	}
}

// resolvePath expands ~ and makes relative paths absolute under base.
func resolvePath(path, base string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return filepath.Clean(path)
}

// runFsAction executes a filesystem action and returns a one-line summary.
// OS errors surface verbatim.
func runFsAction(action FsAction, base string) (string, error) {
	path := resolvePath(action.Path, base)
	switch action.Kind {
	case FsCreateDir:
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", err
		}
		return "Created folder " + path, nil

	case FsCreateFile:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(action.Content), 0o644); err != nil {
			return "", err
		}
		return "Created file " + path, nil

	case FsAppend:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return "", err
		}
		defer f.Close()
		content := action.Content
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if _, err := f.WriteString(content); err != nil {
			return "", err
		}
		return "Appended to " + path, nil

	case FsMove:
		dest := resolvePath(action.Dest, base)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", err
		}
		if err := os.Rename(path, dest); err != nil {
			return "", err
		}
		return fmt.Sprintf("Moved %s to %s", path, dest), nil

	case FsDelete:
		if err := os.RemoveAll(path); err != nil {
			return "", err
		}
		return "Deleted " + path, nil
	}
	return "", fmt.Errorf("unknown filesystem action %q", action.Kind)
}
