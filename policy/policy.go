// Package policy evaluates shell commands and filesystem intents against a
// configurable safety mode before the pipeline executes them.
package policy

import (
	"os"
	"regexp"
	"strings"
)

// Mode selects which confirmation defaults are active.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeBalanced Mode = "balanced"
	ModeRelaxed  Mode = "relaxed"
)

// Confirmation targets.
const (
	TargetDownload       = "download"
	TargetInstall        = "install"
	TargetDeploy         = "deploy"
	TargetWorkspaceWrite = "workspace-write"
)

// Config is the persisted policy configuration.
type Config struct {
	Enabled                bool            `json:"enabled"`
	Mode                   Mode            `json:"mode"`
	ReadOnlyWorkspace      bool            `json:"readOnlyWorkspace"`
	RequireConfirmation    map[string]bool `json:"requireConfirmation"`
	BlockedCommandPatterns []string        `json:"blockedCommandPatterns"`
	ProtectedWorkspaceRoot string          `json:"protectedWorkspaceRoot"`
}

// Default returns the balanced-mode default configuration.
func Default(workspaceRoot string) Config {
	return Normalize(Config{
		Enabled:                true,
		Mode:                   ModeBalanced,
		ProtectedWorkspaceRoot: workspaceRoot,
	})
}

// Normalize rewrites cfg into canonical form. Idempotent: unknown modes
// collapse to balanced, confirmation defaults are re-derived from the mode
// for keys the user never touched, invalid regexes are dropped.
func Normalize(cfg Config) Config {
	switch cfg.Mode {
	case ModeStrict, ModeBalanced, ModeRelaxed:
	default:
		cfg.Mode = ModeBalanced
	}

	defaults := modeDefaults(cfg.Mode)
	if cfg.RequireConfirmation == nil {
		cfg.RequireConfirmation = map[string]bool{}
	}
	merged := make(map[string]bool, 4)
	for _, target := range []string{TargetDownload, TargetInstall, TargetDeploy, TargetWorkspaceWrite} {
		if v, ok := cfg.RequireConfirmation[target]; ok {
			merged[target] = v
		} else {
			merged[target] = defaults[target]
		}
	}
	cfg.RequireConfirmation = merged

	if cfg.Mode == ModeStrict {
		cfg.ReadOnlyWorkspace = true
	}

	valid := cfg.BlockedCommandPatterns[:0]
	for _, pat := range cfg.BlockedCommandPatterns {
		if _, err := regexp.Compile(pat); err == nil {
			valid = append(valid, pat)
		}
	}
	cfg.BlockedCommandPatterns = valid
	return cfg
}

func modeDefaults(m Mode) map[string]bool {
	switch m {
	case ModeStrict:
		return map[string]bool{
			TargetDownload: true, TargetInstall: true,
			TargetDeploy: true, TargetWorkspaceWrite: true,
		}
	case ModeRelaxed:
		return map[string]bool{}
	default:
		return map[string]bool{TargetWorkspaceWrite: true}
	}
}

// Decision is the result of evaluating a command or filesystem intent.
type Decision struct {
	Allowed              bool
	RequiresConfirmation bool
	Reason               string
	ConfirmHint          string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

func confirm(reason, hint string) Decision {
	return Decision{Allowed: true, RequiresConfirmation: true, Reason: reason, ConfirmHint: hint}
}

// Builtin harmful patterns; these deny regardless of mode.
var harmfulPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*(/|/\*)(\s|$)`),
	regexp.MustCompile(`rm\s+-rf?\s+~(\s|/\s|$)`),
	regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	regexp.MustCompile(`\bdd\s+if=.*of=/dev/`),
	regexp.MustCompile(`>\s*/dev/s[dr]`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
}

var (
	installVerbRe  = regexp.MustCompile(`\b(apt(-get)?\s+install|brew\s+install|pip3?\s+install|npm\s+(i|install)|yum\s+install|dnf\s+install|go\s+install|cargo\s+install)\b`)
	downloadVerbRe = regexp.MustCompile(`\b(curl|wget|git\s+clone|scp|rsync)\b`)
	deployVerbRe   = regexp.MustCompile(`\b(deploy|kubectl\s+apply|helm\s+(install|upgrade)|terraform\s+apply|docker\s+push)\b`)
	writeVerbRe    = regexp.MustCompile(`\b(mkdir|touch|mv|cp|rm|chmod|chown|sed\s+-i|perl\s+-i|tee|truncate|dd)\b`)
	redirectRe     = regexp.MustCompile(`(>>?|\|\s*tee\b)`)
)

// Phrases that waive strict-mode confirmation when present in the
// surrounding prompt.
var allowPhrases = []string{
	"allow download", "install permitted", "deploy ok",
	"izin download", "boleh install", "deploy boleh",
}

// EvaluateCommand decides whether a shell command may run.
// Checks short-circuit on the first hit, in the order: disabled, builtin
// harmful, user blocklist, strict-mode confirmation, read-only workspace,
// per-target confirmation.
func EvaluateCommand(command, promptContext string, cfg Config) Decision {
	if !cfg.Enabled {
		return allow()
	}

	lower := strings.ToLower(command)

	for _, pat := range harmfulPatterns {
		if pat.MatchString(lower) {
			return deny("harmful command")
		}
	}

	for _, raw := range cfg.BlockedCommandPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		if re.MatchString(command) {
			return deny("blocked by pattern: " + raw)
		}
	}

	if cfg.Mode == ModeStrict {
		if (installVerbRe.MatchString(lower) || downloadVerbRe.MatchString(lower) || deployVerbRe.MatchString(lower)) &&
			!hasAllowPhrase(promptContext) {
			return confirm("strict mode requires confirmation",
				`add "allow download", "install permitted", or "deploy ok" to your prompt`)
		}
	}

	if cfg.ReadOnlyWorkspace && cfg.ProtectedWorkspaceRoot != "" {
		if (writeVerbRe.MatchString(lower) || redirectRe.MatchString(command)) &&
			touchesRoot(command, cfg.ProtectedWorkspaceRoot) {
			return deny("workspace is read-only: " + cfg.ProtectedWorkspaceRoot)
		}
	}

	for _, target := range []string{TargetInstall, TargetDownload, TargetDeploy, TargetWorkspaceWrite} {
		if !cfg.RequireConfirmation[target] {
			continue
		}
		if commandFitsTarget(lower, command, target, cfg.ProtectedWorkspaceRoot) {
			return confirm("confirmation required for "+target,
				`re-run with "confirm `+target+`" in your prompt`)
		}
	}

	return allow()
}

// FSIntentKind names a filesystem intent the pipeline can execute.
type FSIntentKind string

const (
	FSCreateFolder FSIntentKind = "create-folder"
	FSCreateFile   FSIntentKind = "create-file"
	FSWriteFile    FSIntentKind = "write-file"
)

// EvaluateFsIntent decides whether a filesystem intent may run against path.
// Mirrors the disabled, read-only, and workspace-write confirmation checks
// of EvaluateCommand.
func EvaluateFsIntent(kind FSIntentKind, path string, cfg Config) Decision {
	if !cfg.Enabled {
		return allow()
	}

	inRoot := cfg.ProtectedWorkspaceRoot != "" && pathInside(path, cfg.ProtectedWorkspaceRoot)

	if cfg.ReadOnlyWorkspace && inRoot {
		return deny("workspace is read-only, cannot " + string(kind) + ": " + cfg.ProtectedWorkspaceRoot)
	}

	if cfg.RequireConfirmation[TargetWorkspaceWrite] && inRoot {
		return confirm("confirmation required for workspace-write ("+string(kind)+")",
			`re-run with "confirm workspace-write" in your prompt`)
	}

	return allow()
}

func hasAllowPhrase(promptContext string) bool {
	lower := strings.ToLower(promptContext)
	for _, p := range allowPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func commandFitsTarget(lower, raw, target, workspaceRoot string) bool {
	switch target {
	case TargetInstall:
		return installVerbRe.MatchString(lower)
	case TargetDownload:
		return downloadVerbRe.MatchString(lower)
	case TargetDeploy:
		return deployVerbRe.MatchString(lower)
	case TargetWorkspaceWrite:
		return (writeVerbRe.MatchString(lower) || redirectRe.MatchString(raw)) &&
			workspaceRoot != "" && touchesRoot(raw, workspaceRoot)
	}
	return false
}

// touchesRoot reports whether any path-looking token of the command resolves
// inside root.
func touchesRoot(command, root string) bool {
	for _, tok := range strings.Fields(command) {
		tok = strings.Trim(tok, `"'`)
		if !strings.ContainsAny(tok, "/~") && tok != "." {
			continue
		}
		if strings.HasPrefix(tok, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				tok = home + strings.TrimPrefix(tok, "~")
			}
		}
		if pathInside(tok, root) {
			return true
		}
	}
	return false
}

func pathInside(path, root string) bool {
	path = strings.TrimSuffix(path, "/")
	root = strings.TrimSuffix(root, "/")
	return path == root || strings.HasPrefix(path, root+"/")
}
