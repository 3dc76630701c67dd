package claude

import (
	"strings"

	"github.com/taskdeck/taskdeck/internal/backend"
	"github.com/taskdeck/taskdeck/pkg/types"
)

const defaultBinary = "claude"

// buildArgs assembles the CLI arguments for one run. The prompt itself
// is delivered over stdin in stream-json form, never as a positional
// argument, so queued follow-ups can reuse the same pipe.
func buildArgs(cfg backend.StartConfig) []string {
	args := []string{
		"-p",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	}

	if cfg.ResumeSessionID != "" && !containsNull(cfg.ResumeSessionID) {
		args = append(args, "--resume", cfg.ResumeSessionID)
	}

	if cfg.Model != "" && !containsNull(cfg.Model) {
		args = append(args, "--model", cfg.Model)
	}

	if mode := mapMode(cfg.Mode); mode != "" {
		args = append(args, "--permission-mode", mode)
	}

	if len(cfg.AllowedTools) > 0 {
		tools := make([]string, 0, len(cfg.AllowedTools))
		for _, tool := range cfg.AllowedTools {
			if tool != "" && !containsNull(tool) {
				tools = append(tools, tool)
			}
		}
		if len(tools) > 0 {
			args = append(args, "--allowedTools", strings.Join(tools, ","))
		}
	}

	return args
}

// mapMode maps an interaction mode to its CLI flag value. The default
// mode omits the flag entirely.
func mapMode(mode types.InteractionMode) string {
	switch mode {
	case types.ModeAcceptEdits:
		return "acceptEdits"
	case types.ModePlan:
		return "plan"
	case types.ModeBypass:
		return "bypassPermissions"
	}
	return ""
}

// containsNull reports whether s contains a null byte.
func containsNull(s string) bool {
	return strings.ContainsRune(s, '\x00')
}
