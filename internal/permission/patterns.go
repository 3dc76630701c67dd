// Package permission derives allow-list patterns from tool invocations
// and persists elevated grants at project or worktree scope.
package permission

import (
	"encoding/json"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// DerivePatterns converts a tool invocation into allow-list patterns.
// Bash commands expand to one pattern per simple command in the line;
// other tools yield a single pattern, bare or targeted.
func DerivePatterns(toolName string, input json.RawMessage) []string {
	if toolName == "Bash" {
		var payload struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &payload); err == nil && payload.Command != "" {
			if patterns := deriveBashPatterns(payload.Command); len(patterns) > 0 {
				return patterns
			}
		}
		return []string{"Bash"}
	}

	if target := extractTarget(input); target != "" {
		return []string{fmt.Sprintf("%s(%s)", toolName, target)}
	}
	return []string{toolName}
}

// deriveBashPatterns parses a shell command line and returns one
// pattern per simple command, scoped to the subcommand when the command
// has one: "Bash(git commit:*)", otherwise "Bash(ls:*)".
func deriveBashPatterns(command string) []string {
	commands, err := parseBashCommands(command)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{}, len(commands))
	patterns := make([]string, 0, len(commands))
	for _, cmd := range commands {
		var pattern string
		if cmd.Subcommand != "" && !isDynamic(cmd.Subcommand) {
			pattern = fmt.Sprintf("Bash(%s %s:*)", cmd.Name, cmd.Subcommand)
		} else {
			pattern = fmt.Sprintf("Bash(%s:*)", cmd.Name)
		}
		if _, dup := seen[pattern]; dup {
			continue
		}
		seen[pattern] = struct{}{}
		patterns = append(patterns, pattern)
	}
	return patterns
}

// bashCommand is one simple command extracted from a shell line.
type bashCommand struct {
	Name       string
	Args       []string
	Subcommand string
}

// parseBashCommands walks the bash AST and collects every call
// expression, including those inside pipelines and lists.
func parseBashCommands(command string) ([]bashCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}

	var commands []bashCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := extractCall(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})
	return commands, nil
}

func extractCall(call *syntax.CallExpr) *bashCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &bashCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" || isDynamic(cmd.Name) {
		return nil
	}

	for _, arg := range call.Args[1:] {
		argStr := wordToString(arg)
		cmd.Args = append(cmd.Args, argStr)
		if cmd.Subcommand == "" && !strings.HasPrefix(argStr, "-") {
			cmd.Subcommand = argStr
		}
	}
	return cmd
}

// wordToString flattens a shell word to text. Expansions become
// placeholders so dynamic content never widens a pattern.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// isDynamic reports whether a flattened word contains expansion
// placeholders.
func isDynamic(s string) bool {
	return strings.Contains(s, "$")
}

// extractTarget pulls a representative target out of a tool input, in
// priority order of the common input keys.
func extractTarget(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"file_path", "path", "url", "pattern"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err == nil && value != "" {
			return value
		}
	}
	return ""
}
