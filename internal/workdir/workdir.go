// Package workdir validates session working directories and tracks
// their git state.
package workdir

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Validate checks that dir exists and is a directory. Session starts
// treat a failure here as a hard precondition violation.
func Validate(dir string) error {
	if dir == "" {
		return fmt.Errorf("working directory not set")
	}
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("working directory does not exist: %s", dir)
		}
		return fmt.Errorf("stat working directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory is not a directory: %s", dir)
	}
	return nil
}

// Branch returns the current git branch of dir, or "" when dir is not
// inside a repository or is on a detached HEAD.
func Branch(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return ""
	}
	return branch
}

// gitDir resolves the git directory governing dir, following worktree
// indirection. Empty when dir is not in a repository.
func gitDir(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	path := strings.TrimSpace(string(out))
	if path == "" {
		return ""
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return path
}
