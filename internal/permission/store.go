package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/taskdeck/taskdeck/pkg/types"
)

const (
	grantDir  = ".taskdeck"
	grantFile = "permissions.json"
)

// grantSet is the on-disk shape of a project's persisted grants. The
// worktrees list lives only in the main repository's file and is shared
// by all linked worktrees.
type grantSet struct {
	Allow     []string `json:"allow"`
	Worktrees []string `json:"worktrees,omitempty"`
}

// Store persists elevated permission grants to per-project files and
// answers the union of grants that apply to a directory. Session-scoped
// grants never reach disk; they live on the task row.
type Store struct {
	mu sync.Mutex
}

// NewStore creates a grant store.
func NewStore() *Store {
	return &Store{}
}

// Grant persists patterns at the given scope for the project containing
// dir. Project scope writes to the directory's own grant file; worktree
// scope writes to the main repository's file so every linked worktree
// inherits it.
func (s *Store) Grant(scope types.GrantScope, dir string, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch scope {
	case types.GrantProject:
		return s.update(dir, func(g *grantSet) {
			g.Allow = mergePatterns(g.Allow, patterns)
		})
	case types.GrantWorktrees:
		return s.update(mainWorktreeRoot(dir), func(g *grantSet) {
			g.Worktrees = mergePatterns(g.Worktrees, patterns)
		})
	default:
		return fmt.Errorf("scope %q is not persistable", scope)
	}
}

// Granted returns every persisted pattern that applies to dir: its own
// project grants plus the worktree-shared grants of its main repository.
func (s *Store) Granted(dir string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var patterns []string

	if g, err := s.load(dir); err == nil {
		patterns = mergePatterns(patterns, g.Allow)
	}

	root := mainWorktreeRoot(dir)
	if g, err := s.load(root); err == nil {
		patterns = mergePatterns(patterns, g.Worktrees)
		if root != dir {
			patterns = mergePatterns(patterns, g.Allow)
		}
	}

	return patterns
}

func (s *Store) update(dir string, apply func(*grantSet)) error {
	g, err := s.load(dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	apply(&g)

	path := filepath.Join(dir, grantDir, grantFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create grant dir: %w", err)
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write grants: %w", err)
	}
	return nil
}

// load reads a directory's grant file. Comments and trailing commas are
// tolerated so hand-edited files keep working.
func (s *Store) load(dir string) (grantSet, error) {
	var g grantSet
	data, err := os.ReadFile(filepath.Join(dir, grantDir, grantFile))
	if err != nil {
		return g, err
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &g); err != nil {
		return grantSet{}, fmt.Errorf("parse grants in %s: %w", dir, err)
	}
	return g, nil
}

// mergePatterns unions b into a, preserving order and dropping
// duplicates.
func mergePatterns(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, p := range a {
		if _, dup := seen[p]; dup || p == "" {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, p := range b {
		if _, dup := seen[p]; dup || p == "" {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// mainWorktreeRoot resolves the main repository's working directory for
// dir, so worktree-scoped grants land in one shared file. Outside a git
// repository (or for the main worktree itself) it is dir.
func mainWorktreeRoot(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-common-dir")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return dir
	}

	common := strings.TrimSpace(string(out))
	if common == "" {
		return dir
	}
	if !filepath.IsAbs(common) {
		common = filepath.Join(dir, common)
	}
	if filepath.Base(common) == ".git" {
		return filepath.Dir(common)
	}
	return dir
}
