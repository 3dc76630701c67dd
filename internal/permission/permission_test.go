package permission

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/pkg/types"
)

func TestDerivePatterns_Bash(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{
			name:    "simple command",
			command: "ls -la",
			want:    []string{"Bash(ls:*)"},
		},
		{
			name:    "subcommand",
			command: "git commit -m 'fix'",
			want:    []string{"Bash(git commit:*)"},
		},
		{
			name:    "pipeline",
			command: "cat go.mod | grep require",
			want:    []string{"Bash(cat:*)", "Bash(grep:*)"},
		},
		{
			name:    "and list with duplicate",
			command: "git add . && git add -A",
			want:    []string{"Bash(git add:*)"},
		},
		{
			name:    "dynamic subcommand falls back to command",
			command: "git $ACTION",
			want:    []string{"Bash(git:*)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := json.Marshal(map[string]string{"command": tt.command})
			require.NoError(t, err)
			assert.Equal(t, tt.want, DerivePatterns("Bash", input))
		})
	}
}

func TestDerivePatterns_BashUnparseable(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"command": "if then fi (("})
	assert.Equal(t, []string{"Bash"}, DerivePatterns("Bash", input))
}

func TestDerivePatterns_TargetedTool(t *testing.T) {
	input, _ := json.Marshal(map[string]string{"file_path": "/tmp/a.go"})
	assert.Equal(t, []string{"Edit(/tmp/a.go)"}, DerivePatterns("Edit", input))

	input, _ = json.Marshal(map[string]string{"url": "https://example.com"})
	assert.Equal(t, []string{"WebFetch(https://example.com)"}, DerivePatterns("WebFetch", input))
}

func TestDerivePatterns_BareTool(t *testing.T) {
	assert.Equal(t, []string{"Glob"}, DerivePatterns("Glob", json.RawMessage(`{"limit":5}`)))
	assert.Equal(t, []string{"Read"}, DerivePatterns("Read", nil))
}

func TestStore_GrantProjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore()

	require.NoError(t, store.Grant(types.GrantProject, dir, []string{"Bash(git status:*)"}))
	require.NoError(t, store.Grant(types.GrantProject, dir, []string{"Bash(git status:*)", "Read"}))

	assert.Equal(t, []string{"Bash(git status:*)", "Read"}, store.Granted(dir))

	// File is well-formed JSON on disk.
	data, err := os.ReadFile(filepath.Join(dir, ".taskdeck", "permissions.json"))
	require.NoError(t, err)
	var g grantSet
	require.NoError(t, json.Unmarshal(data, &g))
	assert.Len(t, g.Allow, 2)
}

func TestStore_GrantedToleratesComments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".taskdeck"), 0o755))
	content := `{
  // hand-added grant
  "allow": ["Bash(make:*)",],
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".taskdeck", "permissions.json"), []byte(content), 0o644))

	assert.Equal(t, []string{"Bash(make:*)"}, NewStore().Granted(dir))
}

func TestStore_GrantedEmptyWhenNoFile(t *testing.T) {
	assert.Empty(t, NewStore().Granted(t.TempDir()))
}

func TestStore_WorktreesScopeOutsideGit(t *testing.T) {
	// Outside a repository the worktree scope degrades to the project
	// file, keeping the grant rather than losing it.
	dir := t.TempDir()
	store := NewStore()

	require.NoError(t, store.Grant(types.GrantWorktrees, dir, []string{"Write"}))
	assert.Equal(t, []string{"Write"}, store.Granted(dir))
}

func TestStore_GrantRejectsNonPersistableScopes(t *testing.T) {
	store := NewStore()
	assert.Error(t, store.Grant(types.GrantOnce, t.TempDir(), []string{"Read"}))
	assert.Error(t, store.Grant(types.GrantSession, t.TempDir(), []string{"Read"}))
}

func TestMergePatterns(t *testing.T) {
	assert.Equal(t,
		[]string{"a", "b", "c"},
		mergePatterns([]string{"a", "b"}, []string{"b", "c", ""}))
	assert.Empty(t, mergePatterns(nil, nil))
}
