package workdir

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/event"
)

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Validate(dir))

	assert.Error(t, Validate(""))
	assert.Error(t, Validate(filepath.Join(dir, "missing")))

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Error(t, Validate(file))
}

func TestBranch_NonGitDir(t *testing.T) {
	assert.Empty(t, Branch(t.TempDir()))
}

func TestBranch_GitRepo(t *testing.T) {
	dir := createTempGitRepo(t)
	assert.Equal(t, "main", Branch(dir))

	runGit(t, dir, "checkout", "-b", "feature")
	assert.Equal(t, "feature", Branch(dir))
}

func TestNewWatcher_NonGitDir(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	w, err := NewWatcher(bus, t.TempDir())
	assert.NoError(t, err)
	assert.Nil(t, w)
}

func TestNewWatcher_GitRepo(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	dir := createTempGitRepo(t)
	w, err := NewWatcher(bus, dir)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "main", w.CurrentBranch())
	assert.NoError(t, w.Stop())
}

func TestWatcher_StartStop(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	dir := createTempGitRepo(t)
	w, err := NewWatcher(bus, dir)
	require.NoError(t, err)
	require.NotNil(t, w)

	w.Start()
	assert.NoError(t, w.Stop())
}

func TestWatcher_BranchChangePublishes(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	dir := createTempGitRepo(t)
	w, err := NewWatcher(bus, dir)
	require.NoError(t, err)
	require.NotNil(t, w)
	defer w.Stop()

	received := make(chan event.BranchUpdatedData, 1)
	unsubscribe := bus.Subscribe(event.WorkdirBranchUpdated, func(e event.Event) {
		if data, ok := e.Data.(event.BranchUpdatedData); ok {
			select {
			case received <- data:
			default:
			}
		}
	})
	defer unsubscribe()

	runGit(t, dir, "checkout", "-b", "feature")
	w.checkBranchChange()

	select {
	case data := <-received:
		assert.Equal(t, "feature", data.Branch)
		assert.Equal(t, dir, data.Directory)
	case <-time.After(time.Second):
		t.Fatal("expected a branch update event")
	}

	assert.Equal(t, "feature", w.CurrentBranch())
}

func TestWatcher_NoChangeNoPublish(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	dir := createTempGitRepo(t)
	w, err := NewWatcher(bus, dir)
	require.NoError(t, err)
	require.NotNil(t, w)
	defer w.Stop()

	received := make(chan event.BranchUpdatedData, 1)
	unsubscribe := bus.Subscribe(event.WorkdirBranchUpdated, func(e event.Event) {
		if data, ok := e.Data.(event.BranchUpdatedData); ok {
			select {
			case received <- data:
			default:
			}
		}
	})
	defer unsubscribe()

	w.checkBranchChange()

	select {
	case <-received:
		t.Fatal("branch did not change, no event expected")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGitDir(t *testing.T) {
	dir := createTempGitRepo(t)
	gd := gitDir(dir)
	assert.True(t, filepath.IsAbs(gd))
	assert.Equal(t, ".git", filepath.Base(gd))

	assert.Empty(t, gitDir(t.TempDir()))
}

func createTempGitRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test User")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0o644))
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "initial")

	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(output))
}
