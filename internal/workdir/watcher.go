package workdir

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
)

// Watcher monitors .git/HEAD of a working directory and publishes a
// branch update whenever the checked-out branch changes.
type Watcher struct {
	watcher       *fsnotify.Watcher
	bus           *event.Bus
	workDir       string
	stopCh        chan struct{}
	doneCh        chan struct{}
	started       bool
	mu            sync.RWMutex
	currentBranch string
}

// NewWatcher creates a branch watcher for dir. Returns nil without
// error when dir is not a git repository.
func NewWatcher(bus *event.Bus, dir string) (*Watcher, error) {
	gd := gitDir(dir)
	if gd == "" {
		logging.Debug().Str("dir", dir).Msg("not a git repository, branch watcher disabled")
		return nil, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the git directory rather than HEAD itself; editors and git
	// replace the file, which breaks per-file watches.
	if err := fw.Add(gd); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		watcher:       fw,
		bus:           bus,
		workDir:       dir,
		currentBranch: Branch(dir),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins watching. Idempotent.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 && strings.HasSuffix(ev.Name, "HEAD") {
				w.checkBranchChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Str("dir", w.workDir).Msg("branch watcher error")
		}
	}
}

func (w *Watcher) checkBranchChange() {
	newBranch := Branch(w.workDir)

	w.mu.Lock()
	changed := newBranch != w.currentBranch && newBranch != ""
	if changed {
		w.currentBranch = newBranch
	}
	w.mu.Unlock()

	if changed {
		logging.Info().Str("dir", w.workDir).Str("branch", newBranch).Msg("branch changed")
		w.bus.Publish(event.Event{
			Type: event.WorkdirBranchUpdated,
			Data: event.BranchUpdatedData{Directory: w.workDir, Branch: newBranch},
		})
	}
}

// CurrentBranch returns the last observed branch name.
func (w *Watcher) CurrentBranch() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.currentBranch
}

// Stop halts the watcher and releases its fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}
