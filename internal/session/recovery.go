package session

import (
	"context"

	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/store"
)

// Recover reconciles tasks left mid-run by a previous process lifetime.
// It must run once, before any command is accepted: every task still
// persisted as running or waiting is forced to interrupted, with no
// session created. Returns the number of tasks reconciled.
func Recover(ctx context.Context, st *store.Store) (int, error) {
	n, err := st.MarkInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info().Int("tasks", n).Msg("reconciled tasks interrupted by previous shutdown")
	}
	return n, nil
}
