package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/pkg/types"
)

// nopAdapter satisfies Adapter for registry tests.
type nopAdapter struct {
	disposed bool
}

func (a *nopAdapter) Start(context.Context, StartConfig, string) (*Handle, <-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return &Handle{SessionID: "s"}, ch, nil
}
func (a *nopAdapter) Stop(context.Context, string) error { return nil }
func (a *nopAdapter) RespondPermission(context.Context, string, string, types.PermissionResponse) error {
	return nil
}
func (a *nopAdapter) RespondQuestion(context.Context, string, string, map[string]string) error {
	return nil
}
func (a *nopAdapter) SetMode(context.Context, string, types.InteractionMode) error { return nil }
func (a *nopAdapter) SessionAllowedTools(string) []string                          { return nil }
func (a *nopAdapter) Dispose() error {
	a.disposed = true
	return nil
}

func TestRegistry_GetConstructsOnce(t *testing.T) {
	reg := NewRegistry()

	var constructed int
	reg.Register("claude", func() (Adapter, error) {
		constructed++
		return &nopAdapter{}, nil
	})

	a1, err := reg.Get("claude")
	require.NoError(t, err)
	a2, err := reg.Get("claude")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 1, constructed)
}

func TestRegistry_UnknownTag(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("mystery")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func() (Adapter, error) {
		return nil, errors.New("no binary")
	})

	_, err := reg.Get("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no binary")
}

func TestRegistry_Dispose(t *testing.T) {
	reg := NewRegistry()
	adapter := &nopAdapter{}
	reg.Register("claude", func() (Adapter, error) { return adapter, nil })

	_, err := reg.Get("claude")
	require.NoError(t, err)

	require.NoError(t, reg.Dispose())
	assert.True(t, adapter.disposed)

	// Disposed adapters are dropped; next Get reconstructs.
	a2, err := reg.Get("claude")
	require.NoError(t, err)
	assert.NotNil(t, a2)
}

func TestRegistry_Tags(t *testing.T) {
	reg := NewRegistry()
	reg.Register("claude", func() (Adapter, error) { return &nopAdapter{}, nil })
	reg.Register("codex", func() (Adapter, error) { return &nopAdapter{}, nil })

	assert.ElementsMatch(t, []string{"claude", "codex"}, reg.Tags())
}
