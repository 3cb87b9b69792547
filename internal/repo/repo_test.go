package repo

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterGetList(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	r, err := e.Register(ctx, "/srv/myrepo", types.VcsGit, "main")
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)

	got, err := e.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "/srv/myrepo", got.Path)

	list, err := e.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUnregisterHidesFromList(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	r, err := e.Register(ctx, "/srv/myrepo", types.VcsJj, "main")
	require.NoError(t, err)

	require.NoError(t, e.Unregister(ctx, r.ID))

	list, err := e.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	got, err := e.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Unregistered)
}
