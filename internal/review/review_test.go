package review

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateStartsInGatesPending(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	r, err := e.Create(ctx, "task_a")
	require.NoError(t, err)
	assert.Equal(t, types.ReviewGatesPending, r.Status)
}

func TestFullHappyPathToApproved(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	r, err := e.Create(ctx, "task_a")
	require.NoError(t, err)

	r, err = e.MoveToAgentPending(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewAgentPending, r.Status)

	r, err = e.MoveToHumanPending(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewHumanPending, r.Status)

	r, err = e.Approve(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewApproved, r.Status)
	assert.NotNil(t, r.HumanCompletedAt)
}

func TestApproveFromGatesPendingRejected(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	r, err := e.Create(ctx, "task_a")
	require.NoError(t, err)

	_, err = e.Approve(ctx, r.ID)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidState, errs.CodeOf(err))
}

func TestChangesRequestedFreezesReview(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	r, err := e.Create(ctx, "task_a")
	require.NoError(t, err)
	r, err = e.MoveToAgentPending(ctx, r.ID)
	require.NoError(t, err)
	r, err = e.MoveToHumanPending(ctx, r.ID)
	require.NoError(t, err)

	r, err = e.RequestChanges(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, r.Status.Terminal())

	_, err = e.Approve(ctx, r.ID)
	require.Error(t, err)
}

func TestEscalationThenHumanOverride(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	r, err := e.Create(ctx, "task_a")
	require.NoError(t, err)

	r, err = e.Escalate(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewGatesEscalated, r.Status)

	r, err = e.MoveToHumanPending(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReviewHumanPending, r.Status)
}

func TestCommentLifecycle(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	r, err := e.Create(ctx, "task_a")
	require.NoError(t, err)

	line := 10
	c, err := e.AddComment(ctx, r.ID, "task_a", types.AuthorHuman, "main.go", &line, &line, types.SideRight, "fix this")
	require.NoError(t, err)
	assert.Nil(t, c.ResolvedAt)

	require.NoError(t, e.ResolveComment(ctx, c.ID))
	comments, err := e.ListComments(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.NotNil(t, comments[0].ResolvedAt)
}
