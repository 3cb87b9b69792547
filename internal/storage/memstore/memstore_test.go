package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.CreateTask(ctx, &types.Task{ID: "task_a", RepoID: "repo_a", Kind: types.KindTask, Description: "d", Priority: types.PriorityNormal, Status: types.StatusPending}))
		seq, err := tx.AllocateEventSeq(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.AppendEvent(ctx, &types.Event{ID: "evt_a", Seq: seq, Type: types.EventTaskCreated, At: time.Now()}))
		return assertErr
	})
	assert.Error(t, err)

	_, err = s.GetTask(ctx, "task_a")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	events, err := s.GetEventsFromSeq(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

var assertErr = assertErrType{}

type assertErrType struct{}

func (assertErrType) Error() string { return "forced rollback" }

func TestSeqMonotonicAcrossCommits(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.RunInTransaction(ctx, func(tx storage.Tx) error {
			seq, err := tx.AllocateEventSeq(ctx)
			require.NoError(t, err)
			return tx.AppendEvent(ctx, &types.Event{ID: ids(i), Seq: seq, Type: types.EventTaskCreated, At: time.Now()})
		})
		require.NoError(t, err)
	}

	events, err := s.GetEventsFromSeq(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
	assert.Equal(t, uint64(3), events[2].Seq)
}

func ids(i int) string {
	return []string{"evt_1", "evt_2", "evt_3"}[i]
}
