package session

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/overseer-dev/overseer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterHarnessMarksConnected(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())

	h, err := e.RegisterHarness(ctx, "harn_1", []string{"go", "python"})
	require.NoError(t, err)
	assert.True(t, h.Connected)

	list, err := e.ListHarnesses(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStartSessionRejectsSecondActiveSession(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	_, err := e.RegisterHarness(ctx, "harn_1", nil)
	require.NoError(t, err)

	_, err = e.StartSession(ctx, "task_a", "harn_1")
	require.NoError(t, err)

	_, err = e.StartSession(ctx, "task_a", "harn_1")
	assert.Error(t, err)
}

func TestHeartbeatRejectedAfterCompletion(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	_, err := e.RegisterHarness(ctx, "harn_1", nil)
	require.NoError(t, err)
	s, err := e.StartSession(ctx, "task_a", "harn_1")
	require.NoError(t, err)

	_, err = e.Complete(ctx, s.ID, types.SessionCompleted, "")
	require.NoError(t, err)

	_, err = e.Heartbeat(ctx, s.ID)
	assert.Error(t, err)
}

func TestCompleteFailedRecordsError(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	_, err := e.RegisterHarness(ctx, "harn_1", nil)
	require.NoError(t, err)
	s, err := e.StartSession(ctx, "task_a", "harn_1")
	require.NoError(t, err)

	got, err := e.Complete(ctx, s.ID, types.SessionFailed, "harness crashed")
	require.NoError(t, err)
	assert.Equal(t, "harness crashed", got.Error)
	assert.Equal(t, types.SessionFailed, got.Status)
}

func TestCompleteRequiresTerminalStatus(t *testing.T) {
	ctx := context.Background()
	e := New(memstore.New())
	_, err := e.RegisterHarness(ctx, "harn_1", nil)
	require.NoError(t, err)
	s, err := e.StartSession(ctx, "task_a", "harn_1")
	require.NoError(t, err)

	_, err = e.Complete(ctx, s.ID, types.SessionActive, "")
	assert.Error(t, err)
}
